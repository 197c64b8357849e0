//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package procfs is the process-listing interface of spec.md §6: reading
// a process's argv from /proc/<pid>/cmdline and discovering the target
// build daemon's pids. An afero.Fs is used throughout (rather than the os
// package directly) so tests can substitute a fake /proc tree, following
// the teacher's convention (see linuxUtils/utils) of a package-level
// afero.Fs swapped out under test.
package procfs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"github.com/xddxdd/nix-ubw/internal/resolve"
)

// FS is the filesystem procfs reads through. Tests replace it with an
// afero.MemMapFs populated with fake /proc/<pid>/cmdline entries.
var FS afero.Fs = afero.NewOsFs()

// ReadCmdline reads /proc/<pid>/cmdline, splits on NUL, drops the empty
// trailing token and resolves argv[0] to its canonical basename. It
// returns ok=false if the file is missing or unreadable (the process has
// likely already exited); callers must treat that as "not throttled".
func ReadCmdline(pid int) (argv []string, ok bool) {
	f, err := FS.Open("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false
	}

	data = bytes.TrimSuffix(data, []byte{0})
	if len(data) > 0 {
		for _, p := range bytes.Split(data, []byte{0}) {
			argv = append(argv, string(p))
		}
	}

	if len(argv) > 0 {
		argv[0] = resolve.Basename(argv[0])
	}

	return argv, true
}

// FindTargetDaemons scans /proc for processes whose resolved argv[0]
// equals daemonName and whose argv[1] equals daemonFlag, as in
// spec.md §6. It walks through FS with afero.Walk (rather than
// godirwalk, which only ever walks the real OS filesystem) so tests can
// substitute an afero.MemMapFs the same way ReadCmdline's callers do.
func FindTargetDaemons(daemonName, daemonFlag string) ([]int, error) {
	var pids []int

	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Unreadable entry (e.g. a process that exited mid-scan):
			// skip it rather than aborting the whole scan.
			return nil
		}
		if path == "/proc" {
			return nil
		}

		// Every entry reached here is a direct child of /proc: numeric
		// entries are candidate pid directories, everything else
		// (self, net, sys, ...) is irrelevant. Either way, never
		// descend past this level.
		if !info.IsDir() {
			return nil
		}
		name := filepath.Base(path)
		pid, convErr := strconv.Atoi(name)
		if convErr != nil {
			return filepath.SkipDir
		}

		argv, ok := ReadCmdline(pid)
		if ok && len(argv) >= 2 && argv[0] == daemonName && argv[1] == daemonFlag {
			pids = append(pids, pid)
		}
		return filepath.SkipDir
	}

	if err := afero.Walk(FS, "/proc", walkFn); err != nil {
		return nil, err
	}

	return pids, nil
}
