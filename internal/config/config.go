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

// Package config builds the immutable Config the supervisor runs with:
// the CLI-or-autodetected CPU/memory budget, the daemon identity to
// attach to, and any classifier overrides loaded from an optional TOML
// file (in the style of the teacher's containerdUtils package, which
// reads its own small TOML config with the same library).
package config

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/xddxdd/nix-ubw/internal/procfs"
	"github.com/xddxdd/nix-ubw/internal/profile"
)

// Defaults applied when detection fails or a flag was not set.
const (
	DefaultTotalCPUs   = 4
	DefaultTotalMemGiB = 8
	DefaultLogLevel    = "info"
	DefaultDaemonName  = "build-daemon"
	DefaultDaemonFlag  = "--daemon"
)

// Config is the fully-resolved, immutable configuration the supervisor is
// built from.
type Config struct {
	TotalCPUs   int
	TotalMemGiB int
	LogLevel    string
	DaemonName  string
	DaemonFlag  string
	// Overrides supplements/overrides the classifier's built-in rules
	// table; it may be nil.
	Overrides map[string]profile.Profile
}

// DetectCPUs returns the host's logical core count, or DefaultTotalCPUs
// if the runtime cannot determine it.
func DetectCPUs() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return DefaultTotalCPUs
}

// DetectMemGiB reads MemTotal out of /proc/meminfo (in KiB, per the
// kernel's documented format) and returns it rounded down to whole GiB.
// It falls back to DefaultTotalMemGiB on any read or parse failure.
func DetectMemGiB() int {
	f, err := procfs.FS.Open("/proc/meminfo")
	if err != nil {
		return DefaultTotalMemGiB
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kib, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			break
		}
		return int(kib / (1024 * 1024))
	}
	return DefaultTotalMemGiB
}

// fileConfig is the optional on-disk TOML layout:
//
//	[rules]
//	mycompiler = [2, 2]
type fileConfig struct {
	Rules map[string][2]int `toml:"rules"`
}

// LoadOverrides reads classifier overrides from a TOML file at path. A
// missing file is not an error (overrides are optional); any other read
// or parse failure is returned.
func LoadOverrides(path string) (map[string]profile.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	var fc fileConfig
	if _, err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if len(fc.Rules) == 0 {
		return nil, nil
	}

	overrides := make(map[string]profile.Profile, len(fc.Rules))
	for name, cpuMem := range fc.Rules {
		overrides[name] = profile.New(cpuMem[0], cpuMem[1])
	}
	return overrides, nil
}
