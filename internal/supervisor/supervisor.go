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

// Package supervisor owns the ptrace event loop: it attaches to the
// target build-daemon processes, then repeatedly waits for any
// descendant's state change and drives the limiter (and each tracee's
// run/stop state) from it. All limiter state is touched only between
// WaitAny calls, so the loop needs no locking of its own.
package supervisor

import (
	"errors"
	"fmt"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/xddxdd/nix-ubw/internal/limiter"
	"github.com/xddxdd/nix-ubw/internal/procctl"
	"github.com/xddxdd/nix-ubw/internal/procfs"
)

// ErrNoDaemonAttached is returned from Attach when every seize call
// failed (typically insufficient privilege).
var ErrNoDaemonAttached = errors.New("supervisor: failed to attach to any target process")

// Supervisor is the tracing supervisor of spec.md §4.4.
type Supervisor struct {
	ctl     procctl.Controller
	limiter *limiter.Limiter
}

// New builds a Supervisor driven by ctl and admitting/queuing through lim.
func New(ctl procctl.Controller, lim *limiter.Limiter) *Supervisor {
	return &Supervisor{ctl: ctl, limiter: lim}
}

// Attach seizes every pid in targets, logging and skipping per-pid
// failures, and fails with ErrNoDaemonAttached only if none succeeded.
func (s *Supervisor) Attach(targets []int) (attached int, err error) {
	for _, pid := range targets {
		if err := s.ctl.Seize(pid, procctl.DefaultOptions()); err != nil {
			log.Warnf("[attach] failed to seize pid %d: %v (are you root?)", pid, err)
			continue
		}
		log.Infof("[attach] attached to pid %d", pid)
		attached++
	}

	if attached == 0 {
		return 0, ErrNoDaemonAttached
	}
	return attached, nil
}

// Run blocks, driving the event loop until no traced descendants remain
// or a fatal wait error occurs.
func (s *Supervisor) Run() error {
	log.Infof("tracing started")

	for {
		status, err := s.ctl.WaitAny()
		if err != nil {
			log.Errorf("[wait] fatal error: %v", err)
			return fmt.Errorf("supervisor: wait failed: %w", err)
		}

		switch status.Kind {
		case procctl.EventNoChildren:
			log.Infof("no traced processes remain, exiting")
			return nil

		case procctl.EventInterrupted:
			continue

		case procctl.EventPtrace:
			s.handlePtraceEvent(status)

		case procctl.EventSignalDelivery:
			s.handleSignalDelivery(status)

		case procctl.EventExited:
			log.Infof("[exit] pid %d exited with code %d", status.Pid, status.ExitCode)
			s.limiter.OnExit(status.Pid)

		case procctl.EventSignaled:
			log.Infof("[exit] pid %d killed by %v", status.Pid, status.Signal)
			s.limiter.OnExit(status.Pid)

		default:
			log.Warnf("[wait] unrecognized status kind %v for pid %d", status.Kind, status.Pid)
		}
	}
}

// resume continues pid, forwarding sig (0 for none). A failed continue is
// a benign race with the tracee already having exited: it is logged and
// the pid is scrubbed from the limiter so no admitted slot leaks.
func (s *Supervisor) resume(pid int, sig syscall.Signal) {
	if err := s.ctl.Cont(pid, sig); err != nil {
		log.Warnf("[cont] failed to continue pid %d: %v", pid, err)
		s.limiter.OnExit(pid)
	}
}

func (s *Supervisor) handlePtraceEvent(status procctl.Status) {
	switch status.Event {
	case procctl.EventFork, procctl.EventVFork, procctl.EventClone:
		s.handleForkEvent(status.Pid)

	case procctl.EventExec:
		s.handleExecEvent(status.Pid)

	default:
		// PTRACE_EVENT_STOP and anything unrecognized: no classification
		// to do, just let the tracee continue.
		log.Debugf("[ptrace] pid %d unhandled event %d", status.Pid, status.Event)
		s.resume(status.Pid, 0)
	}
}

func (s *Supervisor) handleForkEvent(pid int) {
	childRaw, err := s.ctl.GetEventMsg(pid)
	if err != nil {
		log.Warnf("[fork] failed to get child pid from %d: %v", pid, err)
	} else {
		child := int(childRaw)
		argv, ok := procfs.ReadCmdline(child)
		cmdline := "<unavailable>"
		if ok {
			cmdline = shellJoin(argv)
		}
		log.Infof("[fork] pid %d -> pid %d: %s", pid, child, cmdline)
		// The kernel has already applied inherit-on-fork of the trace
		// options; the child will report its own event-stop (likely an
		// exec) when ready. No explicit bookkeeping is needed here.
	}

	// Always resume the parent, fork-reporting tracee, even if getevent
	// failed.
	s.resume(pid, 0)
}

func (s *Supervisor) handleExecEvent(pid int) {
	argv, ok := procfs.ReadCmdline(pid)
	if !ok {
		// argv unknown: unable to classify, so this tracee must be
		// resumed unconditionally or it hangs forever.
		log.Warnf("[exec] pid %d: failed to read argv, resuming unthrottled", pid)
		s.resume(pid, 0)
		return
	}

	switch s.limiter.OnExec(pid, argv) {
	case limiter.NotThrottled:
		log.Infof("[exec] pid %d: %s", pid, shellJoin(argv))
		s.resume(pid, 0)
	case limiter.Throttled:
		// The limiter is now the sole authority on whether this tracee
		// continues: it has either already admitted (and continued) it,
		// or deliberately left it queued. The supervisor must not also
		// continue it here.
		log.Infof("[exec] pid %d: %s (throttled, %d active, %d paused)",
			pid, shellJoin(argv), s.limiter.ActiveCount(), s.limiter.PausedCount())
	}
}

func (s *Supervisor) handleSignalDelivery(status procctl.Status) {
	if status.Signal == syscall.SIGTRAP || status.Signal == syscall.SIGSTOP {
		// Supervisor-synthetic stop; swallow it.
		s.resume(status.Pid, 0)
		return
	}
	// A real signal aimed at the tracee; forward it on resume.
	s.resume(status.Pid, status.Signal)
}

func shellJoin(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
