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

package procctl

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Ptrace is the real Controller, backed by PTRACE_SEIZE / PTRACE_CONT /
// PTRACE_GETEVENTMSG and a wait4(2) loop that targets every descendant
// regardless of thread group (__WALL), in the style of the pidfd
// package's thin raw-syscall wrappers.
type Ptrace struct{}

func optsToFlags(o Options) int {
	flags := 0
	if o.TraceFork {
		flags |= unix.PTRACE_O_TRACEFORK
	}
	if o.TraceVFork {
		flags |= unix.PTRACE_O_TRACEVFORK
	}
	if o.TraceClone {
		flags |= unix.PTRACE_O_TRACECLONE
	}
	if o.TraceExec {
		flags |= unix.PTRACE_O_TRACEEXEC
	}
	return flags
}

func (Ptrace) Seize(pid int, opts Options) error {
	return unix.PtraceSeize(pid, optsToFlags(opts))
}

func (Ptrace) Cont(pid int, sig syscall.Signal) error {
	return unix.PtraceCont(pid, int(sig))
}

func (Ptrace) GetEventMsg(pid int) (uint, error) {
	return unix.PtraceGetEventMsg(pid)
}

func (Ptrace) WaitAny() (Status, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(-1, &ws, unix.WALL, nil)
	if err != nil {
		switch err {
		case unix.ECHILD:
			return Status{Kind: EventNoChildren}, nil
		case unix.EINTR:
			return Status{Kind: EventInterrupted}, nil
		default:
			return Status{}, err
		}
	}

	switch {
	case ws.Exited():
		return Status{Kind: EventExited, Pid: wpid, ExitCode: ws.ExitStatus()}, nil

	case ws.Signaled():
		return Status{Kind: EventSignaled, Pid: wpid, Signal: ws.Signal()}, nil

	case ws.Stopped():
		sig := ws.StopSignal()
		if sig == unix.SIGTRAP && ws.TrapCause() != -1 {
			return Status{Kind: EventPtrace, Pid: wpid, Event: ws.TrapCause()}, nil
		}
		return Status{Kind: EventSignalDelivery, Pid: wpid, Signal: sig}, nil

	default:
		// PTRACE_EVENT_STOP and group-stops surface here on some kernels;
		// treat as an unlabeled ptrace event so the caller resumes it.
		return Status{Kind: EventPtrace, Pid: wpid, Event: -1}, nil
	}
}

// Ptrace event codes the supervisor dispatches on, re-exported here so
// callers don't need a direct golang.org/x/sys/unix import.
const (
	EventFork  = unix.PTRACE_EVENT_FORK
	EventVFork = unix.PTRACE_EVENT_VFORK
	EventClone = unix.PTRACE_EVENT_CLONE
	EventExec  = unix.PTRACE_EVENT_EXEC
	EventStop  = unix.PTRACE_EVENT_STOP
)
