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

// Package procctl is the process-control interface the supervisor and
// limiter are driven through: attach (seize), resume (cont), read the
// auxiliary event value (getevent) and block for the next descendant
// state change (wait). It is injected everywhere it is used so tests can
// substitute a fake in place of real ptrace syscalls.
package procctl

import "syscall"

// EventKind discriminates the possible outcomes of WaitAny.
type EventKind int

const (
	// EventPtrace is a ptrace-event-stop: pid has reported Event (one of
	// the PTRACE_EVENT_* codes, named by the EventFork/EventExec/...
	// constants).
	EventPtrace EventKind = iota
	// EventSignalDelivery is a group-stop caused by a signal about to be
	// delivered to the tracee; Signal carries which one.
	EventSignalDelivery
	// EventExited is a normal process exit; ExitCode carries the code.
	EventExited
	// EventSignaled is termination by an uncaught signal; Signal carries
	// which one.
	EventSignaled
	// EventNoChildren means wait() returned ECHILD: no descendants remain.
	EventNoChildren
	// EventInterrupted means wait() was interrupted by a signal (EINTR)
	// and should be retried.
	EventInterrupted
)

// Status is the decoded result of one WaitAny call.
type Status struct {
	Kind     EventKind
	Pid      int
	Event    int // ptrace event code, valid when Kind == EventPtrace
	Signal   syscall.Signal
	ExitCode int
}

// Options bundles the ptrace trace-options bits Seize should set.
type Options struct {
	TraceFork  bool
	TraceVFork bool
	TraceClone bool
	TraceExec  bool
}

// DefaultOptions is the option set spec.md §6 requires on every seize:
// inherit-on-fork across {FORK, VFORK, CLONE, EXEC}.
func DefaultOptions() Options {
	return Options{TraceFork: true, TraceVFork: true, TraceClone: true, TraceExec: true}
}

// Controller is the abstract process-control interface of spec.md §6. The
// real implementation (Ptrace, in procctl_linux.go) backs it with
// golang.org/x/sys/unix syscalls; tests use a hand-rolled fake.
type Controller interface {
	// Seize attaches to an already-running process without stopping it.
	Seize(pid int, opts Options) error
	// Cont resumes a stopped tracee, optionally injecting sig (0 for none).
	Cont(pid int, sig syscall.Signal) error
	// GetEventMsg retrieves the auxiliary value of the most recent
	// ptrace-event-stop (e.g. the new child's pid for a fork event).
	GetEventMsg(pid int) (uint, error)
	// WaitAny blocks until any descendant (including threads) changes
	// state and returns the decoded status.
	WaitAny() (Status, error)
}
