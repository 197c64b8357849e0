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

// Package limiter is the admission controller: it rations a fixed
// two-dimensional (CPU, memory) budget across throttled processes,
// queuing overflow in arrival order and releasing queued work as running
// peers exit. It is driven exclusively by the supervisor, sequentially,
// so it needs no locking of its own.
package limiter

import (
	"container/list"

	log "github.com/sirupsen/logrus"

	"github.com/xddxdd/nix-ubw/internal/classifier"
	"github.com/xddxdd/nix-ubw/internal/procctl"
	"github.com/xddxdd/nix-ubw/internal/profile"
)

// Verdict is the outcome of Limiter.OnExec.
type Verdict int

const (
	// NotThrottled means the process was not admitted or queued at all;
	// the caller must resume it unconditionally.
	NotThrottled Verdict = iota
	// Throttled means the limiter now owns the resume decision: it has
	// either already continued the tracee (admitted) or left it stopped
	// (queued). The caller must not continue it itself.
	Throttled
)

// entry is the bookkeeping the limiter keeps per admitted or queued pid;
// it mirrors the ActiveEntry/PausedEntry pair in the data model, which
// share every field.
type entry struct {
	pid     int
	name    string
	profile profile.Profile
}

// Limiter is the admission controller described in spec.md §4.3.
type Limiter struct {
	total      profile.Profile
	free       profile.Profile
	active     map[int]entry
	paused     *list.List // of entry, front = oldest
	classifier *classifier.Classifier
	ctl        procctl.Controller
}

// New builds a Limiter with the given total budget. ctl is the injected
// process-control interface used to resume admitted processes; c is the
// classifier used to map argv to a resource profile.
func New(total profile.Profile, c *classifier.Classifier, ctl procctl.Controller) *Limiter {
	return &Limiter{
		total:      total,
		free:       total,
		active:     make(map[int]entry),
		paused:     list.New(),
		classifier: c,
		ctl:        ctl,
	}
}

// Free returns the currently free budget. Exposed for tests and logging;
// components may be negative immediately after a force-admit.
func (l *Limiter) Free() profile.Profile { return l.free }

// ActiveCount returns the number of admitted processes.
func (l *Limiter) ActiveCount() int { return len(l.active) }

// PausedCount returns the number of queued processes.
func (l *Limiter) PausedCount() int { return l.paused.Len() }

// OnExec classifies argv (whose argv[0] must already be resolved) and, if
// the program is throttled, enqueues it and attempts to drain the queue.
// Enqueue-then-drain (rather than "try to admit directly") preserves
// arrival order when two execs race: a newly arriving process can never
// jump ahead of one still waiting in the queue, even if it would fit.
func (l *Limiter) OnExec(pid int, argv []string) Verdict {
	p, throttled := l.classifier.ProfileFor(argv)
	if !throttled {
		return NotThrottled
	}

	name := ""
	if len(argv) > 0 {
		name = argv[0]
	}

	l.paused.PushBack(entry{pid: pid, name: name, profile: p})
	l.tryResumePaused()
	return Throttled
}

// OnExit releases any budget pid held and removes it from either the
// active map or the paused queue, then attempts to drain the queue. An
// unknown pid is a no-op: this is expected when a process that was never
// throttled (or already reaped) exits.
func (l *Limiter) OnExit(pid int) {
	if e, ok := l.active[pid]; ok {
		delete(l.active, pid)
		l.free = l.free.Add(e.profile)
		log.Infof("[limit] pid %d (%s) exited, released %v (%d active, %d paused)",
			pid, e.name, e.profile, len(l.active), l.paused.Len())
		l.tryResumePaused()
		return
	}

	for el := l.paused.Front(); el != nil; el = el.Next() {
		if el.Value.(entry).pid == pid {
			l.paused.Remove(el)
			log.Infof("[limit] pid %d exited while queued, removed from queue (%d paused)",
				pid, l.paused.Len())
			l.tryResumePaused()
			return
		}
	}
}

// tryResumePaused admits queued entries in strict FIFO order while the
// head of the queue fits the free budget. It never reorders the queue or
// skips a head that does not fit, even if a later entry would.
func (l *Limiter) tryResumePaused() {
	for {
		front := l.paused.Front()
		if front == nil {
			return
		}
		e := front.Value.(entry)

		if !l.fits(e.profile) {
			return
		}

		l.paused.Remove(front)
		l.free = l.free.Sub(e.profile)
		l.active[e.pid] = e

		log.Infof("[limit] admitting pid %d (%s) demanding %v (%d active, %d paused, free %v)",
			e.pid, e.name, e.profile, len(l.active), l.paused.Len(), l.free)

		if err := l.ctl.Cont(e.pid, 0); err != nil {
			log.Warnf("[limit] failed to resume admitted pid %d: %v; rolling back", e.pid, err)
			delete(l.active, e.pid)
			l.free = l.free.Add(e.profile)
			// A failed continue means this pid is gone; keep draining so
			// a later queued entry still gets a chance.
			continue
		}
	}
}

// fits reports whether profile p can be satisfied by the current free
// budget. The deadlock-prevention rule: if p does not fit but nothing is
// currently active, admit it anyway (force-admit) so a single
// over-large job can still make progress. Force-admit is the only path
// that may drive free negative.
func (l *Limiter) fits(p profile.Profile) bool {
	if p.Fits(l.free) {
		return true
	}
	return len(l.active) == 0
}
