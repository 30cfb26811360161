// Package scheduler provides delayed one-shot tasks with cancel-on-supersede
// semantics, behind a Clock interface so timing-sensitive components can be
// tested without wall-clock waits.
package scheduler

import (
	"sync"
	"time"
)

// Timer is a cancelable pending task.
type Timer interface {
	// Stop cancels the task if it has not fired. It reports whether the
	// task was still pending.
	Stop() bool
}

// Clock abstracts time for components with debounce/cooldown behavior.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scheduler holds at most one pending task. Scheduling a new task cancels
// the previous one, which is exactly the debounce behavior the pipeline's
// timer components need.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	pending Timer
}

// New creates a Scheduler on the given clock.
func New(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Schedule runs fn after d, canceling any previously scheduled task.
func (s *Scheduler) Schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
	}
	s.pending = s.clock.AfterFunc(d, fn)
}

// Cancel stops the pending task, if any.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}
