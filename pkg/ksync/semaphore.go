package ksync

import (
	"sync/atomic"
	"time"

	"github.com/jacobsa/timeutil"

	"kvfs/pkg/sched"
)

// WaitResult is the outcome of Semaphore.WaitTimeout.
type WaitResult int

const (
	// Acquired means the semaphore was decremented.
	Acquired WaitResult = iota
	// Interrupted means the wait was ended by an interruption.
	Interrupted
	// TimedOut means the bound elapsed before a Signal arrived.
	TimedOut
)

func (r WaitResult) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case Interrupted:
		return "interrupted"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// Waiter states.
const (
	waitPending int32 = iota
	waitSignaled
	waitInterrupted
	waitExpired
)

// semWaiter is one thread suspended in Wait.
type semWaiter struct {
	sem    *Semaphore
	thread *sched.Thread
	state  atomic.Int32
}

func (w *semWaiter) ShouldBlock() bool {
	return w.state.Load() == waitPending
}

func (w *semWaiter) WasInterrupted() bool {
	return w.state.Load() == waitInterrupted
}

func (w *semWaiter) Interrupt() {
	w.finish(waitInterrupted)
}

// finish moves the waiter out of the pending state and off the queue. Only
// the first transition wins.
func (w *semWaiter) finish(state int32) bool {
	if !w.state.CompareAndSwap(waitPending, state) {
		return false
	}
	w.sem.remove(w)
	w.thread.Unblock()
	return true
}

// Semaphore is a counting semaphore. Waiters are woken in FIFO order.
type Semaphore struct {
	// lock protects value and waiters.
	lock SpinLock
	// value is the number of available units.
	value int
	// waiters holds suspended threads in arrival order.
	waiters []*semWaiter
	// clock measures time spent in WaitTimeout.
	clock timeutil.Clock
}

// NewSemaphore creates a semaphore with the given initial value.
func NewSemaphore(value int) *Semaphore {
	return &Semaphore{
		value: value,
		clock: timeutil.RealClock(),
	}
}

// SetClock replaces the clock used to account for WaitTimeout's remaining
// time.
func (s *Semaphore) SetClock(c timeutil.Clock) {
	s.lock.Lock()
	s.clock = c
	s.lock.Unlock()
}

// Value returns the current value.
func (s *Semaphore) Value() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.value
}

// SetValue overwrites the current value.
func (s *Semaphore) SetValue(v int) {
	s.lock.Lock()
	s.value = v
	s.lock.Unlock()
}

// Drain takes every pending count at once and returns how many there were.
func (s *Semaphore) Drain() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	n := s.value
	if n > 0 {
		s.value = 0
	}
	return n
}

// Waiters returns the number of suspended threads.
func (s *Semaphore) Waiters() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.waiters)
}

// Wait decrements the semaphore, suspending t until a Signal if the value is
// zero. It returns true if the wait was interrupted, in which case the
// semaphore was not decremented. A nil thread waits uninterruptibly.
func (s *Semaphore) Wait(t *sched.Thread) bool {
	s.lock.Lock()
	if s.value > 0 {
		s.value--
		s.lock.Unlock()
		return false
	}

	w := s.enqueue(t)
	s.lock.Unlock()

	return w.thread.Block(w)
}

// WaitTimeout is Wait bounded by *remaining. On return *remaining has been
// reduced by the time spent suspended and never goes below zero.
func (s *Semaphore) WaitTimeout(t *sched.Thread, remaining *time.Duration) WaitResult {
	s.lock.Lock()
	if s.value > 0 {
		s.value--
		s.lock.Unlock()
		return Acquired
	}
	if *remaining <= 0 {
		s.lock.Unlock()
		return TimedOut
	}

	w := s.enqueue(t)
	clock := s.clock
	s.lock.Unlock()

	start := clock.Now()
	timer := time.AfterFunc(*remaining, func() {
		w.finish(waitExpired)
	})
	w.thread.Block(w)
	timer.Stop()

	*remaining -= clock.Now().Sub(start)
	if *remaining < 0 {
		*remaining = 0
	}

	switch w.state.Load() {
	case waitSignaled:
		return Acquired
	case waitInterrupted:
		return Interrupted
	}
	return TimedOut
}

// Signal increments the semaphore. If threads are waiting, the oldest one is
// handed the unit and resumed instead.
func (s *Semaphore) Signal() {
	s.lock.Lock()
	for len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters[0] = nil
		s.waiters = s.waiters[1:]

		// A waiter that is concurrently being interrupted or timed out
		// lost its race; skip it.
		if w.state.CompareAndSwap(waitPending, waitSignaled) {
			s.lock.Unlock()
			w.thread.Unblock()
			return
		}
	}
	s.value++
	s.lock.Unlock()
}

// enqueue appends a waiter for t. Caller holds s.lock.
func (s *Semaphore) enqueue(t *sched.Thread) *semWaiter {
	if t == nil {
		t = sched.NewThread(0)
	}
	w := &semWaiter{sem: s, thread: t}
	s.waiters = append(s.waiters, w)
	return w
}

// remove drops w from the queue if it is still there.
func (s *Semaphore) remove(w *semWaiter) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for i, x := range s.waiters {
		if x == w {
			copy(s.waiters[i:], s.waiters[i+1:])
			s.waiters[len(s.waiters)-1] = nil
			s.waiters = s.waiters[:len(s.waiters)-1]
			return
		}
	}
}
