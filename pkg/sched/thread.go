package sched

import (
	"context"
	"sync"
)

// Blocker is a pending wait owned by a thread. The scheduler consults it to
// decide whether a woken thread may continue and calls Interrupt when an
// interruption is delivered to the blocked thread.
type Blocker interface {
	// ShouldBlock reports whether the owning thread must stay suspended.
	ShouldBlock() bool
	// WasInterrupted reports whether the wait ended by interruption.
	WasInterrupted() bool
	// Interrupt ends the wait as interrupted and resumes the thread.
	Interrupt()
}

// Thread is a schedulable kernel thread. Suspension and resumption are
// expressed as messages on a wake channel; a thread that blocks parks its
// goroutine instead of spinning.
type Thread struct {
	// id is the thread identifier.
	id int
	// wake carries resume notifications. One slot is enough because the
	// blocked thread always re-checks its Blocker before sleeping again.
	wake chan struct{}
	// mu protects blocker, pending and killed.
	mu sync.Mutex
	// blocker is the wait the thread is currently suspended on.
	blocker Blocker
	// pending is set when an interruption arrived while not blocked.
	pending bool
	// killed is set once the thread is torn down.
	killed bool
}

// NewThread creates a thread with the given id.
func NewThread(id int) *Thread {
	return &Thread{
		id:   id,
		wake: make(chan struct{}, 1),
	}
}

// ID returns the thread identifier.
func (t *Thread) ID() int {
	return t.id
}

// Block suspends the calling goroutine until b no longer needs to block.
// It returns true if the wait ended because of an interruption. An
// interruption delivered before Block is called interrupts this wait.
func (t *Thread) Block(b Blocker) bool {
	t.mu.Lock()
	if t.pending || t.killed {
		t.pending = false
		t.mu.Unlock()
		b.Interrupt()
		return true
	}
	t.blocker = b
	t.mu.Unlock()

	for b.ShouldBlock() {
		<-t.wake
	}

	t.mu.Lock()
	t.blocker = nil
	t.mu.Unlock()

	return b.WasInterrupted()
}

// Unblock resumes the thread if it is suspended. Extra notifications are
// coalesced.
func (t *Thread) Unblock() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Interrupt delivers an interruption. A blocked thread has its Blocker
// interrupted; otherwise the interruption stays pending until the next Block.
func (t *Thread) Interrupt() {
	t.mu.Lock()
	b := t.blocker
	if b == nil {
		t.pending = true
	}
	t.mu.Unlock()

	if b == nil {
		return
	}
	b.Interrupt()

	// The wait may have been satisfied first; keep the interruption for the
	// next one.
	if !b.WasInterrupted() {
		t.mu.Lock()
		t.pending = true
		t.mu.Unlock()
	}
}

// InterruptPending reports whether an interruption is waiting to be observed.
func (t *Thread) InterruptPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// ClearInterrupt discards a pending interruption.
func (t *Thread) ClearInterrupt() {
	t.mu.Lock()
	t.pending = false
	t.mu.Unlock()
}

// Kill tears the thread down. Any current and future wait is interrupted.
func (t *Thread) Kill() {
	t.mu.Lock()
	t.killed = true
	b := t.blocker
	t.mu.Unlock()

	if b != nil {
		b.Interrupt()
	}
}

// Killed reports whether the thread has been torn down.
func (t *Thread) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

type threadKey struct{}

// WithThread returns a context carrying t as the current thread.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFromContext returns the current thread carried by ctx, or nil.
func ThreadFromContext(ctx context.Context) *Thread {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(threadKey{}).(*Thread)
	return t
}
