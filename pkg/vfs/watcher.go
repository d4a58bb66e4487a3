package vfs

import (
	"context"
	"sync"
	"time"

	"kvfs/pkg/ksync"
	"kvfs/pkg/sched"
)

// Watcher aggregates readiness events from several nodes behind one
// semaphore. Each watched node is held open by a private handle until the
// Watcher is closed.
type Watcher struct {
	// sem counts events fired since the last Wait.
	sem *ksync.Semaphore
	// mu protects watching and closed.
	mu sync.Mutex
	// watching holds the handles opened for subscriptions.
	watching []*Handle
	// closed is set once Close has run.
	closed bool
}

// NewWatcher creates a Watcher with no subscriptions.
func NewWatcher() *Watcher {
	return &Watcher{
		sem: ksync.NewSemaphore(0),
	}
}

// WatchNode subscribes the Watcher to events on node. The node is opened
// with O_PATH so the subscription does not count as a reader or writer.
func (w *Watcher) WatchNode(ctx context.Context, node Node, events PollEvents) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrBadHandle
	}

	h, err := Open(ctx, node, O_PATH)
	if err != nil {
		return err
	}

	if err := node.Watch(w, events); err != nil {
		h.Close()
		return err
	}

	w.watching = append(w.watching, h)
	return nil
}

// Len returns the number of subscriptions.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watching)
}

// Notify records that a subscribed event fired. Nodes call it.
func (w *Watcher) Notify() {
	w.sem.Signal()
}

// Wait suspends t until an event fires. Events that fired before the call
// satisfy it immediately. Every event counted before Wait returns is
// consumed by it; a later one satisfies the next Wait.
func (w *Watcher) Wait(t *sched.Thread) error {
	if w.isClosed() {
		return ErrBadHandle
	}
	if w.sem.Wait(t) {
		return ErrInterrupted
	}
	w.sem.Drain()

	if w.isClosed() {
		return ErrBadHandle
	}
	return nil
}

// WaitTimeout is Wait bounded by *remaining, which is reduced by the time
// spent waiting. It returns ErrWouldBlock when the bound elapsed.
func (w *Watcher) WaitTimeout(t *sched.Thread, remaining *time.Duration) error {
	if w.isClosed() {
		return ErrBadHandle
	}

	switch w.sem.WaitTimeout(t, remaining) {
	case ksync.Interrupted:
		return ErrInterrupted
	case ksync.TimedOut:
		return ErrWouldBlock
	}
	w.sem.Drain()

	if w.isClosed() {
		return ErrBadHandle
	}
	return nil
}

// Close unsubscribes from every node and closes every handle. A thread still
// waiting is woken and sees ErrBadHandle. Close is idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	watching := w.watching
	w.watching = nil
	w.mu.Unlock()

	for _, h := range watching {
		h.Node().Unwatch(w)
		h.Close()
	}

	w.sem.Signal()
	return nil
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// WatchList is the subscription table of a node that supports Watch.
// Nodes embed it and call Notify when their readiness changes.
type WatchList struct {
	mu      sync.Mutex
	entries []watchEntry
}

type watchEntry struct {
	w      *Watcher
	events PollEvents
}

// Add subscribes w to events, replacing an earlier subscription of w.
func (l *WatchList) Add(w *Watcher, events PollEvents) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].w == w {
			l.entries[i].events = events
			return
		}
	}
	l.entries = append(l.entries, watchEntry{w: w, events: events})
}

// Remove drops every subscription of w.
func (l *WatchList) Remove(w *Watcher) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.w != w {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = watchEntry{}
	}
	l.entries = kept
}

// Notify signals every watcher subscribed to one of events. Hang-ups and
// errors reach every watcher regardless of its mask.
func (l *WatchList) Notify(events PollEvents) int {
	l.mu.Lock()
	var targets []*Watcher
	for _, e := range l.entries {
		if e.events&events != 0 || events&(POLLHUP|POLLERR) != 0 {
			targets = append(targets, e.w)
		}
	}
	l.mu.Unlock()

	for _, w := range targets {
		w.Notify()
	}
	return len(targets)
}

// Len returns the number of subscriptions.
func (l *WatchList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
