package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// flagBlocker is a minimal Blocker driven by tests.
type flagBlocker struct {
	t           *Thread
	block       atomic.Bool
	interrupted atomic.Bool
}

func newFlagBlocker(t *Thread) *flagBlocker {
	b := &flagBlocker{t: t}
	b.block.Store(true)
	return b
}

func (b *flagBlocker) ShouldBlock() bool    { return b.block.Load() }
func (b *flagBlocker) WasInterrupted() bool { return b.interrupted.Load() }

func (b *flagBlocker) Interrupt() {
	if b.block.CompareAndSwap(true, false) {
		b.interrupted.Store(true)
	}
	b.t.Unblock()
}

func (b *flagBlocker) satisfy() {
	b.block.Store(false)
	b.t.Unblock()
}

func TestBlockUnblock(t *testing.T) {
	th := NewThread(1)
	b := newFlagBlocker(th)

	done := make(chan bool)
	go func() {
		done <- th.Block(b)
	}()

	time.Sleep(10 * time.Millisecond)
	b.satisfy()

	select {
	case interrupted := <-done:
		if interrupted {
			t.Error("Block() reported interruption for a satisfied wait")
		}
	case <-time.After(time.Second):
		t.Fatal("Block() did not return after Unblock")
	}
}

func TestInterruptBlocked(t *testing.T) {
	th := NewThread(1)
	b := newFlagBlocker(th)

	done := make(chan bool)
	go func() {
		done <- th.Block(b)
	}()

	// Wait for the thread to publish its blocker.
	for {
		th.mu.Lock()
		ready := th.blocker != nil
		th.mu.Unlock()
		if ready {
			break
		}
		time.Sleep(time.Millisecond)
	}

	th.Interrupt()

	select {
	case interrupted := <-done:
		if !interrupted {
			t.Error("Block() should report interruption")
		}
	case <-time.After(time.Second):
		t.Fatal("Block() did not return after Interrupt")
	}

	if th.InterruptPending() {
		t.Error("interruption should have been consumed")
	}
}

func TestInterruptPendingBeforeBlock(t *testing.T) {
	th := NewThread(1)
	th.Interrupt()

	if !th.InterruptPending() {
		t.Fatal("interruption should be pending")
	}

	if !th.Block(newFlagBlocker(th)) {
		t.Error("Block() should be interrupted by a pending interruption")
	}

	if th.InterruptPending() {
		t.Error("pending interruption should be cleared")
	}
}

func TestClearInterrupt(t *testing.T) {
	th := NewThread(1)
	th.Interrupt()
	th.ClearInterrupt()

	if th.InterruptPending() {
		t.Error("ClearInterrupt() should discard the interruption")
	}
}

func TestKill(t *testing.T) {
	th := NewThread(1)
	th.Kill()

	if !th.Killed() {
		t.Fatal("Killed() should be true")
	}

	// Every wait after the kill is interrupted.
	for i := 0; i < 2; i++ {
		if !th.Block(newFlagBlocker(th)) {
			t.Errorf("Block() #%d on a killed thread should be interrupted", i)
		}
	}
}

func TestThreadContext(t *testing.T) {
	th := NewThread(7)
	ctx := WithThread(context.Background(), th)

	if got := ThreadFromContext(ctx); got != th {
		t.Errorf("ThreadFromContext() = %v, expected %v", got, th)
	}

	if got := ThreadFromContext(context.Background()); got != nil {
		t.Errorf("ThreadFromContext() on bare context = %v, expected nil", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	ids := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Spawn().ID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate thread id %d", id)
		}
		seen[id] = true
	}

	if r.Len() != 10 {
		t.Errorf("Len() = %d, expected 10", r.Len())
	}

	if err := r.Interrupt(1); err != nil {
		t.Errorf("Interrupt(1) failed: %v", err)
	}

	th, err := r.Lookup(1)
	if err != nil {
		t.Fatalf("Lookup(1) failed: %v", err)
	}
	if !th.InterruptPending() {
		t.Error("thread 1 should have a pending interruption")
	}

	if err := r.Exit(1); err != nil {
		t.Errorf("Exit(1) failed: %v", err)
	}
	if !th.Killed() {
		t.Error("exited thread should be killed")
	}

	if _, err := r.Lookup(1); err != ErrThreadNotFound {
		t.Errorf("Lookup() after Exit = %v, expected ErrThreadNotFound", err)
	}
	if err := r.Interrupt(99); err != ErrThreadNotFound {
		t.Errorf("Interrupt(99) = %v, expected ErrThreadNotFound", err)
	}
}
