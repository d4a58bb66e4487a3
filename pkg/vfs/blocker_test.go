package vfs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kvfs/pkg/sched"
)

type testNode struct {
	BaseNode
}

func newTestNode() *testNode {
	n := &testNode{}
	n.Init(TypeFIFO, 1, 1, 0o600)
	return n
}

func threadContext(id int) (context.Context, *sched.Thread) {
	t := sched.NewThread(id)
	return sched.WithThread(context.Background(), t), t
}

func TestNewBlockerWithoutThread(t *testing.T) {
	n := newTestNode()
	if _, err := NewBlocker(context.Background(), n, BlockRead, 1); err != ErrWouldBlock {
		t.Errorf("NewBlocker() without thread = %v, want %v", err, ErrWouldBlock)
	}
	if n.BlockedCount() != 0 {
		t.Errorf("BlockedCount() = %d, want 0", n.BlockedCount())
	}
}

func TestBlockerWait(t *testing.T) {
	tests := []struct {
		name string
		end  func(n *testNode, b *Blocker, th *sched.Thread)
		want error
	}{
		{"satisfied", func(n *testNode, b *Blocker, th *sched.Thread) { n.UnblockAll() }, nil},
		{"interrupted", func(n *testNode, b *Blocker, th *sched.Thread) { th.Interrupt() }, ErrInterrupted},
		{"destroyed", func(n *testNode, b *Blocker, th *sched.Thread) { n.Destroy() }, ErrNoPeer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNode()
			ctx, th := threadContext(1)
			b, err := NewBlocker(ctx, n, BlockRead, 1)
			if err != nil {
				t.Fatalf("NewBlocker() failed: %v", err)
			}

			done := make(chan error, 1)
			go func() { done <- b.Wait() }()
			tt.end(n, b, th)

			select {
			case err := <-done:
				if err != tt.want {
					t.Errorf("Wait() = %v, want %v", err, tt.want)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Wait() did not return")
			}
			if n.BlockedCount() != 0 {
				t.Errorf("BlockedCount() = %d, want 0", n.BlockedCount())
			}
		})
	}
}

func TestBlockerExactlyOnce(t *testing.T) {
	n := newTestNode()

	for i := 0; i < 500; i++ {
		ctx, _ := threadContext(i)
		b, _ := NewBlocker(ctx, n, BlockWrite, 1)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for _, state := range []BlockState{BlockSatisfied, BlockInterrupted, BlockDestroyed} {
			wg.Add(1)
			go func(s BlockState) {
				defer wg.Done()
				if b.finish(s) {
					wins.Add(1)
				}
			}(state)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins.Add(int32(n.Wake(BlockWrite, -1, 0)))
		}()
		wg.Wait()

		if wins.Load() != 1 {
			t.Fatalf("iteration %d: %d transitions, want 1", i, wins.Load())
		}
		if b.State() == BlockPending {
			t.Fatalf("iteration %d: blocker still pending", i)
		}
	}

	if n.BlockedCount() != 0 {
		t.Errorf("BlockedCount() = %d, want 0", n.BlockedCount())
	}
}

func TestWakeOrderAndFilter(t *testing.T) {
	n := newTestNode()

	var blockers []*Blocker
	for i, length := range []int{4, 1, 8, 2} {
		ctx, _ := threadContext(i)
		b, _ := NewBlocker(ctx, n, BlockRead, length)
		blockers = append(blockers, b)
	}
	ctx, _ := threadContext(9)
	writer, _ := NewBlocker(ctx, n, BlockWrite, 1)

	if got := n.Wake(BlockRead, 4, 2); got != 2 {
		t.Fatalf("Wake() = %d, want 2", got)
	}
	want := []BlockState{BlockSatisfied, BlockSatisfied, BlockPending, BlockPending}
	for i, b := range blockers {
		if b.State() != want[i] {
			t.Errorf("blocker %d state = %v, want %v", i, b.State(), want[i])
		}
	}

	if got := n.Wake(BlockRead, 4, 0); got != 1 {
		t.Errorf("Wake() = %d, want 1", got)
	}
	if writer.State() != BlockPending {
		t.Errorf("writer state = %v, want pending", writer.State())
	}
	if n.BlockedCount() != 2 {
		t.Errorf("BlockedCount() = %d, want 2", n.BlockedCount())
	}
}

func TestBlockedListCompaction(t *testing.T) {
	n := newTestNode()

	var blockers []*Blocker
	for i := 0; i < 64; i++ {
		ctx, _ := threadContext(i)
		b, _ := NewBlocker(ctx, n, BlockRead, 1)
		blockers = append(blockers, b)
	}
	for i := 0; i < 60; i++ {
		blockers[i].Release()
	}

	n.blocked.lock.Lock()
	slots, live := len(n.blocked.slots), n.blocked.live
	n.blocked.lock.Unlock()

	if live != 4 {
		t.Errorf("live = %d, want 4", live)
	}
	if slots >= 64 {
		t.Errorf("slots = %d, expected tombstones to be compacted", slots)
	}

	for _, b := range blockers[60:] {
		if !b.Unblock() {
			t.Error("Unblock() of a live blocker after compaction failed")
		}
	}
	if n.BlockedCount() != 0 {
		t.Errorf("BlockedCount() = %d, want 0", n.BlockedCount())
	}
}

func TestBlockStateString(t *testing.T) {
	if BlockInterrupted.String() != "interrupted" {
		t.Errorf("String() = %q", BlockInterrupted.String())
	}
	if BlockState(42).String() != "unknown" {
		t.Errorf("String() = %q", BlockState(42).String())
	}
}
