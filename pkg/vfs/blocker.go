package vfs

import (
	"context"
	"sort"
	"sync/atomic"

	"kvfs/pkg/ksync"
	"kvfs/pkg/sched"
)

// BlockKind says which direction of I/O a Blocker waits for.
type BlockKind int

const (
	// BlockRead waits for data to read.
	BlockRead BlockKind = iota
	// BlockWrite waits for room to write.
	BlockWrite
)

// BlockState is the lifecycle state of a Blocker.
type BlockState int32

const (
	// BlockPending means the wait is still registered on its node.
	BlockPending BlockState = iota
	// BlockSatisfied means a driver signalled the condition.
	BlockSatisfied
	// BlockInterrupted means the owning thread was interrupted.
	BlockInterrupted
	// BlockDestroyed means the node or the wait itself was torn down.
	BlockDestroyed
)

func (s BlockState) String() string {
	switch s {
	case BlockPending:
		return "pending"
	case BlockSatisfied:
		return "satisfied"
	case BlockInterrupted:
		return "interrupted"
	case BlockDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Blocker is one thread's pending I/O wait on a node. It leaves Pending
// exactly once; whichever of satisfy, interrupt or destroy wins that
// transition also removes it from the node's list.
//
// Drivers register the Blocker while holding the lock that guards their I/O
// state, so a wake issued after they drop it cannot be missed:
//
//	p.mu.Lock()
//	for p.empty() {
//		b, err := vfs.NewBlocker(ctx, p, vfs.BlockRead, 1)
//		if err != nil { ... }
//		p.mu.Unlock()
//		err = b.Wait()
//		p.mu.Lock()
//		if err != nil { ... }
//	}
type Blocker struct {
	node   *BaseNode
	kind   BlockKind
	length int
	seq    uint64
	thread *sched.Thread
	state  atomic.Int32
}

// NewBlocker registers a wait of the given kind on node for the thread
// carried by ctx. Without a thread there is nobody to suspend and
// ErrWouldBlock is returned.
func NewBlocker(ctx context.Context, node Node, kind BlockKind, length int) (*Blocker, error) {
	t := sched.ThreadFromContext(ctx)
	if t == nil {
		return nil, ErrWouldBlock
	}
	if length < 1 {
		length = 1
	}

	b := &Blocker{
		node:   node.Base(),
		kind:   kind,
		length: length,
		thread: t,
	}
	b.node.blocked.add(b)
	return b, nil
}

// Kind returns the direction the Blocker waits for.
func (b *Blocker) Kind() BlockKind { return b.kind }

// RequestedLength returns how many bytes the waiter asked for.
func (b *Blocker) RequestedLength() int { return b.length }

// State returns the current state.
func (b *Blocker) State() BlockState { return BlockState(b.state.Load()) }

// ShouldBlock implements sched.Blocker.
func (b *Blocker) ShouldBlock() bool { return b.State() == BlockPending }

// WasInterrupted implements sched.Blocker.
func (b *Blocker) WasInterrupted() bool { return b.State() == BlockInterrupted }

// Interrupt implements sched.Blocker.
func (b *Blocker) Interrupt() { b.finish(BlockInterrupted) }

// Unblock marks the wait satisfied and resumes its thread. It reports
// whether this call ended the wait.
func (b *Blocker) Unblock() bool { return b.finish(BlockSatisfied) }

// Release tears the wait down if it is still pending. Waiters that give up
// for their own reasons call it so the node's list never keeps stale
// entries.
func (b *Blocker) Release() { b.finish(BlockDestroyed) }

// Wait suspends the owning thread until the wait ends. It returns nil when
// the condition was satisfied, ErrInterrupted on interruption and ErrNoPeer
// when the node was torn down.
func (b *Blocker) Wait() error {
	b.thread.Block(b)

	switch b.State() {
	case BlockSatisfied:
		return nil
	case BlockInterrupted:
		return ErrInterrupted
	}
	return ErrNoPeer
}

func (b *Blocker) finish(state BlockState) bool {
	if !b.state.CompareAndSwap(int32(BlockPending), int32(state)) {
		return false
	}
	b.node.blocked.lock.Lock()
	b.node.blocked.removeLocked(b)
	b.node.blocked.lock.Unlock()

	b.thread.Unblock()
	return true
}

// blockedList is a node's queue of pending Blockers. Slots are kept in
// registration order and emptied in place on removal; the tombstones are
// squeezed out once they outnumber live entries.
type blockedList struct {
	lock  ksync.SpinLock
	slots []blockedSlot
	live  int
	seq   uint64
}

type blockedSlot struct {
	seq uint64
	b   *Blocker
}

func (l *blockedList) add(b *Blocker) {
	l.lock.Lock()
	l.seq++
	b.seq = l.seq
	l.slots = append(l.slots, blockedSlot{seq: b.seq, b: b})
	l.live++
	l.lock.Unlock()
}

// removeLocked empties b's slot. Caller holds l.lock.
func (l *blockedList) removeLocked(b *Blocker) bool {
	i := sort.Search(len(l.slots), func(i int) bool {
		return l.slots[i].seq >= b.seq
	})
	if i == len(l.slots) || l.slots[i].seq != b.seq || l.slots[i].b == nil {
		return false
	}
	l.slots[i].b = nil
	l.live--
	l.compactLocked()
	return true
}

func (l *blockedList) compactLocked() {
	if l.live == 0 {
		l.slots = l.slots[:0]
		return
	}
	if len(l.slots) < 16 || l.live*2 > len(l.slots) {
		return
	}
	kept := l.slots[:0]
	for _, s := range l.slots {
		if s.b != nil {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(l.slots); i++ {
		l.slots[i] = blockedSlot{}
	}
	l.slots = kept
}

// wake ends, in FIFO order, up to limit pending waits accepted by match and
// moves them to state. A limit of zero or less means no limit.
func (l *blockedList) wake(state BlockState, limit int, match func(*Blocker) bool) int {
	var woken []*Blocker

	l.lock.Lock()
	for i := range l.slots {
		if limit > 0 && len(woken) >= limit {
			break
		}
		b := l.slots[i].b
		if b == nil || (match != nil && !match(b)) {
			continue
		}
		// A concurrent interrupt that won the transition removes the
		// entry itself.
		if !b.state.CompareAndSwap(int32(BlockPending), int32(state)) {
			continue
		}
		l.slots[i].b = nil
		l.live--
		woken = append(woken, b)
	}
	l.compactLocked()
	l.lock.Unlock()

	for _, b := range woken {
		b.thread.Unblock()
	}
	return len(woken)
}

// UnblockAll satisfies every pending wait on the node and returns how many
// were woken.
func (b *BaseNode) UnblockAll() int {
	return b.blocked.wake(BlockSatisfied, 0, nil)
}

// Wake satisfies, oldest first, up to limit waits of the given kind whose
// requested length does not exceed available. A negative available accepts
// any length; a limit of zero or less means no limit.
func (b *BaseNode) Wake(kind BlockKind, available, limit int) int {
	return b.blocked.wake(BlockSatisfied, limit, func(bl *Blocker) bool {
		return bl.kind == kind && (available < 0 || bl.length <= available)
	})
}

// Destroy ends every pending wait as destroyed. Backing stores call it when
// the node goes away.
func (b *BaseNode) Destroy() int {
	return b.blocked.wake(BlockDestroyed, 0, nil)
}

// BlockedCount returns the number of pending waits on the node.
func (b *BaseNode) BlockedCount() int {
	b.blocked.lock.Lock()
	defer b.blocked.lock.Unlock()
	return b.blocked.live
}
