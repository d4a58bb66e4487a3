package ksync

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a raw, non-reentrant lock. A contended Lock yields the
// processor between attempts. A SpinLock is not owned by a goroutine: any
// goroutine may release it.
type SpinLock struct {
	state atomic.Int32
}

// Lock acquires the lock.
func (l *SpinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Unlock releases the lock. Unlocking a free lock panics.
func (l *SpinLock) Unlock() {
	if !l.state.CompareAndSwap(1, 0) {
		panic("ksync: unlock of unlocked SpinLock")
	}
}

// Locked reports whether the lock is currently held.
func (l *SpinLock) Locked() bool {
	return l.state.Load() == 1
}
