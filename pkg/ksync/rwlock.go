package ksync

import (
	"sync/atomic"

	"kvfs/pkg/sched"
)

// ReadWriteLock lets any number of readers share a resource while writers
// get exclusive access. It is built from two spinlocks: lock gates entry and
// fileLock is held collectively by the readers or by one writer. Only the
// first reader in and the last reader out touch fileLock.
//
// A writer takes lock before fileLock, so readers arriving after it wait
// behind it while readers already inside finish undisturbed.
type ReadWriteLock struct {
	lock     SpinLock
	fileLock SpinLock
	readers  atomic.Int32
	// pendingWriter is the owner that holds lock but not yet fileLock after
	// a failed TryAcquireWrite.
	pendingWriter atomic.Pointer[sched.Thread]
}

// AcquireRead takes a shared hold on the lock.
func (l *ReadWriteLock) AcquireRead() {
	l.lock.Lock()
	if l.readers.Add(1) == 1 {
		l.fileLock.Lock()
	}
	l.lock.Unlock()
}

// ReleaseRead drops a shared hold.
func (l *ReadWriteLock) ReleaseRead() {
	switch n := l.readers.Add(-1); {
	case n == 0:
		l.fileLock.Unlock()
	case n < 0:
		panic("ksync: ReleaseRead without AcquireRead")
	}
}

// AcquireWrite takes the lock exclusively, waiting for readers already
// inside to leave.
func (l *ReadWriteLock) AcquireWrite() {
	l.lock.Lock()
	l.fileLock.Lock()
}

// TryAcquireWrite attempts to take the lock exclusively without waiting and
// reports whether it succeeded. When only the entry gate could be taken the
// attempt stays pending for owner: new readers are held back and the next
// call by the same owner goes straight to waiting out the current readers
// instead of re-taking the gate. A nil owner never leaves an attempt
// pending.
func (l *ReadWriteLock) TryAcquireWrite(owner *sched.Thread) bool {
	if owner == nil {
		if !l.lock.TryLock() {
			return false
		}
		if !l.fileLock.TryLock() {
			l.lock.Unlock()
			return false
		}
		return true
	}

	if l.pendingWriter.Load() != owner {
		if !l.lock.TryLock() {
			return false
		}
		l.pendingWriter.Store(owner)
	}

	if !l.fileLock.TryLock() {
		return false
	}
	l.pendingWriter.Store(nil)
	return true
}

// CancelWrite abandons a pending TryAcquireWrite attempt by owner, letting
// readers in again. It reports whether an attempt was pending.
func (l *ReadWriteLock) CancelWrite(owner *sched.Thread) bool {
	if owner == nil || !l.pendingWriter.CompareAndSwap(owner, nil) {
		return false
	}
	l.lock.Unlock()
	return true
}

// ReleaseWrite drops an exclusive hold.
func (l *ReadWriteLock) ReleaseWrite() {
	l.fileLock.Unlock()
	l.lock.Unlock()
}

// Readers returns the number of readers holding the lock.
func (l *ReadWriteLock) Readers() int {
	return int(l.readers.Load())
}
