// Package ksync provides the kernel synchronization primitives used by the
// filesystem layer: a raw SpinLock, a counting Semaphore whose waiters are
// suspended through the scheduler, and the per-node ReadWriteLock.
package ksync
