/*
Package sched provides the thread suspend/resume capability consumed by the
filesystem layer.

A Thread parks on a wake channel while a Blocker says it must wait. Whoever
satisfies the wait (a driver, a semaphore signal) clears the Blocker's
condition and calls Unblock; interruption goes through Blocker.Interrupt so
the waiter can tell a forced wake from a satisfied one.

	t := registry.Spawn()
	ctx := sched.WithThread(context.Background(), t)
	n, err := vfs.Read(ctx, node, 0, buf)
	if errors.Is(err, vfs.ErrInterrupted) {
		// woken by Interrupt, not by data
	}
*/
package sched
