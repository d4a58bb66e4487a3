package vfs

import (
	"testing"
	"time"
)

func TestWatcherConsumesEventsOnce(t *testing.T) {
	w := NewWatcher()
	defer w.Close()
	_, thread := threadContext(1)

	w.Notify()
	w.Notify()
	w.Notify()
	if err := w.Wait(thread); err != nil {
		t.Fatalf("Wait() with pending events = %v", err)
	}

	remaining := 5 * time.Millisecond
	if err := w.WaitTimeout(thread, &remaining); err != ErrWouldBlock {
		t.Errorf("WaitTimeout() after consuming events = %v, want %v", err, ErrWouldBlock)
	}

	w.Notify()
	remaining = time.Second
	if err := w.WaitTimeout(thread, &remaining); err != nil {
		t.Errorf("WaitTimeout() after a later event = %v", err)
	}
}

func TestWatcherEventDuringWait(t *testing.T) {
	w := NewWatcher()
	defer w.Close()
	_, thread := threadContext(1)

	done := make(chan error, 1)
	go func() { done <- w.Wait(thread) }()
	time.Sleep(10 * time.Millisecond)
	w.Notify()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Notify() did not wake the waiter")
	}

	w.Notify()
	remaining := time.Second
	if err := w.WaitTimeout(thread, &remaining); err != nil {
		t.Errorf("WaitTimeout() after an event following Wait = %v", err)
	}
}

func TestWatchListDelivery(t *testing.T) {
	var l WatchList
	in, out := NewWatcher(), NewWatcher()
	defer in.Close()
	defer out.Close()

	l.Add(in, POLLIN)
	l.Add(out, POLLOUT)
	if n := l.Notify(POLLIN); n != 1 {
		t.Errorf("Notify(POLLIN) reached %d watchers, want 1", n)
	}
	if n := l.Notify(POLLHUP); n != 2 {
		t.Errorf("Notify(POLLHUP) reached %d watchers, want 2", n)
	}

	l.Remove(in)
	if l.Len() != 1 {
		t.Errorf("Len() after Remove = %d, want 1", l.Len())
	}
	if in.sem.Value() != 2 || out.sem.Value() != 1 {
		t.Errorf("pending events in %d out %d", in.sem.Value(), out.sem.Value())
	}
}
