package sched

import (
	"errors"
	"sync"
)

// ErrThreadNotFound is returned when a thread id is unknown.
var ErrThreadNotFound = errors.New("sched: thread not found")

// Registry is the thread table.
type Registry struct {
	// mu protects threads and next.
	mu sync.RWMutex
	// threads holds live threads by id.
	threads map[int]*Thread
	// next is the id handed to the next spawned thread.
	next int
}

// NewRegistry creates an empty thread table.
func NewRegistry() *Registry {
	return &Registry{
		threads: make(map[int]*Thread),
		next:    1,
	}
}

// Spawn creates and registers a new thread.
func (r *Registry) Spawn() *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := NewThread(r.next)
	r.threads[t.id] = t
	r.next++
	return t
}

// Lookup returns the thread with the given id.
func (r *Registry) Lookup(id int) (*Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return t, nil
}

// Interrupt delivers an interruption to the thread with the given id.
func (r *Registry) Interrupt(id int) error {
	t, err := r.Lookup(id)
	if err != nil {
		return err
	}
	t.Interrupt()
	return nil
}

// Exit kills the thread and removes it from the table.
func (r *Registry) Exit(id int) error {
	r.mu.Lock()
	t, ok := r.threads[id]
	delete(r.threads, id)
	r.mu.Unlock()

	if !ok {
		return ErrThreadNotFound
	}
	t.Kill()
	return nil
}

// Len returns the number of live threads.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}
