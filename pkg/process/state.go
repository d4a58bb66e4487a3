package process

import (
	"errors"
	"time"
)

// State transition errors.
var (
	ErrInvalidTransition = errors.New("process: invalid state transition")
	ErrProcessNotFound   = errors.New("process: not found")
	ErrProcessRunning    = errors.New("process: still running")
)

// State is the lifecycle state of a process.
type State string

const (
	// StateRunning means the process may issue operations.
	StateRunning State = "running"
	// StateStopped means the process is suspended until continued.
	StateStopped State = "stopped"
	// StateZombie means the process has exited and its descriptors are
	// closed; it stays in the table until reaped.
	StateZombie State = "zombie"
)

type transition struct {
	from, to State
}

var validTransitions = []transition{
	{StateRunning, StateStopped},
	{StateStopped, StateRunning},
	{StateRunning, StateZombie},
	{StateStopped, StateZombie},
}

// IsValidTransition reports whether a process may move from one state to
// another.
func IsValidTransition(from, to State) bool {
	for _, t := range validTransitions {
		if t.from == from && t.to == to {
			return true
		}
	}
	return false
}

// State returns the current state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// transitionTo moves the process to a new state.
func (p *Process) transitionTo(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !IsValidTransition(p.state, to) {
		return ErrInvalidTransition
	}
	p.state = to
	if to == StateZombie {
		p.finishedAt = time.Now()
	}
	return nil
}

// IsAlive reports whether the process has not exited.
func (p *Process) IsAlive() bool {
	return p.State() != StateZombie
}

// ExitCode returns the exit code. It is meaningful once the process is a
// zombie.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Lifetime returns how long the process ran, or has been running.
func (p *Process) Lifetime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateZombie {
		return p.finishedAt.Sub(p.createdAt)
	}
	return time.Since(p.createdAt)
}
