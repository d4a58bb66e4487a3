package process

import (
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kvfs/pkg/sched"
	"kvfs/pkg/vfs"
	"kvfs/pkg/vfs/devfs"
)

// ErrInvalidPID is returned for PIDs that can never name a process.
var ErrInvalidPID = errors.New("process: invalid PID")

// Manager is the process table. It owns the namespace processes resolve
// paths in, the device volume pipes and terminals are allocated from, and
// the threads processes run on.
type Manager struct {
	ns      *vfs.Namespace
	dev     *devfs.FS
	threads *sched.Registry

	// mu protects the fields below.
	mu sync.RWMutex
	// procs holds live and zombie processes by PID.
	procs map[int]*Process
	// children tracks parent-child relationships.
	children map[int][]int
	// nextPID is the PID handed to the next process.
	nextPID int
	// limits are applied to new processes.
	limits Limits
}

// NewManager creates an empty process table over ns. dev supplies pipes
// and pseudo-terminals.
func NewManager(ns *vfs.Namespace, dev *devfs.FS) *Manager {
	return &Manager{
		ns:       ns,
		dev:      dev,
		threads:  sched.NewRegistry(),
		procs:    make(map[int]*Process),
		children: make(map[int][]int),
		nextPID:  1,
		limits:   DefaultLimits(),
	}
}

// Namespace returns the namespace processes resolve paths in.
func (m *Manager) Namespace() *vfs.Namespace { return m.ns }

// SetDefaultLimits sets the limits applied to processes spawned later.
func (m *Manager) SetDefaultLimits(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = l
}

// Spawn creates a process with no open descriptors whose working
// directory is cwd, which must name a directory.
func (m *Manager) Spawn(cwd string) (*Process, error) {
	cwd = vfs.CanonicalizePath(cwd, "/")
	dir, err := m.ns.ResolvePath(cwd, nil, true)
	if err != nil {
		return nil, err
	}
	if !dir.Base().IsDirectory() {
		return nil, vfs.ErrNotDirectory
	}
	return m.newProcess(0, cwd), nil
}

// Fork creates a child of parent sharing its working directory and every
// open file description.
func (m *Manager) Fork(parent *Process) (*Process, error) {
	if !parent.IsAlive() {
		return nil, ErrInvalidTransition
	}

	child := m.newProcess(parent.pid, parent.WorkingDirectory())

	parent.mu.Lock()
	child.files = make([]*file, len(parent.files))
	for fd, f := range parent.files {
		if f != nil {
			child.files[fd] = f.acquire()
		}
	}
	parent.mu.Unlock()

	m.mu.Lock()
	m.children[parent.pid] = append(m.children[parent.pid], child.pid)
	m.mu.Unlock()

	return child, nil
}

func (m *Manager) newProcess(parentPID int, cwd string) *Process {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &Process{
		pid:       m.nextPID,
		parentPID: parentPID,
		mgr:       m,
		thread:    m.threads.Spawn(),
		limits:    m.limits,
		createdAt: time.Now(),
		state:     StateRunning,
		cwd:       cwd,
	}
	m.nextPID++
	m.procs[p.pid] = p

	log.Debugf("[PROC] spawned %d (parent %d) in %s", p.pid, parentPID, cwd)
	return p
}

// Lookup returns the process with the given PID.
func (m *Manager) Lookup(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, ErrInvalidPID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.procs[pid]
	if !ok {
		return nil, ErrProcessNotFound
	}
	return p, nil
}

// Processes returns every process in the table ordered by PID.
func (m *Manager) Processes() []*Process {
	m.mu.RLock()
	defer m.mu.RUnlock()

	procs := make([]*Process, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].pid < procs[j].pid })
	return procs
}

// Children returns the PIDs of pid's children that have not been reaped.
func (m *Manager) Children(pid int) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.children[pid]...)
}

// Len returns the number of processes in the table.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.procs)
}

// Interrupt delivers an interruption to the process's thread. A blocked
// operation returns ErrInterrupted, or its partial count; otherwise the
// next blocking operation does.
func (m *Manager) Interrupt(pid int) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	return m.threads.Interrupt(p.thread.ID())
}

// Stop suspends the process. Whatever it is blocked in is interrupted.
func (m *Manager) Stop(pid int) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	if err := p.transitionTo(StateStopped); err != nil {
		return err
	}
	p.thread.Interrupt()
	return nil
}

// Continue resumes a stopped process and discards the interruption Stop
// left pending.
func (m *Manager) Continue(pid int) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	if err := p.transitionTo(StateRunning); err != nil {
		return err
	}
	p.thread.ClearInterrupt()
	return nil
}

// Exit terminates the process: every descriptor is closed and its thread
// is killed. The process stays in the table as a zombie until Reap.
func (m *Manager) Exit(pid, code int) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	if err := p.transitionTo(StateZombie); err != nil {
		return err
	}

	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()

	p.closeAll()
	m.threads.Exit(p.thread.ID())

	log.Debugf("[PROC] %d exited with %d", pid, code)
	return nil
}

// Reap removes a zombie from the table and returns its exit code.
func (m *Manager) Reap(pid int) (int, error) {
	p, err := m.Lookup(pid)
	if err != nil {
		return 0, err
	}
	if p.IsAlive() {
		return 0, ErrProcessRunning
	}

	m.mu.Lock()
	delete(m.procs, pid)
	siblings := m.children[p.parentPID]
	for i, c := range siblings {
		if c == pid {
			m.children[p.parentPID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	delete(m.children, pid)
	m.mu.Unlock()

	return p.ExitCode(), nil
}
