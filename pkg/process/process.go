package process

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"kvfs/pkg/sched"
	"kvfs/pkg/vfs"
)

// ErrTooManyFiles is returned when the descriptor table is full.
var ErrTooManyFiles error = unix.EMFILE

// file is an open file description. Descriptors created by Dup, Fork and
// GrantPTY share one description, and with it the handle position.
type file struct {
	h    *vfs.Handle
	refs atomic.Int32
}

func newFile(h *vfs.Handle) *file {
	f := &file{h: h}
	f.refs.Store(1)
	return f
}

func (f *file) acquire() *file {
	f.refs.Add(1)
	return f
}

// release drops one reference and closes the handle with the last one.
func (f *file) release() error {
	if f.refs.Add(-1) == 0 {
		return f.h.Close()
	}
	return nil
}

// Process is a user process as seen by the file system: a working
// directory, a descriptor table and the thread issuing its operations.
type Process struct {
	// pid is the process identifier.
	pid int
	// parentPID is the PID of the parent process, 0 for none.
	parentPID int
	// mgr owns the process table and the namespace.
	mgr *Manager
	// thread blocks in this process's I/O and receives interruptions.
	thread *sched.Thread
	// limits bounds the descriptor table.
	limits Limits
	// createdAt is when the process was spawned.
	createdAt time.Time

	// mu protects the fields below.
	mu sync.Mutex
	// state is the lifecycle state.
	state State
	// exitCode is set by Exit.
	exitCode int
	// finishedAt is when the process became a zombie.
	finishedAt time.Time
	// cwd is the canonical working directory.
	cwd string
	// files is the descriptor table; closed descriptors are nil.
	files []*file
}

// PID returns the process identifier.
func (p *Process) PID() int { return p.pid }

// ParentPID returns the parent's PID, or 0.
func (p *Process) ParentPID() int { return p.parentPID }

// Thread returns the thread the process's operations run on.
func (p *Process) Thread() *sched.Thread { return p.thread }

// Context returns a context carrying the process's thread, for calling
// into vfs directly.
func (p *Process) Context() context.Context {
	return sched.WithThread(context.Background(), p.thread)
}

// WorkingDirectory returns the working directory path.
func (p *Process) WorkingDirectory() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// Handle returns the handle behind fd.
func (p *Process) Handle(fd int) (*vfs.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fd < 0 || fd >= len(p.files) || p.files[fd] == nil {
		return nil, vfs.ErrBadHandle
	}
	return p.files[fd].h, nil
}

// FileCount returns the number of open descriptors.
func (p *Process) FileCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, f := range p.files {
		if f != nil {
			n++
		}
	}
	return n
}

// install places f at the lowest free descriptor.
func (p *Process) install(f *file) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installLocked(f, 0)
}

func (p *Process) installLocked(f *file, min int) (int, error) {
	for fd := min; fd < len(p.files); fd++ {
		if p.files[fd] == nil {
			p.files[fd] = f
			return fd, nil
		}
	}
	if max(len(p.files), min) >= p.limits.MaxFiles {
		return -1, ErrTooManyFiles
	}
	for len(p.files) < min {
		p.files = append(p.files, nil)
	}
	p.files = append(p.files, f)
	return len(p.files) - 1, nil
}

// replace installs f at fd and returns what was there.
func (p *Process) replace(fd int, f *file) (*file, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fd < 0 || fd >= p.limits.MaxFiles {
		return nil, vfs.ErrBadHandle
	}
	for len(p.files) <= fd {
		p.files = append(p.files, nil)
	}
	old := p.files[fd]
	p.files[fd] = f
	return old, nil
}

func (p *Process) lookup(fd int) (*file, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fd < 0 || fd >= len(p.files) || p.files[fd] == nil {
		return nil, vfs.ErrBadHandle
	}
	return p.files[fd], nil
}

func (p *Process) remove(fd int) (*file, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fd < 0 || fd >= len(p.files) || p.files[fd] == nil {
		return nil, vfs.ErrBadHandle
	}
	f := p.files[fd]
	p.files[fd] = nil
	return f, nil
}

// closeAll empties the descriptor table.
func (p *Process) closeAll() {
	p.mu.Lock()
	files := p.files
	p.files = nil
	p.mu.Unlock()

	for _, f := range files {
		if f != nil {
			f.release()
		}
	}
}
