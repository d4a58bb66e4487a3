package process

import (
	"io"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"kvfs/pkg/vfs"
)

// The methods in this file are the system call surface. Each returns a
// non-negative result or a negated errno, as vfs.Result encodes them.

// wdFor resolves the working directory when any of paths is relative.
func (p *Process) wdFor(paths ...string) (vfs.Node, error) {
	for _, path := range paths {
		if !vfs.IsAbs(path) {
			return p.mgr.ns.ResolvePath(p.WorkingDirectory(), nil, true)
		}
	}
	return nil, nil
}

func (p *Process) handle(fd int, op string) (*vfs.Handle, error) {
	h, err := p.Handle(fd)
	if err != nil {
		log.Warnf("[PROC] %d: %s: invalid descriptor %d", p.pid, op, fd)
	}
	return h, err
}

// Open opens path and returns the new descriptor.
func (p *Process) Open(path string, flags int) int64 {
	return p.OpenFile(path, flags, 0o644)
}

// OpenFile is Open with the permission bits used by O_CREATE.
func (p *Process) OpenFile(path string, flags int, perm uint32) int64 {
	ctx := p.Context()

	var h *vfs.Handle
	var err error
	if path == "/" {
		h, err = p.mgr.ns.Open(ctx, path, flags, nil)
	} else {
		var wd vfs.Node
		if wd, err = p.wdFor(path); err == nil {
			h, err = p.mgr.ns.OpenFile(ctx, path, flags, perm, wd)
		}
	}
	if err != nil {
		log.Debugf("[PROC] %d: open %s: %v", p.pid, path, err)
		return vfs.Result(0, err)
	}

	fd, err := p.install(newFile(h))
	if err != nil {
		h.Close()
		return vfs.Result(0, err)
	}
	return int64(fd)
}

// Close releases fd.
func (p *Process) Close(fd int) int64 {
	f, err := p.remove(fd)
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, f.release())
}

// Read reads from fd at its position.
func (p *Process) Read(fd int, buf []byte) int64 {
	h, err := p.handle(fd, "read")
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(h.Read(p.Context(), buf))
}

// Write writes to fd at its position.
func (p *Process) Write(fd int, buf []byte) int64 {
	h, err := p.handle(fd, "write")
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(h.Write(p.Context(), buf))
}

// PRead reads from fd at off without moving its position.
func (p *Process) PRead(fd int, buf []byte, off int64) int64 {
	h, err := p.handle(fd, "pread")
	if err != nil {
		return vfs.Result(0, err)
	}
	if off < 0 {
		return vfs.Result(0, vfs.ErrInvalid)
	}
	return vfs.Result(h.ReadAt(p.Context(), off, buf))
}

// PWrite writes to fd at off without moving its position.
func (p *Process) PWrite(fd int, buf []byte, off int64) int64 {
	h, err := p.handle(fd, "pwrite")
	if err != nil {
		return vfs.Result(0, err)
	}
	if off < 0 {
		return vfs.Result(0, vfs.ErrInvalid)
	}
	return vfs.Result(h.WriteAt(p.Context(), off, buf))
}

// LSeek moves the position of fd and returns the new position.
func (p *Process) LSeek(fd int, off int64, whence int) int64 {
	h, err := p.handle(fd, "lseek")
	if err != nil {
		return vfs.Result(0, err)
	}
	pos, err := h.Seek(off, whence)
	if err != nil {
		return vfs.Result(0, err)
	}
	return pos
}

// Stat writes the status record of fd into buf.
func (p *Process) Stat(fd int, buf []byte) int64 {
	h, err := p.handle(fd, "stat")
	if err != nil {
		return vfs.Result(0, err)
	}
	st, err := h.Stat()
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, st.MarshalTo(buf))
}

// StatPath writes the status record of the node at path into buf. A final
// symbolic link is described itself unless follow is set.
func (p *Process) StatPath(path string, buf []byte, follow bool) int64 {
	wd, err := p.wdFor(path)
	if err != nil {
		return vfs.Result(0, err)
	}
	st, err := p.mgr.ns.Stat(path, follow, wd)
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, st.MarshalTo(buf))
}

// ReadDir writes the directory entry at index of fd into buf. It returns 1
// when an entry was written and 0 past the last one.
func (p *Process) ReadDir(fd int, buf []byte, index int) int64 {
	h, err := p.handle(fd, "readdir")
	if err != nil {
		return vfs.Result(0, err)
	}
	if len(buf) < vfs.DirentSize || index < 0 {
		return vfs.Result(0, vfs.ErrInvalid)
	}

	ent, err := h.ReadDir(index)
	if err == io.EOF {
		return 0
	}
	if err != nil {
		return vfs.Result(0, err)
	}

	d := vfs.NewDirent(ent)
	if err := d.MarshalTo(buf); err != nil {
		return vfs.Result(0, err)
	}
	return 1
}

// Ioctl forwards a control request to fd.
func (p *Process) Ioctl(fd int, cmd, arg uint64) int64 {
	h, err := p.handle(fd, "ioctl")
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(h.Ioctl(p.Context(), cmd, arg))
}

// Truncate sets the size of the file behind fd.
func (p *Process) Truncate(fd int, length int64) int64 {
	h, err := p.handle(fd, "truncate")
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, h.Truncate(length))
}

// Sync flushes fd to its backing store.
func (p *Process) Sync(fd int) int64 {
	h, err := p.handle(fd, "sync")
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, h.Sync())
}

// Chdir changes the working directory. The path is canonicalized against
// the current one before it is resolved.
func (p *Process) Chdir(path string) int64 {
	if err := vfs.ValidatePath(path); err != nil {
		return vfs.Result(0, err)
	}

	canonical := vfs.CanonicalizePath(path, p.WorkingDirectory())
	node, err := p.mgr.ns.ResolvePath(canonical, nil, true)
	if err != nil {
		log.Debugf("[PROC] %d: chdir: could not find %s", p.pid, canonical)
		return vfs.Result(0, err)
	}
	if !node.Base().IsDirectory() {
		return vfs.Result(0, vfs.ErrNotDirectory)
	}

	p.mu.Lock()
	p.cwd = canonical
	p.mu.Unlock()
	return 0
}

// GetCWD copies the working directory and a terminating NUL into buf and
// returns the length of the path.
func (p *Process) GetCWD(buf []byte) int64 {
	cwd := p.WorkingDirectory()
	if len(cwd)+1 > len(buf) {
		return vfs.Result(0, unix.ERANGE)
	}
	n := copy(buf, cwd)
	buf[n] = 0
	return int64(n)
}

// Link makes newPath another name for oldPath.
func (p *Process) Link(oldPath, newPath string) int64 {
	wd, err := p.wdFor(oldPath, newPath)
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, p.mgr.ns.Link(oldPath, newPath, wd))
}

// Unlink removes the name path. Directories must be empty.
func (p *Process) Unlink(path string) int64 {
	wd, err := p.wdFor(path)
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, p.mgr.ns.Remove(path, false, wd))
}

// Mkdir creates a directory.
func (p *Process) Mkdir(path string, perm uint32) int64 {
	wd, err := p.wdFor(path)
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, p.mgr.ns.Mkdir(path, perm, wd))
}

// Symlink creates a symbolic link at path pointing at target.
func (p *Process) Symlink(target, path string) int64 {
	wd, err := p.wdFor(path)
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, p.mgr.ns.Symlink(target, path, wd))
}

// ReadLink copies the target of the symbolic link at path into buf and
// returns its length. The target is truncated to fit.
func (p *Process) ReadLink(path string, buf []byte) int64 {
	wd, err := p.wdFor(path)
	if err != nil {
		return vfs.Result(0, err)
	}
	node, err := p.mgr.ns.ResolvePath(path, wd, false)
	if err != nil {
		return vfs.Result(0, err)
	}
	target, err := node.ReadLink()
	if err != nil {
		return vfs.Result(0, err)
	}
	return int64(copy(buf, target))
}

// Rename moves oldPath to newPath.
func (p *Process) Rename(oldPath, newPath string) int64 {
	wd, err := p.wdFor(oldPath, newPath)
	if err != nil {
		return vfs.Result(0, err)
	}
	return vfs.Result(0, p.mgr.ns.Rename(oldPath, newPath, wd))
}

// Dup returns a new descriptor sharing fd's file description.
func (p *Process) Dup(fd int) int64 {
	f, err := p.lookup(fd)
	if err != nil {
		return vfs.Result(0, err)
	}
	nfd, err := p.install(f.acquire())
	if err != nil {
		f.release()
		return vfs.Result(0, err)
	}
	return int64(nfd)
}

// Dup2 makes newfd share fd's file description, closing what newfd
// referred to before.
func (p *Process) Dup2(fd, newfd int) int64 {
	f, err := p.lookup(fd)
	if err != nil {
		return vfs.Result(0, err)
	}
	if fd == newfd {
		return int64(newfd)
	}
	old, err := p.replace(newfd, f.acquire())
	if err != nil {
		f.release()
		return vfs.Result(0, err)
	}
	if old != nil {
		old.release()
	}
	return int64(newfd)
}

// Pipe creates an anonymous pipe and stores its read and write
// descriptors in fds.
func (p *Process) Pipe(fds *[2]int) int64 {
	ctx := p.Context()
	pipe := p.mgr.dev.NewPipe(0)

	r, err := vfs.Open(ctx, pipe, vfs.O_RDONLY)
	if err != nil {
		return vfs.Result(0, err)
	}
	w, err := vfs.Open(ctx, pipe, vfs.O_WRONLY)
	if err != nil {
		r.Close()
		return vfs.Result(0, err)
	}

	rfd, err := p.install(newFile(r))
	if err != nil {
		r.Close()
		w.Close()
		return vfs.Result(0, err)
	}
	wfd, err := p.install(newFile(w))
	if err != nil {
		p.Close(rfd)
		w.Close()
		return vfs.Result(0, err)
	}

	fds[0], fds[1] = rfd, wfd
	return 0
}

// GrantPTY allocates a pseudo-terminal. Descriptors 0, 1 and 2 are
// replaced by the slave and the master is returned as a new descriptor.
func (p *Process) GrantPTY() int64 {
	ctx := p.Context()

	pty, err := p.mgr.dev.NewPTY()
	if err != nil {
		return vfs.Result(0, err)
	}
	master, err := vfs.Open(ctx, pty.Master(), vfs.O_RDWR)
	if err != nil {
		return vfs.Result(0, err)
	}
	slave, err := vfs.Open(ctx, pty.Slave(), vfs.O_RDWR)
	if err != nil {
		master.Close()
		return vfs.Result(0, err)
	}

	p.mu.Lock()
	mfd, err := p.installLocked(newFile(master), 3)
	p.mu.Unlock()
	if err != nil {
		slave.Close()
		master.Close()
		return vfs.Result(0, err)
	}

	sf := newFile(slave)
	defer sf.release()
	for fd := 0; fd < 3; fd++ {
		old, err := p.replace(fd, sf.acquire())
		if err != nil {
			sf.release()
			log.Warnf("[PROC] %d: installing terminal at fd %d: %v", p.pid, fd, err)
			if f, rerr := p.remove(mfd); rerr == nil {
				f.release()
			}
			return vfs.Result(0, err)
		}
		if old != nil {
			old.release()
		}
	}

	log.Debugf("[PROC] %d: granted %s", p.pid, pty.SlaveName())
	return int64(mfd)
}
