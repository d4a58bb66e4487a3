package devfs

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"kvfs/pkg/vfs"
)

// Default terminal size of a new pseudo-terminal.
const (
	DefaultRows = 24
	DefaultCols = 80
)

// PTY is a pseudo-terminal pair. Bytes written to the master are read from
// the slave and the other way round.
type PTY struct {
	index  int
	master *PTYEnd
	slave  *PTYEnd

	// input carries master writes to slave reads, output the reverse.
	input  pipeBuffer
	output pipeBuffer

	mu   sync.Mutex
	rows uint16
	cols uint16
}

func newPTY(fs *FS, index int) *PTY {
	p := &PTY{index: index, rows: DefaultRows, cols: DefaultCols}
	p.master = &PTYEnd{fs: fs, pty: p, master: true}
	p.slave = &PTYEnd{fs: fs, pty: p}

	fs.register(p.master, vfs.TypeCharDevice, 0o620)
	fs.register(p.slave, vfs.TypeCharDevice, 0o620)
	p.master.AddLink(-1)

	p.input.init(DefaultPipeCapacity, p.slave, p.master, &p.slave.watchers, &p.master.watchers)
	p.output.init(DefaultPipeCapacity, p.master, p.slave, &p.master.watchers, &p.slave.watchers)
	return p
}

// Index returns the pair's number.
func (p *PTY) Index() int { return p.index }

// SlaveName returns the device directory name of the slave.
func (p *PTY) SlaveName() string { return fmt.Sprintf("pty%d", p.index) }

// Master returns the controlling end.
func (p *PTY) Master() *PTYEnd { return p.master }

// Slave returns the terminal end.
func (p *PTY) Slave() *PTYEnd { return p.slave }

// WindowSize returns the terminal size.
func (p *PTY) WindowSize() (rows, cols uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows, p.cols
}

// SetWindowSize changes the terminal size.
func (p *PTY) SetWindowSize(rows, cols uint16) {
	p.mu.Lock()
	p.rows, p.cols = rows, cols
	p.mu.Unlock()
}

// PTYEnd is one side of a PTY.
type PTYEnd struct {
	vfs.BaseNode

	fs       *FS
	pty      *PTY
	master   bool
	watchers vfs.WatchList
}

var _ vfs.Node = (*PTYEnd)(nil)

// IsMaster reports whether this is the controlling end.
func (e *PTYEnd) IsMaster() bool { return e.master }

// PTY returns the pair the end belongs to.
func (e *PTYEnd) PTY() *PTY { return e.pty }

// in is the buffer this end reads, out the one it writes.
func (e *PTYEnd) in() *pipeBuffer {
	if e.master {
		return &e.pty.output
	}
	return &e.pty.input
}

func (e *PTYEnd) out() *pipeBuffer {
	if e.master {
		return &e.pty.input
	}
	return &e.pty.output
}

// Open implements vfs.Node.
func (e *PTYEnd) Open(ctx context.Context, flags int) error {
	reader, writer := accessEnds(flags)
	e.in().open(reader, false)
	e.out().open(false, writer)
	return nil
}

// Close implements vfs.Node.
func (e *PTYEnd) Close(flags int) {
	reader, writer := accessEnds(flags)
	e.in().close(reader, false)
	e.out().close(false, writer)
}

// Read implements vfs.Node.
func (e *PTYEnd) Read(ctx context.Context, off int64, buf []byte) (int, error) {
	return e.in().read(ctx, buf)
}

// Write implements vfs.Node.
func (e *PTYEnd) Write(ctx context.Context, off int64, buf []byte) (int, error) {
	return e.out().write(ctx, buf)
}

// Ioctl implements vfs.Node.
//
// TCGETS succeeds on either end and identifies the node as a terminal.
// TIOCGWINSZ returns the size packed as rows<<16 | cols and TIOCSWINSZ
// takes it packed the same way. TIOCGPTN returns the pair number and
// FIONREAD the bytes waiting to be read.
func (e *PTYEnd) Ioctl(ctx context.Context, cmd, arg uint64) (int, error) {
	switch cmd {
	case unix.TCGETS:
		return 0, nil
	case unix.TIOCGWINSZ:
		rows, cols := e.pty.WindowSize()
		return int(rows)<<16 | int(cols), nil
	case unix.TIOCSWINSZ:
		e.pty.SetWindowSize(uint16(arg>>16), uint16(arg))
		return 0, nil
	case unix.TIOCGPTN:
		return e.pty.index, nil
	case unix.TIOCINQ:
		return e.in().buffered(), nil
	}
	return 0, vfs.ErrNotTTY
}

// CanRead implements vfs.Node.
func (e *PTYEnd) CanRead() bool { return e.in().canRead() }

// CanWrite implements vfs.Node.
func (e *PTYEnd) CanWrite() bool { return e.out().canWrite() }

// Watch implements vfs.Node.
func (e *PTYEnd) Watch(w *vfs.Watcher, events vfs.PollEvents) error {
	e.watchers.Add(w, events)
	return nil
}

// Unwatch implements vfs.Node.
func (e *PTYEnd) Unwatch(w *vfs.Watcher) { e.watchers.Remove(w) }

// Release implements vfs.Releaser. Once the master's last handle is gone
// the slave's name is removed.
func (e *PTYEnd) Release() {
	if e.master {
		e.fs.root.Unlink(&vfs.DirectoryEntry{Name: e.pty.SlaveName()}, false)
	}
	e.fs.forget(e)
}
