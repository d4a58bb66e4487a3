package vfs

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"kvfs/pkg/sched"
)

// Handle is an open reference to a node: the node, a position and the mode
// it was opened with. Handles are created by Open and released by Close;
// while a Handle is open the node's handle count includes it.
type Handle struct {
	node Node
	mode int

	// mu protects pos.
	mu  sync.Mutex
	pos int64

	closed atomic.Bool
}

// Node returns the node the handle refers to.
func (h *Handle) Node() Node { return h.node }

// Mode returns the flags the handle was opened with.
func (h *Handle) Mode() int { return h.mode }

// Pos returns the current position.
func (h *Handle) Pos() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool { return h.closed.Load() }

func (h *Handle) readable() error {
	if h.closed.Load() || h.mode&O_PATH != 0 {
		return ErrBadHandle
	}
	if h.mode&O_ACCMODE == O_WRONLY {
		return ErrBadHandle
	}
	return nil
}

func (h *Handle) writable() error {
	if h.closed.Load() || h.mode&O_PATH != 0 {
		return ErrBadHandle
	}
	if h.mode&O_ACCMODE == O_RDONLY {
		return ErrBadHandle
	}
	return nil
}

// ioContext strips the current thread from ctx for O_NONBLOCK handles, so
// a node that would have to wait fails with ErrWouldBlock instead.
func (h *Handle) ioContext(ctx context.Context) context.Context {
	if h.mode&O_NONBLOCK != 0 {
		return sched.WithThread(ctx, nil)
	}
	return ctx
}

// Read reads from the current position and advances it by the count read.
func (h *Handle) Read(ctx context.Context, buf []byte) (int, error) {
	if err := h.readable(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	pos := h.pos
	h.mu.Unlock()

	n, err := Read(h.ioContext(ctx), h.node, pos, buf)
	if n > 0 {
		h.mu.Lock()
		h.pos = pos + int64(n)
		h.mu.Unlock()
	}
	return n, err
}

// Write writes at the current position, or at the end of the node for
// O_APPEND handles, and advances the position.
func (h *Handle) Write(ctx context.Context, buf []byte) (int, error) {
	if err := h.writable(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	pos := h.pos
	if h.mode&O_APPEND != 0 {
		pos = h.node.Base().Size()
	}
	h.mu.Unlock()

	n, err := Write(h.ioContext(ctx), h.node, pos, buf)
	if n > 0 {
		h.mu.Lock()
		h.pos = pos + int64(n)
		h.mu.Unlock()
	}
	return n, err
}

// ReadAt reads at off without moving the position.
func (h *Handle) ReadAt(ctx context.Context, off int64, buf []byte) (int, error) {
	if err := h.readable(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, ErrInvalid
	}
	return Read(h.ioContext(ctx), h.node, off, buf)
}

// WriteAt writes at off without moving the position.
func (h *Handle) WriteAt(ctx context.Context, off int64, buf []byte) (int, error) {
	if err := h.writable(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, ErrInvalid
	}
	return Write(h.ioContext(ctx), h.node, off, buf)
}

// ReadDir returns the directory entry at index, or io.EOF past the end.
func (h *Handle) ReadDir(index int) (*DirectoryEntry, error) {
	if h.closed.Load() {
		return nil, ErrBadHandle
	}
	if index < 0 {
		return nil, ErrInvalid
	}
	return ReadDir(h.node, index)
}

// Seek moves the position. Seeking before the start is an error; seeking
// past the end is allowed.
func (h *Handle) Seek(off int64, whence int) (int64, error) {
	if h.closed.Load() {
		return 0, ErrBadHandle
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var base int64
	switch whence {
	case SEEK_SET:
	case SEEK_CUR:
		base = h.pos
	case SEEK_END:
		base = h.node.Base().Size()
	default:
		return 0, ErrInvalid
	}

	pos := base + off
	if pos < 0 {
		return 0, ErrInvalid
	}
	h.pos = pos
	return pos, nil
}

// Stat describes the node.
func (h *Handle) Stat() (Stat, error) {
	if h.closed.Load() {
		return Stat{}, ErrBadHandle
	}
	return StatNode(h.node), nil
}

// Ioctl forwards a control request to the node.
func (h *Handle) Ioctl(ctx context.Context, cmd, arg uint64) (int, error) {
	if h.closed.Load() || h.mode&O_PATH != 0 {
		return 0, ErrBadHandle
	}
	return Ioctl(ctx, h.node, cmd, arg)
}

// Truncate sets the node size. The handle must be writable.
func (h *Handle) Truncate(length int64) error {
	if err := h.writable(); err != nil {
		return err
	}
	return Truncate(h.node, length)
}

// Sync flushes the node.
func (h *Handle) Sync() error {
	if h.closed.Load() {
		return ErrBadHandle
	}
	return h.node.Sync()
}

// Close releases the handle. Closing twice returns ErrBadHandle and leaves
// the node's handle count alone.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return ErrBadHandle
	}
	release(h.node, h.mode)
	return nil
}

// ReadAll reads from the current position until end of data.
func (h *Handle) ReadAll(ctx context.Context) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := h.Read(ctx, buf)
		out = append(out, buf[:n]...)
		if err == io.EOF || (err == nil && n == 0) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
