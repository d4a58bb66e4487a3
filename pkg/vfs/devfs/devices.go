package devfs

import (
	"context"
	"sync"

	"kvfs/pkg/vfs"
)

// Null discards writes and reads as empty.
type Null struct {
	vfs.BaseNode
}

// Read implements vfs.Node.
func (n *Null) Read(ctx context.Context, off int64, buf []byte) (int, error) { return 0, nil }

// Write implements vfs.Node.
func (n *Null) Write(ctx context.Context, off int64, buf []byte) (int, error) { return len(buf), nil }

// Truncate implements vfs.Node.
func (n *Null) Truncate(length int64) error { return nil }

// Sync implements vfs.Node.
func (n *Null) Sync() error { return nil }

// Zero discards writes and reads as an endless run of zero bytes.
type Zero struct {
	vfs.BaseNode
}

// Read implements vfs.Node.
func (z *Zero) Read(ctx context.Context, off int64, buf []byte) (int, error) {
	clear(buf)
	return len(buf), nil
}

// Write implements vfs.Node.
func (z *Zero) Write(ctx context.Context, off int64, buf []byte) (int, error) { return len(buf), nil }

// Sync implements vfs.Node.
func (z *Zero) Sync() error { return nil }

// RAMDisk is a fixed-size block device held in memory.
type RAMDisk struct {
	vfs.BaseNode

	mu   sync.RWMutex
	data []byte
}

// Read implements vfs.Node.
func (d *RAMDisk) Read(ctx context.Context, off int64, buf []byte) (int, error) {
	if off < 0 {
		return 0, vfs.ErrInvalid
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if off >= int64(len(d.data)) {
		return 0, nil
	}
	return copy(buf, d.data[off:]), nil
}

// Write implements vfs.Node. Writes stop at the end of the device; a write
// starting there fails with ErrExhausted.
func (d *RAMDisk) Write(ctx context.Context, off int64, buf []byte) (int, error) {
	if off < 0 {
		return 0, vfs.ErrInvalid
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if off >= int64(len(d.data)) {
		return 0, vfs.ErrExhausted
	}
	return copy(d.data[off:], buf), nil
}

// Sync implements vfs.Node.
func (d *RAMDisk) Sync() error { return nil }
