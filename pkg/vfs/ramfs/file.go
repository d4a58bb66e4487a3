package ramfs

import (
	"context"
	"math"
	"sync"
	"time"

	"kvfs/pkg/vfs"
)

// MaxFileSize bounds the length of a single file.
const MaxFileSize = 1 << 32

// File is an in-memory regular file. Writing past the end grows the file
// and fills the gap with zeros.
type File struct {
	vfs.BaseNode
	times stamps

	fs *FS

	mu   sync.RWMutex
	data []byte // GUARDED_BY(mu)
}

var _ vfs.Node = (*File)(nil)

// Read implements vfs.Node.
func (f *File) Read(ctx context.Context, off int64, buf []byte) (int, error) {
	if off < 0 {
		return 0, vfs.ErrInvalid
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(buf, f.data[off:]), nil
}

// Write implements vfs.Node.
func (f *File) Write(ctx context.Context, off int64, buf []byte) (int, error) {
	if off < 0 || off > math.MaxInt64-int64(len(buf)) {
		return 0, vfs.ErrInvalid
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	end := off + int64(len(buf))
	if end > int64(len(f.data)) {
		if err := f.resizeLocked(end); err != nil {
			return 0, err
		}
	}
	n := copy(f.data[off:], buf)

	f.times.modified(f.fs.clock.Now())
	return n, nil
}

// Truncate implements vfs.Node.
func (f *File) Truncate(length int64) error {
	if length < 0 {
		return vfs.ErrInvalid
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.resizeLocked(length); err != nil {
		return err
	}
	f.times.modified(f.fs.clock.Now())
	return nil
}

func (f *File) resizeLocked(length int64) error {
	if length > MaxFileSize {
		return vfs.ErrExhausted
	}
	old := int64(len(f.data))
	if err := f.fs.reserve(length - old); err != nil {
		return err
	}

	switch {
	case length <= int64(cap(f.data)):
		data := f.data[:length]
		for i := old; i < length; i++ {
			data[i] = 0
		}
		f.data = data
	default:
		data := make([]byte, length, growCap(length))
		copy(data, f.data)
		f.data = data
	}

	f.SetSize(length)
	return nil
}

func growCap(length int64) int64 {
	c := int64(64)
	for c < length {
		if c > math.MaxInt64/2 {
			return length
		}
		c *= 2
	}
	return c
}

// free returns the file's bytes to the volume.
func (f *File) free() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fs.reserve(-int64(len(f.data)))
	f.data = nil
	f.SetSize(0)
}

// Sync implements vfs.Node. Memory is the backing store.
func (f *File) Sync() error { return nil }

// Release implements vfs.Releaser.
func (f *File) Release() { f.fs.forget(f) }

func (f *File) touchChange() { f.times.changed(f.fs.clock.Now()) }

// ModTime returns the last time the contents changed.
func (f *File) ModTime() time.Time { return f.times.ModTime() }

// Symlink is an in-memory symbolic link.
type Symlink struct {
	vfs.BaseNode
	times stamps

	fs     *FS
	target string
}

var _ vfs.Node = (*Symlink)(nil)

// ReadLink implements vfs.Node.
func (s *Symlink) ReadLink() (string, error) {
	return s.target, nil
}

// Release implements vfs.Releaser.
func (s *Symlink) Release() { s.fs.forget(s) }

// ModTime returns the creation time of the link.
func (s *Symlink) ModTime() time.Time { return s.times.ModTime() }
