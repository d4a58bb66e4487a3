// Package ramfs provides an in-memory volume. It is the usual root volume
// and is useful for ephemeral storage and tests.
package ramfs

import (
	"fmt"
	"sync"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"kvfs/pkg/vfs"
)

// RootIno is the inode number of the root directory.
const RootIno vfs.Ino = 1

// umask is applied to the permission bits of new nodes.
const umask = 0o022

// FS is an in-memory volume.
type FS struct {
	id    vfs.VolumeID
	name  string
	clock timeutil.Clock
	root  *Dir

	// capacity bounds the bytes held by all files; zero means no bound.
	capacity int64

	// mu guards the fields below.
	mu syncutil.InvariantMutex

	// inodes holds every node that still has a name or an open handle.
	//
	// INVARIANT: For all k, inodes[k].Base().Inode() == k
	// INVARIANT: For all k, RootIno <= k < nextIno
	// INVARIANT: inodes[RootIno] == root
	inodes  map[vfs.Ino]vfs.Node // GUARDED_BY(mu)
	nextIno vfs.Ino              // GUARDED_BY(mu)
	used    int64                // GUARDED_BY(mu)
}

// Option configures an FS.
type Option func(*FS)

// WithClock sets the clock used for timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(fs *FS) { fs.clock = c }
}

// WithCapacity bounds the total size of all files.
func WithCapacity(bytes int64) Option {
	return func(fs *FS) { fs.capacity = bytes }
}

// New creates an empty volume whose root directory has the given
// permission bits.
func New(id vfs.VolumeID, name string, perm uint32, opts ...Option) *FS {
	fs := &FS{
		id:      id,
		name:    name,
		clock:   timeutil.RealClock(),
		inodes:  make(map[vfs.Ino]vfs.Node),
		nextIno: RootIno,
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	fs.mu.Lock()
	fs.root = fs.newDirLocked(perm)
	fs.mu.Unlock()
	return fs
}

func (fs *FS) checkInvariants() {
	for ino, n := range fs.inodes {
		if n.Base().Inode() != ino {
			panic(fmt.Sprintf("ramfs: inode mismatch: %v vs. %v", n.Base().Inode(), ino))
		}
		if ino < RootIno || ino >= fs.nextIno {
			panic(fmt.Sprintf("ramfs: illegal inode %v", ino))
		}
	}
	if fs.root != nil && fs.inodes[RootIno] != vfs.Node(fs.root) {
		panic("ramfs: root missing from inode table")
	}
	if fs.used < 0 {
		panic(fmt.Sprintf("ramfs: negative usage %d", fs.used))
	}
}

// ID implements vfs.Volume.
func (fs *FS) ID() vfs.VolumeID { return fs.id }

// Name implements vfs.Volume.
func (fs *FS) Name() string { return fs.name }

// Root implements vfs.Volume.
func (fs *FS) Root() vfs.Node { return fs.root }

// RootDir returns the root directory with its concrete type.
func (fs *FS) RootDir() *Dir { return fs.root }

// Lookup implements vfs.Volume.
func (fs *FS) Lookup(ino vfs.Ino) (vfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.inodes[ino]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return n, nil
}

// Len returns the number of live nodes, the root included.
func (fs *FS) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.inodes)
}

// Used returns the bytes held by files.
func (fs *FS) Used() int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.used
}

// reserve accounts for delta more bytes of file data.
func (fs *FS) reserve(delta int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if delta > 0 && fs.capacity > 0 && fs.used+delta > fs.capacity {
		return vfs.ErrExhausted
	}
	fs.used += delta
	return nil
}

func (fs *FS) allocLocked(n vfs.Node) {
	fs.inodes[n.Base().Inode()] = n
}

func (fs *FS) nextInoLocked() vfs.Ino {
	ino := fs.nextIno
	fs.nextIno++
	return ino
}

func (fs *FS) newDirLocked(perm uint32) *Dir {
	d := &Dir{fs: fs, index: make(map[string]int)}
	d.Init(vfs.TypeDirectory, fs.id, fs.nextInoLocked(), perm)
	d.times.init(fs.clock.Now())
	d.mu = syncutil.NewInvariantMutex(d.checkInvariants)
	fs.allocLocked(d)
	return d
}

func (fs *FS) newFile(perm uint32) *File {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f := &File{fs: fs}
	f.Init(vfs.TypeFile, fs.id, fs.nextInoLocked(), perm&^umask)
	f.times.init(fs.clock.Now())
	fs.allocLocked(f)
	return f
}

func (fs *FS) newDir(perm uint32) *Dir {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.newDirLocked(perm &^ umask)
}

func (fs *FS) newSymlink(target string) *Symlink {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	s := &Symlink{fs: fs, target: target}
	s.Init(vfs.TypeSymlink, fs.id, fs.nextInoLocked(), 0o777)
	s.SetSize(int64(len(target)))
	s.times.init(fs.clock.Now())
	fs.allocLocked(s)
	return s
}

// forget drops n from the inode table once it has neither names nor open
// handles, and ends any waits still pending on it.
func (fs *FS) forget(n vfs.Node) {
	b := n.Base()
	if b.Nlink() > 0 || b.HandleCount() > 0 {
		return
	}

	fs.mu.Lock()
	if cur, ok := fs.inodes[b.Inode()]; ok && cur == n && b.Inode() != RootIno {
		delete(fs.inodes, b.Inode())
	}
	fs.mu.Unlock()

	if f, ok := n.(*File); ok {
		f.free()
	}
	b.Destroy()
}

// stamps holds the modification and change times of a node.
type stamps struct {
	mu    sync.Mutex
	mtime time.Time
	ctime time.Time
}

func (s *stamps) init(now time.Time) {
	s.mtime = now
	s.ctime = now
}

func (s *stamps) modified(now time.Time) {
	s.mu.Lock()
	s.mtime = now
	s.ctime = now
	s.mu.Unlock()
}

func (s *stamps) changed(now time.Time) {
	s.mu.Lock()
	s.ctime = now
	s.mu.Unlock()
}

// ModTime returns the last modification time.
func (s *stamps) ModTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mtime
}

// ChangeTime returns the last metadata change time.
func (s *stamps) ChangeTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctime
}
