package vfs

import (
	"context"
	"sync"

	"kvfs/pkg/ksync"
)

// Node is one object in the filesystem tree. Backing stores implement Node by
// embedding BaseNode, which supplies metadata, the node lock, the blocked
// list and a default body for every capability; a store overrides only what
// its node type supports. Every capability is therefore always callable and
// answers with an error when unsupported.
type Node interface {
	// Base returns the node's shared metadata and wait list.
	Base() *BaseNode

	// Read copies up to len(buf) bytes starting at off and returns the
	// number of bytes read, which may be short. Zero with a nil error is
	// end of data.
	Read(ctx context.Context, off int64, buf []byte) (int, error)
	// Write stores buf at off and returns the number of bytes written.
	Write(ctx context.Context, off int64, buf []byte) (int, error)

	// Open is called when a handle is about to be created on the node.
	Open(ctx context.Context, flags int) error
	// Close is called after a handle with the given flags went away.
	Close(flags int)

	// ReadDir returns the entry at index, or io.EOF past the last one.
	ReadDir(index int) (*DirectoryEntry, error)
	// FindDir looks name up in the directory.
	FindDir(name string) (Node, error)

	// Create makes a regular file for ent.Name; on success ent.Node and
	// ent.Inode describe the new node.
	Create(ent *DirectoryEntry, mode uint32) error
	// CreateDirectory is Create for directories.
	CreateDirectory(ent *DirectoryEntry, mode uint32) error

	// ReadLink returns the target of a symbolic link.
	ReadLink() (string, error)
	// Link adds target to the directory under ent.Name.
	Link(target Node, ent *DirectoryEntry) error
	// Unlink removes ent.Name from the directory. A non-empty directory is
	// only removed when unlinkDirectories is set.
	Unlink(ent *DirectoryEntry, unlinkDirectories bool) error

	// Truncate sets the size of the node.
	Truncate(length int64) error
	// Ioctl performs a device-specific control operation.
	Ioctl(ctx context.Context, cmd, arg uint64) (int, error)
	// Sync flushes the node to its backing store.
	Sync() error

	// CanRead reports whether a Read would return without blocking.
	CanRead() bool
	// CanWrite reports whether a Write would return without blocking.
	CanWrite() bool

	// Watch subscribes w to the given readiness events.
	Watch(w *Watcher, events PollEvents) error
	// Unwatch drops every subscription of w.
	Unwatch(w *Watcher)
}

// BaseNode carries the state every node shares. It must be initialised with
// Init before use.
type BaseNode struct {
	// meta protects the metadata fields below.
	meta sync.Mutex
	// flags holds the type bits.
	flags uint32
	// pmask holds the permission bits.
	pmask uint32
	// uid is the owner id.
	uid int32
	// inode is the inode number within the volume.
	inode Ino
	// size is the node size in bytes.
	size int64
	// nlink is the number of hard links.
	nlink int32
	// handles is the number of live handles.
	handles int32
	// volume is the owning volume.
	volume VolumeID
	// lastErr is the last error recorded on the node.
	lastErr error
	// parent names the containing directory.
	parent NodeKey

	// lock serializes structural mutation against readers.
	lock ksync.ReadWriteLock
	// blocked holds the pending waits on this node.
	blocked blockedList
}

// Init sets the identity of the node.
func (b *BaseNode) Init(typ NodeType, volume VolumeID, inode Ino, perm uint32) {
	b.meta.Lock()
	defer b.meta.Unlock()

	b.flags = uint32(typ)
	b.pmask = perm & 0o7777
	b.volume = volume
	b.inode = inode
	b.nlink = 1
}

// Base implements Node.
func (b *BaseNode) Base() *BaseNode {
	return b
}

// Type returns the node type.
func (b *BaseNode) Type() NodeType {
	b.meta.Lock()
	defer b.meta.Unlock()
	return NodeType(b.flags & TypeMask)
}

// IsFile reports whether the node is a regular file.
func (b *BaseNode) IsFile() bool { return b.Type() == TypeFile }

// IsDirectory reports whether the node is a directory.
func (b *BaseNode) IsDirectory() bool { return b.Type() == TypeDirectory }

// IsMountPoint reports whether the node is a mount point.
func (b *BaseNode) IsMountPoint() bool { return b.Type() == TypeMountPoint }

// IsBlockDevice reports whether the node is a block device.
func (b *BaseNode) IsBlockDevice() bool { return b.Type() == TypeBlockDevice }

// IsCharDevice reports whether the node is a character device.
func (b *BaseNode) IsCharDevice() bool { return b.Type() == TypeCharDevice }

// IsSymlink reports whether the node is a symbolic link.
func (b *BaseNode) IsSymlink() bool { return b.Type() == TypeSymlink }

// IsSocket reports whether the node is a socket.
func (b *BaseNode) IsSocket() bool { return b.Type() == TypeSocket }

// IsFIFO reports whether the node is a pipe.
func (b *BaseNode) IsFIFO() bool { return b.Type() == TypeFIFO }

// Perm returns the permission bits.
func (b *BaseNode) Perm() uint32 {
	b.meta.Lock()
	defer b.meta.Unlock()
	return b.pmask
}

// SetPerm replaces the permission bits.
func (b *BaseNode) SetPerm(perm uint32) {
	b.meta.Lock()
	b.pmask = perm & 0o7777
	b.meta.Unlock()
}

// UID returns the owner id.
func (b *BaseNode) UID() int32 {
	b.meta.Lock()
	defer b.meta.Unlock()
	return b.uid
}

// SetUID replaces the owner id.
func (b *BaseNode) SetUID(uid int32) {
	b.meta.Lock()
	b.uid = uid
	b.meta.Unlock()
}

// Inode returns the inode number.
func (b *BaseNode) Inode() Ino {
	b.meta.Lock()
	defer b.meta.Unlock()
	return b.inode
}

// VolumeID returns the owning volume.
func (b *BaseNode) VolumeID() VolumeID {
	b.meta.Lock()
	defer b.meta.Unlock()
	return b.volume
}

// Key returns the node's registry key.
func (b *BaseNode) Key() NodeKey {
	b.meta.Lock()
	defer b.meta.Unlock()
	return NodeKey{Volume: b.volume, Inode: b.inode}
}

// Size returns the size in bytes.
func (b *BaseNode) Size() int64 {
	b.meta.Lock()
	defer b.meta.Unlock()
	return b.size
}

// SetSize records a new size.
func (b *BaseNode) SetSize(size int64) {
	b.meta.Lock()
	b.size = size
	b.meta.Unlock()
}

// Nlink returns the hard link count.
func (b *BaseNode) Nlink() int32 {
	b.meta.Lock()
	defer b.meta.Unlock()
	return b.nlink
}

// AddLink adjusts the hard link count by delta and returns the new count.
func (b *BaseNode) AddLink(delta int32) int32 {
	b.meta.Lock()
	defer b.meta.Unlock()
	b.nlink += delta
	if b.nlink < 0 {
		b.nlink = 0
	}
	return b.nlink
}

// HandleCount returns the number of live handles on the node.
func (b *BaseNode) HandleCount() int {
	b.meta.Lock()
	defer b.meta.Unlock()
	return int(b.handles)
}

func (b *BaseNode) addHandle() {
	b.meta.Lock()
	b.handles++
	b.meta.Unlock()
}

func (b *BaseNode) dropHandle() int {
	b.meta.Lock()
	defer b.meta.Unlock()
	if b.handles > 0 {
		b.handles--
	}
	return int(b.handles)
}

// LastError returns the last error recorded on the node.
func (b *BaseNode) LastError() error {
	b.meta.Lock()
	defer b.meta.Unlock()
	return b.lastErr
}

// SetError records err as the node's last error.
func (b *BaseNode) SetError(err error) {
	b.meta.Lock()
	b.lastErr = err
	b.meta.Unlock()
}

// Parent returns the key of the containing directory.
func (b *BaseNode) Parent() NodeKey {
	b.meta.Lock()
	defer b.meta.Unlock()
	return b.parent
}

// SetParent records the containing directory.
func (b *BaseNode) SetParent(k NodeKey) {
	b.meta.Lock()
	b.parent = k
	b.meta.Unlock()
}

// NodeLock returns the lock serializing structural changes to the node.
func (b *BaseNode) NodeLock() *ksync.ReadWriteLock {
	return &b.lock
}

// Read implements Node.
func (b *BaseNode) Read(ctx context.Context, off int64, buf []byte) (int, error) {
	if b.IsDirectory() {
		return 0, ErrIsDirectory
	}
	return 0, ErrNotSupported
}

// Write implements Node.
func (b *BaseNode) Write(ctx context.Context, off int64, buf []byte) (int, error) {
	if b.IsDirectory() {
		return 0, ErrIsDirectory
	}
	return 0, ErrNotSupported
}

// Open implements Node.
func (b *BaseNode) Open(ctx context.Context, flags int) error { return nil }

// Close implements Node.
func (b *BaseNode) Close(flags int) {}

// notDir is the default answer of directory operations.
func (b *BaseNode) notDir() error {
	if b.IsDirectory() {
		return ErrNotSupported
	}
	return ErrNotDirectory
}

// ReadDir implements Node.
func (b *BaseNode) ReadDir(index int) (*DirectoryEntry, error) { return nil, b.notDir() }

// FindDir implements Node.
func (b *BaseNode) FindDir(name string) (Node, error) { return nil, b.notDir() }

// Create implements Node.
func (b *BaseNode) Create(ent *DirectoryEntry, mode uint32) error { return b.notDir() }

// CreateDirectory implements Node.
func (b *BaseNode) CreateDirectory(ent *DirectoryEntry, mode uint32) error { return b.notDir() }

// Link implements Node.
func (b *BaseNode) Link(target Node, ent *DirectoryEntry) error { return b.notDir() }

// Unlink implements Node.
func (b *BaseNode) Unlink(ent *DirectoryEntry, unlinkDirectories bool) error { return b.notDir() }

// ReadLink implements Node.
func (b *BaseNode) ReadLink() (string, error) { return "", ErrInvalid }

// Truncate implements Node.
func (b *BaseNode) Truncate(length int64) error {
	if b.IsDirectory() {
		return ErrIsDirectory
	}
	return ErrNotSupported
}

// Ioctl implements Node.
func (b *BaseNode) Ioctl(ctx context.Context, cmd, arg uint64) (int, error) { return 0, ErrNotTTY }

// Sync implements Node.
func (b *BaseNode) Sync() error { return ErrInvalid }

// CanRead implements Node.
func (b *BaseNode) CanRead() bool { return true }

// CanWrite implements Node.
func (b *BaseNode) CanWrite() bool { return true }

// Watch implements Node.
func (b *BaseNode) Watch(w *Watcher, events PollEvents) error { return ErrNotSupported }

// Unwatch implements Node.
func (b *BaseNode) Unwatch(w *Watcher) {}
