package vfs

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Renamer is implemented by directories that move entries themselves
// instead of through Link and Unlink.
type Renamer interface {
	Rename(oldName string, newDir Node, newName string) error
}

// Releaser is implemented by nodes that drop state once their last handle
// is gone.
type Releaser interface {
	Release()
}

// Open creates a handle on node. Unless flags carries O_PATH the node's Open
// hook runs first and may refuse; O_TRUNC empties a regular file opened for
// writing.
func Open(ctx context.Context, node Node, flags int) (*Handle, error) {
	if node == nil {
		return nil, ErrNotFound
	}
	base := node.Base()

	if flags&O_PATH == 0 {
		if flags&O_DIRECTORY != 0 && !isDirLike(base) {
			return nil, ErrNotDirectory
		}
		if isDirLike(base) && flags&O_ACCMODE != O_RDONLY {
			return nil, ErrIsDirectory
		}
		if err := node.Open(ctx, flags); err != nil {
			return nil, err
		}
		if flags&O_TRUNC != 0 && flags&O_ACCMODE != O_RDONLY && base.IsFile() {
			if err := node.Truncate(0); err != nil {
				node.Close(flags)
				return nil, err
			}
		}
	}

	base.addHandle()
	return &Handle{node: node, mode: flags}, nil
}

// Close releases h. See Handle.Close.
func Close(h *Handle) error {
	if h == nil {
		return ErrBadHandle
	}
	return h.Close()
}

func release(node Node, flags int) {
	left := node.Base().dropHandle()
	if flags&O_PATH == 0 {
		node.Close(flags)
	}
	if left == 0 {
		if r, ok := node.(Releaser); ok {
			r.Release()
		}
	}
}

func isDirLike(b *BaseNode) bool {
	t := b.Type()
	return t == TypeDirectory || t == TypeMountPoint
}

// Read reads from node at off. An empty buffer reads nothing.
func Read(ctx context.Context, node Node, off int64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	return node.Read(ctx, off, buf)
}

// Write writes buf to node at off. An empty buffer writes nothing.
func Write(ctx context.Context, node Node, off int64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	return node.Write(ctx, off, buf)
}

// ReadDir returns the entry of dir at index under dir's read lock.
func ReadDir(dir Node, index int) (*DirectoryEntry, error) {
	l := dir.Base().NodeLock()
	l.AcquireRead()
	defer l.ReleaseRead()
	return dir.ReadDir(index)
}

// FindDir looks name up in dir under dir's read lock.
func FindDir(dir Node, name string) (Node, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	l := dir.Base().NodeLock()
	l.AcquireRead()
	defer l.ReleaseRead()
	return dir.FindDir(name)
}

// Create makes a regular file name in dir.
func Create(dir Node, name string, mode uint32) (Node, error) {
	ent, err := NewDirectoryEntry(name, nil)
	if err != nil {
		return nil, err
	}
	l := dir.Base().NodeLock()
	l.AcquireWrite()
	defer l.ReleaseWrite()

	if err := dir.Create(ent, mode); err != nil {
		return nil, err
	}
	return ent.Node, nil
}

// CreateDirectory makes a directory name in dir.
func CreateDirectory(dir Node, name string, mode uint32) (Node, error) {
	ent, err := NewDirectoryEntry(name, nil)
	if err != nil {
		return nil, err
	}
	l := dir.Base().NodeLock()
	l.AcquireWrite()
	defer l.ReleaseWrite()

	if err := dir.CreateDirectory(ent, mode); err != nil {
		return nil, err
	}
	return ent.Node, nil
}

// CreateSymlink makes a symbolic link name in dir pointing at target. The
// target is stored verbatim and need not exist.
func CreateSymlink(dir Node, name, target string) (Node, error) {
	if target == "" {
		return nil, ErrNotFound
	}
	if len(target) >= PathMax {
		return nil, ErrNameTooLong
	}
	sl, ok := dir.(Symlinker)
	if !ok {
		if isDirLike(dir.Base()) {
			return nil, ErrNotSupported
		}
		return nil, ErrNotDirectory
	}
	ent, err := NewDirectoryEntry(name, nil)
	if err != nil {
		return nil, err
	}
	l := dir.Base().NodeLock()
	l.AcquireWrite()
	defer l.ReleaseWrite()

	if err := sl.CreateSymlink(ent, target); err != nil {
		return nil, err
	}
	return ent.Node, nil
}

// Link adds target to dir as name.
func Link(dir Node, name string, target Node) error {
	if isDirLike(target.Base()) && dir.Base().VolumeID() == target.Base().VolumeID() {
		return ErrAccess
	}
	return link(dir, name, target)
}

func link(dir Node, name string, target Node) error {
	ent, err := NewDirectoryEntry(name, target)
	if err != nil {
		return err
	}
	l := dir.Base().NodeLock()
	l.AcquireWrite()
	defer l.ReleaseWrite()
	return dir.Link(target, ent)
}

// Unlink removes name from dir. Non-empty directories are removed only
// when recursive is set.
func Unlink(dir Node, name string, recursive bool) error {
	if name == "." || name == ".." {
		return ErrInvalid
	}
	ent, err := NewDirectoryEntry(name, nil)
	if err != nil {
		return err
	}
	l := dir.Base().NodeLock()
	l.AcquireWrite()
	defer l.ReleaseWrite()
	return dir.Unlink(ent, recursive)
}

// Ioctl forwards a control request to node.
func Ioctl(ctx context.Context, node Node, cmd, arg uint64) (int, error) {
	return node.Ioctl(ctx, cmd, arg)
}

// Truncate sets the size of node.
func Truncate(node Node, length int64) error {
	if length < 0 {
		return ErrInvalid
	}
	return node.Truncate(length)
}

// Rename moves oldName in oldDir to newName in newDir by linking the node
// under its new name and unlinking the old one. Both directories must be
// on the same volume. An existing non-directory at the destination is
// replaced.
func Rename(oldDir Node, oldName string, newDir Node, newName string) error {
	if oldDir.Base().VolumeID() != newDir.Base().VolumeID() {
		return ErrCrossDevice
	}
	if oldName == "." || oldName == ".." || newName == "." || newName == ".." {
		return ErrInvalid
	}

	node, err := FindDir(oldDir, oldName)
	if err != nil {
		return err
	}
	if oldDir == newDir && oldName == newName {
		return nil
	}

	if r, ok := oldDir.(Renamer); ok {
		lockPair(oldDir, newDir)
		defer unlockPair(oldDir, newDir)
		return r.Rename(oldName, newDir, newName)
	}

	if existing, err := FindDir(newDir, newName); err == nil {
		if isDirLike(existing.Base()) {
			return ErrIsDirectory
		}
		if err := Unlink(newDir, newName, false); err != nil {
			return err
		}
	}

	// Keep the node alive between the two directory operations.
	node.Base().addHandle()
	defer release(node, O_PATH)

	if err := link(newDir, newName, node); err != nil {
		return err
	}
	if err := Unlink(oldDir, oldName, true); err != nil {
		if uerr := Unlink(newDir, newName, true); uerr != nil {
			log.Warnf("[VFS] rename %s -> %s: undoing link: %v", oldName, newName, uerr)
		}
		return err
	}
	return nil
}

// lockPair write-locks two directories in inode order.
func lockPair(a, b Node) {
	if a.Base() == b.Base() {
		a.Base().NodeLock().AcquireWrite()
		return
	}
	if a.Base().Inode() > b.Base().Inode() {
		a, b = b, a
	}
	a.Base().NodeLock().AcquireWrite()
	b.Base().NodeLock().AcquireWrite()
}

func unlockPair(a, b Node) {
	a.Base().NodeLock().ReleaseWrite()
	if a.Base() != b.Base() {
		b.Base().NodeLock().ReleaseWrite()
	}
}
