package vfs

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Volume is a mounted backing store.
type Volume interface {
	// ID returns the id the volume was created with.
	ID() VolumeID
	// Name returns a human readable name.
	Name() string
	// Root returns the root directory.
	Root() Node
	// Lookup returns the live node with the given inode number.
	Lookup(ino Ino) (Node, error)
}

// Symlinker is implemented by directories that can hold symbolic links.
type Symlinker interface {
	CreateSymlink(ent *DirectoryEntry, target string) error
}

// Namespace is the mount table: the registered volumes, which of them is
// the root, and where the others are attached. Nodes refer to their parents
// by key, and the Namespace turns keys back into nodes.
type Namespace struct {
	mu        sync.RWMutex
	nextID    VolumeID
	volumes   map[VolumeID]Volume
	root      VolumeID
	mounts    map[NodeKey]*MountPoint
	mountedAt map[VolumeID]*MountPoint
}

// NewNamespace returns an empty namespace. A root volume must be mounted at
// "/" before paths can be resolved.
func NewNamespace() *Namespace {
	return &Namespace{
		volumes:   make(map[VolumeID]Volume),
		mounts:    make(map[NodeKey]*MountPoint),
		mountedAt: make(map[VolumeID]*MountPoint),
	}
}

// NextVolumeID reserves an id for a volume about to be created.
func (ns *Namespace) NextVolumeID() VolumeID {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.nextID++
	return ns.nextID
}

// RegisterVolume makes v known to the namespace.
func (ns *Namespace) RegisterVolume(v Volume) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if v.ID() == 0 {
		return ErrInvalid
	}
	if _, ok := ns.volumes[v.ID()]; ok {
		return ErrExists
	}
	ns.volumes[v.ID()] = v
	if v.ID() > ns.nextID {
		ns.nextID = v.ID()
	}
	return nil
}

// Volume returns the registered volume with the given id.
func (ns *Namespace) Volume(id VolumeID) (Volume, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	v, ok := ns.volumes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Volumes returns the registered volumes ordered by id.
func (ns *Namespace) Volumes() []Volume {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	out := make([]Volume, 0, len(ns.volumes))
	for _, v := range ns.volumes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Root returns the root directory, or nil before anything is mounted at
// "/".
func (ns *Namespace) Root() Node {
	ns.mu.RLock()
	v := ns.volumes[ns.root]
	ns.mu.RUnlock()

	if v == nil {
		return nil
	}
	return v.Root()
}

// Mount attaches the volume id at path. Mounting at "/" sets the root
// volume. Any other path must name an empty directory, which is replaced
// in its parent by a MountPoint until Unmount.
func (ns *Namespace) Mount(path string, id VolumeID) error {
	vol, err := ns.Volume(id)
	if err != nil {
		return err
	}

	if Clean(path) == "/" {
		ns.mu.Lock()
		defer ns.mu.Unlock()

		if ns.root != 0 {
			return ErrBusy
		}
		if _, ok := ns.mountedAt[id]; ok {
			return ErrBusy
		}
		ns.root = id
		log.Infof("[VFS] mounted %s (volume %d) at /", vol.Name(), id)
		return nil
	}

	ns.mu.RLock()
	_, busy := ns.mountedAt[id]
	busy = busy || ns.root == id
	ns.mu.RUnlock()
	if busy {
		return ErrBusy
	}

	parent, name, err := ns.ResolveParent(path, nil)
	if err != nil {
		return err
	}
	dir, err := FindDir(parent, name)
	if err != nil {
		return err
	}
	if dir.Base().IsMountPoint() {
		return ErrBusy
	}
	if !dir.Base().IsDirectory() {
		return ErrNotDirectory
	}
	if !isEmptyDir(dir) {
		return ErrNotEmpty
	}

	mp := newMountPoint(dir, id)

	// Hold the covered directory across the swap.
	dir.Base().addHandle()
	if err := Unlink(parent, name, false); err != nil {
		dir.Base().dropHandle()
		return err
	}
	if err := link(parent, name, mp); err != nil {
		link(parent, name, dir)
		dir.Base().dropHandle()
		return err
	}

	ns.mu.Lock()
	ns.mounts[mp.Key()] = mp
	ns.mountedAt[id] = mp
	ns.mu.Unlock()

	log.Infof("[VFS] mounted %s (volume %d) at %s", vol.Name(), id, Clean(path))
	return nil
}

// Unmount detaches whatever is mounted at path and puts the covered
// directory back. It fails with ErrBusy while the mounted root has open
// handles.
func (ns *Namespace) Unmount(path string) error {
	parent, name, err := ns.ResolveParent(path, nil)
	if err != nil {
		return err
	}
	node, err := FindDir(parent, name)
	if err != nil {
		return err
	}
	mp, ok := node.(*MountPoint)
	if !ok {
		return ErrInvalid
	}

	vol, err := ns.Volume(mp.target)
	if err != nil {
		return err
	}
	if vol.Root().Base().HandleCount() > 0 {
		return ErrBusy
	}

	if err := Unlink(parent, name, false); err != nil {
		return err
	}
	if err := link(parent, name, mp.covered); err != nil {
		return err
	}
	release(mp.covered, O_PATH)

	ns.mu.Lock()
	delete(ns.mounts, mp.Key())
	delete(ns.mountedAt, mp.target)
	ns.mu.Unlock()

	log.Infof("[VFS] unmounted %s from %s", vol.Name(), Clean(path))
	return nil
}

// MountPointOf returns the MountPoint the volume is attached at, if any.
func (ns *Namespace) MountPointOf(id VolumeID) (*MountPoint, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	mp, ok := ns.mountedAt[id]
	return mp, ok
}

// Lookup turns a node key back into a node.
func (ns *Namespace) Lookup(key NodeKey) (Node, error) {
	if key.IsZero() {
		return nil, ErrNotFound
	}

	ns.mu.RLock()
	mp, ok := ns.mounts[key]
	v := ns.volumes[key.Volume]
	ns.mu.RUnlock()

	if ok {
		return mp, nil
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v.Lookup(key.Inode)
}

// ParentOf returns the directory containing node. The parent of a mounted
// volume's root is the directory holding its mount point; the namespace
// root has no parent and nil is returned.
func (ns *Namespace) ParentOf(node Node) Node {
	b := node.Base()

	if v, err := ns.Volume(b.VolumeID()); err == nil && v.Root().Base() == b {
		mp, ok := ns.MountPointOf(b.VolumeID())
		if !ok {
			return nil
		}
		b = mp.Base()
	}

	parent, err := ns.Lookup(b.Parent())
	if err != nil {
		return nil
	}
	return ns.crossMount(parent)
}

// crossMount substitutes a mount point by the root of its volume.
func (ns *Namespace) crossMount(node Node) Node {
	for {
		mp, ok := node.(*MountPoint)
		if !ok {
			return node
		}
		v, err := ns.Volume(mp.target)
		if err != nil {
			return node
		}
		node = v.Root()
	}
}

// Walk visits every node below path, crossing mount points.
func (ns *Namespace) Walk(path string, fn WalkFunc) error {
	node, err := ns.ResolvePath(path, nil, true)
	if err != nil {
		return fn(Clean(path), nil, err)
	}
	return walk(ns, node, Clean(path), fn)
}

func isEmptyDir(dir Node) bool {
	for i := 0; ; i++ {
		ent, err := ReadDir(dir, i)
		if err != nil {
			return true
		}
		if ent.Name != "." && ent.Name != ".." {
			return false
		}
	}
}

// Open resolves path against wd and opens it. With O_CREATE a missing
// regular file is created; O_EXCL makes an existing one an error. A final
// symbolic link is followed unless O_NOFOLLOW is given, in which case
// opening it fails with ErrTooManyLinks.
func (ns *Namespace) Open(ctx context.Context, path string, flags int, wd Node) (*Handle, error) {
	if path == "/" {
		return Open(ctx, ns.Root(), flags)
	}
	return ns.OpenFile(ctx, path, flags, 0o644, wd)
}

// OpenFile is Open with the permission bits used when a file is created.
func (ns *Namespace) OpenFile(ctx context.Context, path string, flags int, perm uint32, wd Node) (*Handle, error) {
	follow := flags&O_NOFOLLOW == 0

	node, err := ns.ResolvePath(path, wd, follow)
	switch {
	case err == nil:
		if flags&O_CREATE != 0 && flags&O_EXCL != 0 {
			return nil, ErrExists
		}
	case err == ErrNotFound && flags&O_CREATE != 0:
		parent, name, perr := ns.ResolveParent(path, wd)
		if perr != nil {
			return nil, perr
		}
		node, err = Create(parent, name, perm)
		if err == ErrExists && flags&O_EXCL == 0 {
			node, err = FindDir(parent, name)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if node.Base().IsSymlink() && flags&O_PATH == 0 {
		return nil, ErrTooManyLinks
	}
	return Open(ctx, node, flags)
}

// Stat resolves path and describes the node.
func (ns *Namespace) Stat(path string, follow bool, wd Node) (Stat, error) {
	node, err := ns.ResolvePath(path, wd, follow)
	if err != nil {
		return Stat{}, err
	}
	return StatNode(node), nil
}

// Mkdir creates a directory at path.
func (ns *Namespace) Mkdir(path string, perm uint32, wd Node) error {
	parent, name, err := ns.ResolveParent(path, wd)
	if err != nil {
		if Clean(path) == "/" {
			return ErrExists
		}
		return err
	}
	_, err = CreateDirectory(parent, name, perm)
	return err
}

// Symlink creates a symbolic link at path pointing at target.
func (ns *Namespace) Symlink(target, path string, wd Node) error {
	parent, name, err := ns.ResolveParent(path, wd)
	if err != nil {
		return err
	}
	_, err = CreateSymlink(parent, name, target)
	return err
}

// Link makes newPath another name for the node at oldPath.
func (ns *Namespace) Link(oldPath, newPath string, wd Node) error {
	node, err := ns.ResolvePath(oldPath, wd, false)
	if err != nil {
		return err
	}
	parent, name, err := ns.ResolveParent(newPath, wd)
	if err != nil {
		return err
	}
	if parent.Base().VolumeID() != node.Base().VolumeID() {
		return ErrCrossDevice
	}
	if _, err := FindDir(parent, name); err == nil {
		return ErrExists
	}
	return Link(parent, name, node)
}

// Remove unlinks the node at path. A final symbolic link is removed, not
// followed. Mount points cannot be removed.
func (ns *Namespace) Remove(path string, recursive bool, wd Node) error {
	parent, name, err := ns.ResolveParent(path, wd)
	if err != nil {
		return err
	}
	node, err := FindDir(parent, name)
	if err != nil {
		return err
	}
	if node.Base().IsMountPoint() {
		return ErrBusy
	}
	return Unlink(parent, name, recursive)
}

// Rename moves the node at oldPath to newPath.
func (ns *Namespace) Rename(oldPath, newPath string, wd Node) error {
	oldParent, oldName, err := ns.ResolveParent(oldPath, wd)
	if err != nil {
		return err
	}
	newParent, newName, err := ns.ResolveParent(newPath, wd)
	if err != nil {
		return err
	}

	node, err := FindDir(oldParent, oldName)
	if err != nil {
		return err
	}
	if node.Base().IsMountPoint() {
		return ErrBusy
	}
	if node.Base().IsDirectory() && ns.isAncestor(node, newParent) {
		return ErrInvalid
	}
	return Rename(oldParent, oldName, newParent, newName)
}

// isAncestor reports whether dir is node or one of its ancestors.
func (ns *Namespace) isAncestor(dir, node Node) bool {
	for n := node; n != nil; n = ns.ParentOf(n) {
		if n.Base() == dir.Base() {
			return true
		}
	}
	return false
}
