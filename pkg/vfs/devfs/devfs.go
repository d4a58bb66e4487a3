// Package devfs provides the device volume usually mounted at /dev: the
// null and zero character devices, RAM block devices, named and anonymous
// pipes, and pseudo-terminal pairs.
package devfs

import (
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"kvfs/pkg/vfs"
)

// RootIno is the inode number of the device directory.
const RootIno vfs.Ino = 1

// DefaultPipeCapacity is the buffer size of pipes created without one.
const DefaultPipeCapacity = 4096

// FS is a device volume.
type FS struct {
	id   vfs.VolumeID
	name string
	root *Dir

	mu      sync.Mutex
	inodes  map[vfs.Ino]vfs.Node
	nextIno vfs.Ino
	nextPTY int
}

// New creates a device volume holding "null" and "zero".
func New(id vfs.VolumeID, name string) *FS {
	fs := &FS{
		id:      id,
		name:    name,
		inodes:  make(map[vfs.Ino]vfs.Node),
		nextIno: RootIno,
	}

	fs.root = &Dir{fs: fs, index: make(map[string]int)}
	fs.register(fs.root, vfs.TypeDirectory, 0o755)

	null := &Null{}
	fs.register(null, vfs.TypeCharDevice, 0o666)
	fs.root.add("null", null)

	zero := &Zero{}
	fs.register(zero, vfs.TypeCharDevice, 0o666)
	fs.root.add("zero", zero)

	return fs
}

// ID implements vfs.Volume.
func (fs *FS) ID() vfs.VolumeID { return fs.id }

// Name implements vfs.Volume.
func (fs *FS) Name() string { return fs.name }

// Root implements vfs.Volume.
func (fs *FS) Root() vfs.Node { return fs.root }

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

func (fs *FS) register(n vfs.Node, typ vfs.NodeType, perm uint32) {
	fs.mu.Lock()
	ino := fs.nextIno
	fs.nextIno++
	fs.inodes[ino] = n
	fs.mu.Unlock()

	n.Base().Init(typ, fs.id, ino, perm)
}

func (fs *FS) forget(n vfs.Node) {
	b := n.Base()
	if b.Nlink() > 0 || b.HandleCount() > 0 {
		return
	}

	fs.mu.Lock()
	if fs.inodes[b.Inode()] == n {
		delete(fs.inodes, b.Inode())
	}
	fs.mu.Unlock()

	b.Destroy()
}

// AddRAMDisk creates a block device of size bytes under name.
func (fs *FS) AddRAMDisk(name string, size int64) (*RAMDisk, error) {
	if size <= 0 {
		return nil, vfs.ErrInvalid
	}

	d := &RAMDisk{data: make([]byte, size)}
	fs.register(d, vfs.TypeBlockDevice, 0o660)
	d.SetSize(size)
	if err := fs.root.add(name, d); err != nil {
		fs.unregister(d)
		return nil, err
	}

	log.Debugf("[DEVFS] added ram disk %s (%d bytes)", name, size)
	return d, nil
}

// MakeFIFO creates a named pipe under name.
func (fs *FS) MakeFIFO(name string, capacity int) (*Pipe, error) {
	p := fs.newPipe(capacity)
	if err := fs.root.add(name, p); err != nil {
		fs.unregister(p)
		return nil, err
	}
	return p, nil
}

// NewPipe creates an anonymous pipe. It has no name and goes away once its
// last handle is closed.
func (fs *FS) NewPipe(capacity int) *Pipe {
	p := fs.newPipe(capacity)
	p.AddLink(-1)
	return p
}

func (fs *FS) newPipe(capacity int) *Pipe {
	if capacity <= 0 {
		capacity = DefaultPipeCapacity
	}

	p := &Pipe{fs: fs}
	p.buf.init(capacity, p, p, &p.watchers, &p.watchers)
	fs.register(p, vfs.TypeFIFO, 0o600)
	return p
}

func (fs *FS) unregister(n vfs.Node) {
	fs.mu.Lock()
	delete(fs.inodes, n.Base().Inode())
	fs.mu.Unlock()
}

// NewPTY creates a pseudo-terminal pair. The slave is named "pty<N>" in
// the device directory until the pair is released; the master is
// anonymous.
func (fs *FS) NewPTY() (*PTY, error) {
	fs.mu.Lock()
	index := fs.nextPTY
	fs.nextPTY++
	fs.mu.Unlock()

	p := newPTY(fs, index)
	if err := fs.root.add(p.SlaveName(), p.slave); err != nil {
		fs.unregister(p.master)
		fs.unregister(p.slave)
		return nil, err
	}

	log.Debugf("[DEVFS] allocated %s", p.SlaveName())
	return p, nil
}

// Dir is the flat device directory.
type Dir struct {
	vfs.BaseNode

	fs *FS

	mu       sync.RWMutex
	children []*vfs.DirectoryEntry
	index    map[string]int
}

var _ vfs.Node = (*Dir)(nil)

func (d *Dir) add(name string, n vfs.Node) error {
	ent, err := vfs.NewDirectoryEntry(name, n)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[name]; ok {
		return vfs.ErrExists
	}
	d.index[name] = len(d.children)
	d.children = append(d.children, ent)
	n.Base().SetParent(d.Key())
	return nil
}

func (d *Dir) remove(name string) (vfs.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := d.index[name]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	n := d.children[i].Node
	d.children = append(d.children[:i], d.children[i+1:]...)
	delete(d.index, name)
	for j := i; j < len(d.children); j++ {
		d.index[d.children[j].Name] = j
	}
	return n, nil
}

// ReadDir implements vfs.Node.
func (d *Dir) ReadDir(index int) (*vfs.DirectoryEntry, error) {
	switch index {
	case 0, 1:
		name := [...]string{".", ".."}[index]
		return &vfs.DirectoryEntry{Name: name, Inode: d.Inode(), Flags: vfs.TypeDirectory.DirentType()}, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if index-2 >= len(d.children) || index < 0 {
		return nil, io.EOF
	}
	ent := *d.children[index-2]
	return &ent, nil
}

// FindDir implements vfs.Node.
func (d *Dir) FindDir(name string) (vfs.Node, error) {
	if name == "." || name == ".." {
		return d, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	i, ok := d.index[name]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return d.children[i].Node, nil
}

// Link implements vfs.Node. Only devices of this volume can be linked.
func (d *Dir) Link(target vfs.Node, ent *vfs.DirectoryEntry) error {
	if target.Base().VolumeID() != d.fs.id || target.Base().IsDirectory() {
		return vfs.ErrCrossDevice
	}
	if err := d.add(ent.Name, target); err != nil {
		return err
	}
	target.Base().AddLink(1)
	return nil
}

// Unlink implements vfs.Node.
func (d *Dir) Unlink(ent *vfs.DirectoryEntry, unlinkDirectories bool) error {
	n, err := d.remove(ent.Name)
	if err != nil {
		return err
	}
	if n.Base().AddLink(-1) == 0 {
		d.fs.forget(n)
	}
	return nil
}

func (d *Dir) String() string {
	return fmt.Sprintf("devfs:%s", d.fs.name)
}
