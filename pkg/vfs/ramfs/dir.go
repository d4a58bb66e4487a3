package ramfs

import (
	"fmt"
	"io"
	"time"

	"github.com/jacobsa/syncutil"

	"kvfs/pkg/vfs"
)

// Dir is an in-memory directory. ReadDir reports "." and ".." at indices 0
// and 1 and the children after them in the order they were added.
type Dir struct {
	vfs.BaseNode
	times stamps

	fs *FS

	mu syncutil.InvariantMutex

	// INVARIANT: For all i, index[children[i].Name] == i
	// INVARIANT: len(index) == len(children)
	// INVARIANT: No child is named "." or ".."
	children []*vfs.DirectoryEntry // GUARDED_BY(mu)
	index    map[string]int        // GUARDED_BY(mu)
}

var _ vfs.Node = (*Dir)(nil)
var _ vfs.Symlinker = (*Dir)(nil)

func (d *Dir) checkInvariants() {
	if len(d.index) != len(d.children) {
		panic(fmt.Sprintf("ramfs: index has %d names, %d children", len(d.index), len(d.children)))
	}
	for i, ent := range d.children {
		if d.index[ent.Name] != i {
			panic(fmt.Sprintf("ramfs: %q indexed at %d, stored at %d", ent.Name, d.index[ent.Name], i))
		}
		if ent.Name == "." || ent.Name == ".." {
			panic("ramfs: dot entry stored as child")
		}
	}
}

// Len returns the number of children.
func (d *Dir) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.children)
}

// ReadDir implements vfs.Node.
func (d *Dir) ReadDir(index int) (*vfs.DirectoryEntry, error) {
	switch index {
	case 0:
		return &vfs.DirectoryEntry{Name: ".", Inode: d.Inode(), Node: d, Flags: vfs.TypeDirectory.DirentType()}, nil
	case 1:
		ino := d.Parent().Inode
		if d.Parent().Volume != d.VolumeID() || ino == 0 {
			ino = d.Inode()
		}
		return &vfs.DirectoryEntry{Name: "..", Inode: ino, Flags: vfs.TypeDirectory.DirentType()}, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	i := index - 2
	if i < 0 || i >= len(d.children) {
		return nil, io.EOF
	}
	ent := *d.children[i]
	return &ent, nil
}

// FindDir implements vfs.Node.
func (d *Dir) FindDir(name string) (vfs.Node, error) {
	switch name {
	case ".":
		return d, nil
	case "..":
		if p := d.Parent(); p.Volume == d.VolumeID() && p.Inode != 0 {
			return d.fs.Lookup(p.Inode)
		}
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

// addLocked stores node under ent.Name.
func (d *Dir) addLocked(ent *vfs.DirectoryEntry, node vfs.Node) {
	ent.SetNode(node)
	stored := *ent
	stored.Parent = nil
	d.index[ent.Name] = len(d.children)
	d.children = append(d.children, &stored)

	node.Base().SetParent(d.Key())
	d.times.modified(d.fs.clock.Now())
}

// removeLocked drops the child at i and returns it.
func (d *Dir) removeLocked(i int) vfs.Node {
	ent := d.children[i]
	copy(d.children[i:], d.children[i+1:])
	d.children[len(d.children)-1] = nil
	d.children = d.children[:len(d.children)-1]

	delete(d.index, ent.Name)
	for j := i; j < len(d.children); j++ {
		d.index[d.children[j].Name] = j
	}

	d.times.modified(d.fs.clock.Now())
	return ent.Node
}

// Create implements vfs.Node.
func (d *Dir) Create(ent *vfs.DirectoryEntry, mode uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[ent.Name]; ok {
		return vfs.ErrExists
	}
	d.addLocked(ent, d.fs.newFile(mode))
	return nil
}

// CreateDirectory implements vfs.Node.
func (d *Dir) CreateDirectory(ent *vfs.DirectoryEntry, mode uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[ent.Name]; ok {
		return vfs.ErrExists
	}
	d.addLocked(ent, d.fs.newDir(mode))
	return nil
}

// CreateSymlink implements vfs.Symlinker.
func (d *Dir) CreateSymlink(ent *vfs.DirectoryEntry, target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[ent.Name]; ok {
		return vfs.ErrExists
	}
	d.addLocked(ent, d.fs.newSymlink(target))
	return nil
}

// Link implements vfs.Node. The target may belong to another volume, as a
// mount point does.
func (d *Dir) Link(target vfs.Node, ent *vfs.DirectoryEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[ent.Name]; ok {
		return vfs.ErrExists
	}

	target.Base().AddLink(1)
	d.addLocked(ent, target)
	if t, ok := target.(interface{ touchChange() }); ok {
		t.touchChange()
	}
	return nil
}

// Unlink implements vfs.Node. Removing a directory's last name empties it
// first, which requires unlinkDirectories when it has children.
func (d *Dir) Unlink(ent *vfs.DirectoryEntry, unlinkDirectories bool) error {
	d.mu.Lock()

	i, ok := d.index[ent.Name]
	if !ok {
		d.mu.Unlock()
		return vfs.ErrNotFound
	}

	child := d.children[i].Node
	sub, isDir := child.(*Dir)
	lastName := child.Base().Nlink() <= 1
	if isDir && lastName && !unlinkDirectories && sub.Len() > 0 {
		d.mu.Unlock()
		return vfs.ErrNotEmpty
	}

	d.removeLocked(i)
	d.mu.Unlock()

	left := child.Base().AddLink(-1)
	if t, ok := child.(interface{ touchChange() }); ok {
		t.touchChange()
	}
	if left == 0 {
		if isDir {
			sub.clear()
		}
		d.fs.forget(child)
	}
	return nil
}

// clear unlinks every child of a directory that lost its last name.
func (d *Dir) clear() {
	d.mu.Lock()
	children := d.children
	d.children = nil
	d.index = make(map[string]int)
	d.mu.Unlock()

	for _, ent := range children {
		child := ent.Node
		if child.Base().AddLink(-1) > 0 {
			continue
		}
		if sub, ok := child.(*Dir); ok {
			sub.clear()
		}
		d.fs.forget(child)
	}
}

// Sync implements vfs.Node.
func (d *Dir) Sync() error { return nil }

// Release implements vfs.Releaser.
func (d *Dir) Release() { d.fs.forget(d) }

func (d *Dir) touchChange() { d.times.changed(d.fs.clock.Now()) }

// ModTime returns the last time an entry was added or removed.
func (d *Dir) ModTime() time.Time { return d.times.ModTime() }
