package hostfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"kvfs/pkg/vfs"
)

// Dir is a host directory. ReadDir lists the host entries sorted by name
// after "." and "..".
type Dir struct {
	vfs.BaseNode
	entry
}

var (
	_ vfs.Node      = (*Dir)(nil)
	_ vfs.Symlinker = (*Dir)(nil)
	_ vfs.Renamer   = (*Dir)(nil)
)

func (d *Dir) child(name string) string {
	return filepath.Join(d.relPath(), name)
}

func (d *Dir) lookup(name string) (vfs.Node, error) {
	rel := d.child(name)
	p := d.fs.hostPath(rel)

	var st unix.Stat_t
	if err := unix.Lstat(p, &st); err != nil {
		return nil, hostErr("lstat", p, err)
	}
	n := d.fs.materialize(rel, &st)
	n.Base().SetParent(d.Key())
	return n, nil
}

// ReadDir implements vfs.Node.
func (d *Dir) ReadDir(index int) (*vfs.DirectoryEntry, error) {
	switch index {
	case 0:
		return &vfs.DirectoryEntry{Name: ".", Inode: d.Inode(), Node: d, Flags: vfs.TypeDirectory.DirentType()}, nil
	case 1:
		ino := d.Parent().Inode
		if ino == 0 || d.Parent().Volume != d.VolumeID() {
			ino = d.Inode()
		}
		return &vfs.DirectoryEntry{Name: "..", Inode: ino, Flags: vfs.TypeDirectory.DirentType()}, nil
	}
	if index < 0 {
		return nil, vfs.ErrInvalid
	}

	p := d.path()
	names, err := readNames(p)
	if err != nil {
		return nil, hostErr("readdir", p, err)
	}
	if index-2 >= len(names) {
		return nil, io.EOF
	}

	n, err := d.lookup(names[index-2])
	if err != nil {
		return nil, err
	}
	ent, err := vfs.NewDirectoryEntry(names[index-2], n)
	if err != nil {
		return nil, err
	}
	return ent, nil
}

func readNames(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
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
	return d.lookup(name)
}

// Create implements vfs.Node.
func (d *Dir) Create(ent *vfs.DirectoryEntry, mode uint32) error {
	if err := d.fs.writable(); err != nil {
		return err
	}

	p := d.fs.hostPath(d.child(ent.Name))
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, os.FileMode(mode&0o777))
	if err != nil {
		return hostErr("create", p, err)
	}
	f.Close()
	return d.fill(ent)
}

// CreateDirectory implements vfs.Node.
func (d *Dir) CreateDirectory(ent *vfs.DirectoryEntry, mode uint32) error {
	if err := d.fs.writable(); err != nil {
		return err
	}

	p := d.fs.hostPath(d.child(ent.Name))
	if err := os.Mkdir(p, os.FileMode(mode&0o777)); err != nil {
		return hostErr("mkdir", p, err)
	}
	return d.fill(ent)
}

// CreateSymlink implements vfs.Symlinker.
func (d *Dir) CreateSymlink(ent *vfs.DirectoryEntry, target string) error {
	if err := d.fs.writable(); err != nil {
		return err
	}

	p := d.fs.hostPath(d.child(ent.Name))
	if err := os.Symlink(target, p); err != nil {
		return hostErr("symlink", p, err)
	}
	return d.fill(ent)
}

func (d *Dir) fill(ent *vfs.DirectoryEntry) error {
	n, err := d.lookup(ent.Name)
	if err != nil {
		return err
	}
	ent.SetNode(n)
	return nil
}

// Link implements vfs.Node. Only nodes of the same volume can be linked.
func (d *Dir) Link(target vfs.Node, ent *vfs.DirectoryEntry) error {
	if err := d.fs.writable(); err != nil {
		return err
	}
	hn, ok := target.(hostNode)
	if !ok || hn.hostEntry().fs != d.fs {
		return vfs.ErrCrossDevice
	}

	p := d.fs.hostPath(d.child(ent.Name))
	old := hn.hostEntry().path()
	if err := os.Link(old, p); err != nil {
		return hostErr("link", p, err)
	}
	return d.fill(ent)
}

// Unlink implements vfs.Node.
func (d *Dir) Unlink(ent *vfs.DirectoryEntry, unlinkDirectories bool) error {
	if err := d.fs.writable(); err != nil {
		return err
	}

	n, err := d.lookup(ent.Name)
	if err != nil {
		return err
	}

	p := d.fs.hostPath(d.child(ent.Name))
	switch {
	case n.Base().IsDirectory() && unlinkDirectories:
		err = os.RemoveAll(p)
	case n.Base().IsDirectory():
		err = unix.Rmdir(p)
	default:
		err = unix.Unlink(p)
	}
	if err != nil {
		return hostErr("unlink", p, err)
	}

	n.Base().AddLink(-1)
	d.fs.forget(n)
	return nil
}

// Rename implements vfs.Renamer.
func (d *Dir) Rename(oldName string, newDir vfs.Node, newName string) error {
	if err := d.fs.writable(); err != nil {
		return err
	}
	nd, ok := newDir.(*Dir)
	if !ok || nd.fs != d.fs {
		return vfs.ErrCrossDevice
	}

	oldRel, newRel := d.child(oldName), nd.child(newName)
	oldPath := d.fs.hostPath(oldRel)
	if err := os.Rename(oldPath, d.fs.hostPath(newRel)); err != nil {
		return hostErr("rename", oldPath, err)
	}
	d.fs.moveTree(oldRel, newRel)

	_, err := nd.lookup(newName)
	return err
}

// Sync implements vfs.Node.
func (d *Dir) Sync() error { return syncHost(&d.entry) }

// Release implements vfs.Releaser.
func (d *Dir) Release() { d.fs.forget(d) }

// File is a host regular file. Every operation goes to the host file, so
// changes made outside the volume are visible.
type File struct {
	vfs.BaseNode
	entry
}

var _ vfs.Node = (*File)(nil)

// Open implements vfs.Node.
func (f *File) Open(ctx context.Context, flags int) error {
	if flags&vfs.O_ACCMODE != vfs.O_RDONLY {
		return f.fs.writable()
	}
	return nil
}

// Read implements vfs.Node.
func (f *File) Read(ctx context.Context, off int64, buf []byte) (int, error) {
	if off < 0 {
		return 0, vfs.ErrInvalid
	}

	hf, err := openHost(&f.entry, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer hf.Close()

	n, err := hf.ReadAt(buf, off)
	if err == io.EOF {
		err = nil
	}
	return n, hostErr("read", hf.Name(), err)
}

// Write implements vfs.Node.
func (f *File) Write(ctx context.Context, off int64, buf []byte) (int, error) {
	if err := f.fs.writable(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, vfs.ErrInvalid
	}

	hf, err := openHost(&f.entry, os.O_WRONLY)
	if err != nil {
		return 0, err
	}
	defer hf.Close()

	n, err := hf.WriteAt(buf, off)
	if end := off + int64(n); end > f.Size() {
		f.SetSize(end)
	}
	return n, hostErr("write", hf.Name(), err)
}

// Truncate implements vfs.Node.
func (f *File) Truncate(length int64) error {
	if err := f.fs.writable(); err != nil {
		return err
	}

	p := f.path()
	if err := os.Truncate(p, length); err != nil {
		return hostErr("truncate", p, err)
	}
	f.SetSize(length)
	return nil
}

// Sync implements vfs.Node.
func (f *File) Sync() error { return syncHost(&f.entry) }

// Release implements vfs.Releaser.
func (f *File) Release() { f.fs.forget(f) }

// Symlink is a host symbolic link.
type Symlink struct {
	vfs.BaseNode
	entry
}

var _ vfs.Node = (*Symlink)(nil)

// ReadLink implements vfs.Node.
func (s *Symlink) ReadLink() (string, error) {
	p := s.path()
	target, err := os.Readlink(p)
	if err != nil {
		return "", hostErr("readlink", p, err)
	}
	return target, nil
}

// Release implements vfs.Releaser.
func (s *Symlink) Release() { s.fs.forget(s) }

// Special is a host device, socket or FIFO. It can be looked up and
// stat'ed but not read or written.
type Special struct {
	vfs.BaseNode
	entry
}

var _ vfs.Node = (*Special)(nil)

func syncHost(e *entry) error {
	hf, err := openHost(e, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer hf.Close()
	return hostErr("sync", hf.Name(), hf.Sync())
}
