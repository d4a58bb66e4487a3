// Package hostfs provides a volume that mirrors a directory of the host.
// Nodes are materialized the first time a lookup or directory read reaches
// them and are identified by their host inode numbers, so hard links on the
// host map to a single node.
package hostfs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"kvfs/pkg/vfs"
)

// FS is a host directory volume.
type FS struct {
	id       vfs.VolumeID
	name     string
	hostRoot string
	readOnly bool
	root     *Dir

	mu     sync.Mutex
	inodes map[vfs.Ino]vfs.Node
}

// New creates a volume over the host directory hostRoot.
func New(id vfs.VolumeID, name, hostRoot string, readOnly bool) (*FS, error) {
	abs, err := filepath.Abs(hostRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "hostfs: resolving %s", hostRoot)
	}

	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return nil, errors.Wrapf(err, "hostfs: stat %s", abs)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, errors.Errorf("hostfs: %s is not a directory", abs)
	}

	fs := &FS{
		id:       id,
		name:     name,
		hostRoot: abs,
		readOnly: readOnly,
		inodes:   make(map[vfs.Ino]vfs.Node),
	}
	fs.root = fs.materialize("", &st).(*Dir)
	return fs, nil
}

// ID implements vfs.Volume.
func (fs *FS) ID() vfs.VolumeID { return fs.id }

// Name implements vfs.Volume.
func (fs *FS) Name() string { return fs.name }

// Root implements vfs.Volume.
func (fs *FS) Root() vfs.Node { return fs.root }

// HostRoot returns the mirrored host directory.
func (fs *FS) HostRoot() string { return fs.hostRoot }

// ReadOnly reports whether modifications are refused.
func (fs *FS) ReadOnly() bool { return fs.readOnly }

// Lookup implements vfs.Volume. Only materialized nodes are found.
func (fs *FS) Lookup(ino vfs.Ino) (vfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.inodes[ino]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return n, nil
}

// Materialized returns the number of nodes currently held.
func (fs *FS) Materialized() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.inodes)
}

func (fs *FS) hostPath(rel string) string {
	return filepath.Join(fs.hostRoot, rel)
}

// hostNode is implemented by every node of the volume.
type hostNode interface {
	vfs.Node
	hostEntry() *entry
}

// entry is the host location shared by all node kinds.
type entry struct {
	fs *FS

	mu  sync.Mutex
	rel string
}

func (e *entry) hostEntry() *entry { return e }

func (e *entry) path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fs.hostPath(e.rel)
}

func (e *entry) relPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rel
}

func (e *entry) move(rel string) {
	e.mu.Lock()
	e.rel = rel
	e.mu.Unlock()
}

// materialize returns the node for the host object at rel described by st,
// creating it on first sight and refreshing its metadata otherwise.
func (fs *FS) materialize(rel string, st *unix.Stat_t) vfs.Node {
	ino := vfs.Ino(st.Ino)

	fs.mu.Lock()
	n, ok := fs.inodes[ino]
	if !ok || vfs.NodeType(st.Mode&unix.S_IFMT) != n.Base().Type() {
		n = fs.newNode(rel, st)
		fs.inodes[ino] = n
	}
	fs.mu.Unlock()

	n.(hostNode).hostEntry().move(rel)
	refresh(n.Base(), st)
	return n
}

func (fs *FS) newNode(rel string, st *unix.Stat_t) vfs.Node {
	var n vfs.Node
	switch vfs.NodeType(st.Mode & unix.S_IFMT) {
	case vfs.TypeDirectory:
		n = &Dir{entry: entry{fs: fs, rel: rel}}
	case vfs.TypeFile:
		n = &File{entry: entry{fs: fs, rel: rel}}
	case vfs.TypeSymlink:
		n = &Symlink{entry: entry{fs: fs, rel: rel}}
	default:
		n = &Special{entry: entry{fs: fs, rel: rel}}
	}
	n.Base().Init(vfs.NodeType(st.Mode&unix.S_IFMT), fs.id, vfs.Ino(st.Ino), st.Mode&0o7777)

	log.Debugf("[HOSTFS] materialized %s (inode %d)", fs.hostPath(rel), st.Ino)
	return n
}

func refresh(b *vfs.BaseNode, st *unix.Stat_t) {
	b.SetPerm(st.Mode & 0o7777)
	b.SetUID(int32(st.Uid))
	b.SetSize(st.Size)
	b.AddLink(int32(st.Nlink) - b.Nlink())
}

// moveTree repoints every materialized node at or below oldRel after a
// rename on the host.
func (fs *FS) moveTree(oldRel, newRel string) {
	fs.mu.Lock()
	nodes := make([]vfs.Node, 0, len(fs.inodes))
	for _, n := range fs.inodes {
		nodes = append(nodes, n)
	}
	fs.mu.Unlock()

	for _, n := range nodes {
		e := n.(hostNode).hostEntry()
		rel := e.relPath()
		if rel == oldRel || strings.HasPrefix(rel, oldRel+"/") {
			e.move(newRel + rel[len(oldRel):])
		}
	}
}

// forget drops a node once the host no longer links it and nothing holds it
// open.
func (fs *FS) forget(n vfs.Node) {
	b := n.Base()
	if b.HandleCount() > 0 {
		return
	}

	var st unix.Stat_t
	if err := unix.Lstat(n.(hostNode).hostEntry().path(), &st); err == nil && vfs.Ino(st.Ino) == b.Inode() {
		return
	}

	fs.mu.Lock()
	if fs.inodes[b.Inode()] == n {
		delete(fs.inodes, b.Inode())
	}
	fs.mu.Unlock()
	b.Destroy()
}

// hostErr reduces a host error to its errno for the node boundary.
func hostErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	log.Debugf("[HOSTFS] %v", errors.Wrapf(err, "%s %s", op, path))
	return vfs.Errno(err)
}

func (fs *FS) writable() error {
	if fs.readOnly {
		return vfs.ErrReadOnly
	}
	return nil
}

// openHost opens the host file behind e.
func openHost(e *entry, flag int) (*os.File, error) {
	p := e.path()
	f, err := os.OpenFile(p, flag, 0)
	if err != nil {
		return nil, hostErr("open", p, err)
	}
	return f, nil
}
