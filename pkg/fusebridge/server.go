package fusebridge

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	log "github.com/sirupsen/logrus"

	"kvfs/pkg/sched"
	"kvfs/pkg/vfs"
)

// volumeShift places the volume ID above the inode number in unassigned
// directory entry IDs.
const volumeShift = 48

// DefaultTTL is how long the kernel may cache attributes and entries.
const DefaultTTL = time.Second

// Server serves a vfs.Namespace to the kernel over FUSE. FUSE inode IDs
// are allocated on first lookup and map to namespace nodes, each pinned by
// an O_PATH handle until the kernel forgets it.
type Server struct {
	fuseutil.NotImplementedFileSystem

	ns    *vfs.Namespace
	clock timeutil.Clock
	uid   uint32
	gid   uint32
	ttl   time.Duration

	// threads carries one thread per request so that node operations can
	// block; FUSE interrupts are delivered through them.
	threads *sched.Registry

	mu sync.Mutex
	// inodes maps FUSE IDs to pinned nodes.
	inodes map[fuseops.InodeID]*inode
	// ids maps node keys back to FUSE IDs.
	ids map[vfs.NodeKey]fuseops.InodeID
	// nextID is the ID handed to the next new node.
	nextID fuseops.InodeID
	// handles holds open file and directory handles.
	handles map[fuseops.HandleID]*vfs.Handle
	// nextHandle is the next handle ID.
	nextHandle fuseops.HandleID
}

type inode struct {
	node    vfs.Node
	pin     *vfs.Handle
	lookups uint64
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for attribute expiry and timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithOwner sets the uid and gid reported for every node.
func WithOwner(uid, gid uint32) Option {
	return func(s *Server) { s.uid, s.gid = uid, gid }
}

// WithTTL sets how long the kernel may cache attributes and entries.
func WithTTL(ttl time.Duration) Option {
	return func(s *Server) { s.ttl = ttl }
}

// NewServer creates a server for ns, whose root must be mounted.
func NewServer(ns *vfs.Namespace, opts ...Option) (*Server, error) {
	root := ns.Root()
	if root == nil {
		return nil, vfs.ErrNotFound
	}

	s := &Server{
		ns:         ns,
		clock:      timeutil.RealClock(),
		ttl:        DefaultTTL,
		threads:    sched.NewRegistry(),
		inodes:     make(map[fuseops.InodeID]*inode),
		ids:        make(map[vfs.NodeKey]fuseops.InodeID),
		nextID:     fuseops.RootInodeID + 1,
		handles:    make(map[fuseops.HandleID]*vfs.Handle),
		nextHandle: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	pin, err := vfs.Open(context.Background(), root, vfs.O_PATH)
	if err != nil {
		return nil, err
	}
	s.inodes[fuseops.RootInodeID] = &inode{node: root, pin: pin, lookups: 1}
	s.ids[root.Base().Key()] = fuseops.RootInodeID
	return s, nil
}

// errno converts a node error into the errno FUSE replies with.
func errno(op string, err error) error {
	if err == nil {
		return nil
	}
	log.Debugf("[FUSE] %s: %v", op, err)
	return vfs.Errno(err)
}

// withThread returns a context carrying a fresh thread. The thread is
// interrupted when ctx is cancelled, which is how FUSE delivers
// interrupts. The returned function must be called when the request ends.
func (s *Server) withThread(ctx context.Context) (context.Context, func()) {
	t := s.threads.Spawn()
	stop := context.AfterFunc(ctx, t.Interrupt)
	return sched.WithThread(ctx, t), func() {
		stop()
		s.threads.Exit(t.ID())
	}
}

// node returns the node behind id.
func (s *Server) node(id fuseops.InodeID) (vfs.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.inodes[id]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return in.node, nil
}

// register records one kernel reference to node and returns its ID.
func (s *Server) register(node vfs.Node) (fuseops.InodeID, error) {
	key := node.Base().Key()

	s.mu.Lock()
	if id, ok := s.ids[key]; ok {
		s.inodes[id].lookups++
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	pin, err := vfs.Open(context.Background(), node, vfs.O_PATH)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[key]; ok {
		s.inodes[id].lookups++
		pin.Close()
		return id, nil
	}
	id := s.nextID
	s.nextID++
	s.inodes[id] = &inode{node: node, pin: pin, lookups: 1}
	s.ids[key] = id
	return id, nil
}

// entry registers node and fills e.
func (s *Server) entry(node vfs.Node, e *fuseops.ChildInodeEntry) error {
	id, err := s.register(node)
	if err != nil {
		return err
	}
	expiry := s.clock.Now().Add(s.ttl)
	e.Child = id
	e.Attributes = s.attributes(node)
	e.AttributesExpiration = expiry
	e.EntryExpiration = expiry
	return nil
}

// child finds name in the directory parent, crossing mount points. A
// symbolic link is returned itself.
func (s *Server) child(parent fuseops.InodeID, name string) (vfs.Node, vfs.Node, error) {
	dir, err := s.node(parent)
	if err != nil {
		return nil, nil, err
	}
	if err := vfs.ValidateName(name); err != nil {
		return nil, nil, err
	}
	n, err := s.ns.ResolvePath(name, dir, false)
	return dir, n, err
}

// direntInode returns the ID the kernel knows a directory entry by. An
// entry never looked up gets its inode number salted with the volume, so
// entries of different volumes never collide with each other or with
// assigned IDs.
func (s *Server) direntInode(vol vfs.VolumeID, ino vfs.Ino) fuseops.InodeID {
	s.mu.Lock()
	id, ok := s.ids[vfs.NodeKey{Volume: vol, Inode: ino}]
	s.mu.Unlock()
	if ok {
		return id
	}
	return fuseops.InodeID(uint64(vol)<<volumeShift | uint64(ino)&(1<<volumeShift-1))
}

func (s *Server) addHandle(h *vfs.Handle) fuseops.HandleID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextHandle
	s.nextHandle++
	s.handles[id] = h
	return id
}

func (s *Server) handle(id fuseops.HandleID) (*vfs.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return nil, vfs.ErrBadHandle
	}
	return h, nil
}

func (s *Server) closeHandle(id fuseops.HandleID) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()

	if !ok {
		return vfs.ErrBadHandle
	}
	return h.Close()
}

// Len returns the number of inodes the kernel holds references to,
// including the root.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inodes)
}

func (s *Server) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = vfs.DefaultBlockSize
	op.IoSize = 1 << 20
	return nil
}

func (s *Server) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	_, n, err := s.child(op.Parent, op.Name)
	if err != nil {
		return vfs.Errno(err)
	}
	return errno("lookup", s.entry(n, &op.Entry))
}

func (s *Server) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	n, err := s.node(op.Inode)
	if err != nil {
		return errno("getattr", err)
	}
	op.Attributes = s.attributes(n)
	op.AttributesExpiration = s.clock.Now().Add(s.ttl)
	return nil
}

func (s *Server) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	n, err := s.node(op.Inode)
	if err != nil {
		return errno("setattr", err)
	}

	if op.Size != nil {
		if err := vfs.Truncate(n, int64(*op.Size)); err != nil {
			return errno("setattr", err)
		}
	}
	if op.Mode != nil {
		n.Base().SetPerm(uint32(op.Mode.Perm()))
	}
	if op.Uid != nil {
		n.Base().SetUID(int32(*op.Uid))
	}

	op.Attributes = s.attributes(n)
	op.AttributesExpiration = s.clock.Now().Add(s.ttl)
	return nil
}

func (s *Server) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	if op.Inode == fuseops.RootInodeID {
		return nil
	}

	s.mu.Lock()
	in, ok := s.inodes[op.Inode]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if in.lookups > op.N {
		in.lookups -= op.N
		s.mu.Unlock()
		return nil
	}
	delete(s.inodes, op.Inode)
	delete(s.ids, in.node.Base().Key())
	s.mu.Unlock()

	in.pin.Close()
	return nil
}

func (s *Server) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	dir, err := s.node(op.Parent)
	if err != nil {
		return errno("mkdir", err)
	}
	n, err := vfs.CreateDirectory(dir, op.Name, uint32(op.Mode.Perm()))
	if err != nil {
		return errno("mkdir", err)
	}
	return errno("mkdir", s.entry(n, &op.Entry))
}

func (s *Server) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	dir, err := s.node(op.Parent)
	if err != nil {
		return errno("create", err)
	}
	n, err := vfs.Create(dir, op.Name, uint32(op.Mode.Perm()))
	if err != nil {
		return errno("create", err)
	}

	h, err := vfs.Open(ctx, n, vfs.O_RDWR)
	if err != nil {
		return errno("create", err)
	}
	if err := s.entry(n, &op.Entry); err != nil {
		h.Close()
		return errno("create", err)
	}
	op.Handle = s.addHandle(h)
	return nil
}

func (s *Server) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	dir, err := s.node(op.Parent)
	if err != nil {
		return errno("symlink", err)
	}
	n, err := vfs.CreateSymlink(dir, op.Name, op.Target)
	if err != nil {
		return errno("symlink", err)
	}
	return errno("symlink", s.entry(n, &op.Entry))
}

func (s *Server) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	dir, err := s.node(op.Parent)
	if err != nil {
		return errno("link", err)
	}
	target, err := s.node(op.Target)
	if err != nil {
		return errno("link", err)
	}
	if dir.Base().VolumeID() != target.Base().VolumeID() {
		return vfs.Errno(vfs.ErrCrossDevice)
	}
	if err := vfs.Link(dir, op.Name, target); err != nil {
		return errno("link", err)
	}
	return errno("link", s.entry(target, &op.Entry))
}

func (s *Server) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldDir, err := s.node(op.OldParent)
	if err != nil {
		return errno("rename", err)
	}
	newDir, err := s.node(op.NewParent)
	if err != nil {
		return errno("rename", err)
	}

	n, err := vfs.FindDir(oldDir, op.OldName)
	if err != nil {
		return errno("rename", err)
	}
	if n.Base().IsMountPoint() {
		return vfs.Errno(vfs.ErrBusy)
	}
	return errno("rename", vfs.Rename(oldDir, op.OldName, newDir, op.NewName))
}

func (s *Server) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	dir, err := s.node(op.Parent)
	if err != nil {
		return errno("rmdir", err)
	}
	n, err := vfs.FindDir(dir, op.Name)
	if err != nil {
		return errno("rmdir", err)
	}
	switch {
	case n.Base().IsMountPoint():
		return vfs.Errno(vfs.ErrBusy)
	case !n.Base().IsDirectory():
		return vfs.Errno(vfs.ErrNotDirectory)
	}
	return errno("rmdir", vfs.Unlink(dir, op.Name, false))
}

func (s *Server) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	dir, err := s.node(op.Parent)
	if err != nil {
		return errno("unlink", err)
	}
	n, err := vfs.FindDir(dir, op.Name)
	if err != nil {
		return errno("unlink", err)
	}
	if n.Base().IsDirectory() || n.Base().IsMountPoint() {
		return vfs.Errno(vfs.ErrIsDirectory)
	}
	return errno("unlink", vfs.Unlink(dir, op.Name, false))
}

func (s *Server) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	n, err := s.node(op.Inode)
	if err != nil {
		return errno("opendir", err)
	}
	h, err := vfs.Open(ctx, n, vfs.O_RDONLY|vfs.O_DIRECTORY)
	if err != nil {
		return errno("opendir", err)
	}
	op.Handle = s.addHandle(h)
	return nil
}

func (s *Server) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	h, err := s.handle(op.Handle)
	if err != nil {
		return errno("readdir", err)
	}

	vol := h.Node().Base().VolumeID()
	for i := int(op.Offset); ; i++ {
		ent, err := h.ReadDir(i)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errno("readdir", err)
		}

		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  s.direntInode(vol, ent.Inode),
			Name:   ent.Name,
			Type:   direntType(ent),
		})
		if n == 0 {
			return nil
		}
		op.BytesRead += n
	}
}

func (s *Server) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return errno("releasedir", s.closeHandle(op.Handle))
}

// OpenFile opens the node for reading and writing, or for reading only
// when the node refuses writers.
func (s *Server) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	n, err := s.node(op.Inode)
	if err != nil {
		return errno("open", err)
	}

	h, err := vfs.Open(ctx, n, vfs.O_RDWR)
	switch err {
	case vfs.ErrReadOnly, vfs.ErrAccess, vfs.ErrIsDirectory:
		h, err = vfs.Open(ctx, n, vfs.O_RDONLY)
	}
	if err != nil {
		return errno("open", err)
	}

	op.Handle = s.addHandle(h)
	op.KeepPageCache = n.Base().IsFile()
	op.UseDirectIO = !n.Base().IsFile()
	return nil
}

func (s *Server) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	h, err := s.handle(op.Handle)
	if err != nil {
		return errno("read", err)
	}
	ctx, done := s.withThread(ctx)
	defer done()

	op.BytesRead, err = h.ReadAt(ctx, op.Offset, op.Dst)
	return errno("read", err)
}

func (s *Server) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	h, err := s.handle(op.Handle)
	if err != nil {
		return errno("write", err)
	}
	ctx, done := s.withThread(ctx)
	defer done()

	n, err := h.WriteAt(ctx, op.Offset, op.Data)
	if err == nil && n < len(op.Data) {
		err = vfs.ErrExhausted
	}
	return errno("write", err)
}

func (s *Server) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	h, err := s.handle(op.Handle)
	if err != nil {
		return errno("fsync", err)
	}
	if err := h.Sync(); err != nil && err != vfs.ErrInvalid {
		return errno("fsync", err)
	}
	return nil
}

func (s *Server) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (s *Server) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return errno("release", s.closeHandle(op.Handle))
}

func (s *Server) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	n, err := s.node(op.Inode)
	if err != nil {
		return errno("readlink", err)
	}
	op.Target, err = n.ReadLink()
	return errno("readlink", err)
}

// Destroy closes every handle and pin the server holds.
func (s *Server) Destroy() {
	s.mu.Lock()
	handles := s.handles
	inodes := s.inodes
	s.handles = make(map[fuseops.HandleID]*vfs.Handle)
	s.inodes = make(map[fuseops.InodeID]*inode)
	s.ids = make(map[vfs.NodeKey]fuseops.InodeID)
	s.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
	for _, in := range inodes {
		in.pin.Close()
	}
	log.Infof("[FUSE] destroyed")
}

var _ fuseutil.FileSystem = (*Server)(nil)
