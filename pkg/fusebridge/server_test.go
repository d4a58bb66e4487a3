package fusebridge

import (
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"

	"kvfs/pkg/vfs"
	"kvfs/pkg/vfs/devfs"
	"kvfs/pkg/vfs/ramfs"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ns    *vfs.Namespace
	dev   *devfs.FS
	clock *timeutil.SimulatedClock
	srv   *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &timeutil.SimulatedClock{}
	clock.SetTime(epoch)

	ns := vfs.NewNamespace()
	root := ramfs.New(ns.NextVolumeID(), "root", 0o755, ramfs.WithClock(clock))
	ns.RegisterVolume(root)
	ns.Mount("/", root.ID())

	dev := devfs.New(ns.NextVolumeID(), "dev")
	ns.RegisterVolume(dev)
	ns.Mkdir("/dev", 0o755, nil)
	if err := ns.Mount("/dev", dev.ID()); err != nil {
		t.Fatalf("Mount(/dev) failed: %v", err)
	}

	srv, err := NewServer(ns, WithClock(clock), WithOwner(1000, 1000), WithTTL(time.Minute))
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return &fixture{ns: ns, dev: dev, clock: clock, srv: srv}
}

func (f *fixture) lookup(t *testing.T, parent fuseops.InodeID, name string) fuseops.ChildInodeEntry {
	t.Helper()
	op := &fuseops.LookUpInodeOp{Parent: parent, Name: name}
	if err := f.srv.LookUpInode(context.Background(), op); err != nil {
		t.Fatalf("LookUpInode(%s) failed: %v", name, err)
	}
	return op.Entry
}

func (f *fixture) create(t *testing.T, parent fuseops.InodeID, name string) (fuseops.InodeID, fuseops.HandleID) {
	t.Helper()
	op := &fuseops.CreateFileOp{Parent: parent, Name: name, Mode: 0o644}
	if err := f.srv.CreateFile(context.Background(), op); err != nil {
		t.Fatalf("CreateFile(%s) failed: %v", name, err)
	}
	return op.Entry.Child, op.Handle
}

// direntNames decodes the names in a buffer filled by ReadDir.
func direntNames(buf []byte) []string {
	var names []string
	for len(buf) >= 24 {
		namelen := int(binary.LittleEndian.Uint32(buf[16:]))
		names = append(names, string(buf[24:24+namelen]))
		size := (24 + namelen + 7) &^ 7
		if size > len(buf) {
			break
		}
		buf = buf[size:]
	}
	return names
}

// direntInodes maps each name in a buffer filled by ReadDir to its inode.
func direntInodes(buf []byte) map[string]fuseops.InodeID {
	inodes := make(map[string]fuseops.InodeID)
	for len(buf) >= 24 {
		namelen := int(binary.LittleEndian.Uint32(buf[16:]))
		inodes[string(buf[24:24+namelen])] = fuseops.InodeID(binary.LittleEndian.Uint64(buf))
		size := (24 + namelen + 7) &^ 7
		if size > len(buf) {
			break
		}
		buf = buf[size:]
	}
	return inodes
}

func TestNewServerRequiresRoot(t *testing.T) {
	if _, err := NewServer(vfs.NewNamespace()); err != vfs.ErrNotFound {
		t.Errorf("NewServer() without a root = %v, want %v", err, vfs.ErrNotFound)
	}
}

func TestLookUpAndForget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, _ := f.ns.Open(ctx, "/greeting", vfs.O_CREATE|vfs.O_WRONLY, nil)
	h.Write(ctx, []byte("hello"))
	h.Close()

	e := f.lookup(t, fuseops.RootInodeID, "greeting")
	if e.Attributes.Size != 5 || e.Attributes.Mode != 0o644 {
		t.Errorf("attributes size %d mode %v", e.Attributes.Size, e.Attributes.Mode)
	}
	if e.Attributes.Uid != 1000 || !e.Attributes.Mtime.Equal(epoch) {
		t.Errorf("attributes uid %d mtime %v", e.Attributes.Uid, e.Attributes.Mtime)
	}
	if !e.AttributesExpiration.Equal(epoch.Add(time.Minute)) {
		t.Errorf("AttributesExpiration = %v", e.AttributesExpiration)
	}

	again := f.lookup(t, fuseops.RootInodeID, "greeting")
	if again.Child != e.Child {
		t.Errorf("second lookup returned ID %d, want %d", again.Child, e.Child)
	}
	if f.srv.Len() != 2 {
		t.Errorf("Len() = %d, want 2", f.srv.Len())
	}

	f.srv.ForgetInode(ctx, &fuseops.ForgetInodeOp{Inode: e.Child, N: 1})
	if f.srv.Len() != 2 {
		t.Errorf("Len() after a partial forget = %d, want 2", f.srv.Len())
	}
	f.srv.ForgetInode(ctx, &fuseops.ForgetInodeOp{Inode: e.Child, N: 1})
	if f.srv.Len() != 1 {
		t.Errorf("Len() after forgetting = %d, want 1", f.srv.Len())
	}

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "missing"}
	if err := f.srv.LookUpInode(ctx, op); err != unix.ENOENT {
		t.Errorf("LookUpInode(missing) = %v, want ENOENT", err)
	}
	get := &fuseops.GetInodeAttributesOp{Inode: 999}
	if err := f.srv.GetInodeAttributes(ctx, get); err != unix.ENOENT {
		t.Errorf("GetInodeAttributes(999) = %v, want ENOENT", err)
	}
}

func TestCreateWriteRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, handle := f.create(t, fuseops.RootInodeID, "f")

	w := &fuseops.WriteFileOp{Handle: handle, Offset: 0, Data: []byte("abc")}
	if err := f.srv.WriteFile(ctx, w); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	r := &fuseops.ReadFileOp{Handle: handle, Offset: 1, Dst: make([]byte, 8)}
	if err := f.srv.ReadFile(ctx, r); err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if got := string(r.Dst[:r.BytesRead]); got != "bc" {
		t.Errorf("ReadFile() = %q, want %q", got, "bc")
	}

	rel := &fuseops.ReleaseFileHandleOp{Handle: handle}
	if err := f.srv.ReleaseFileHandle(ctx, rel); err != nil {
		t.Errorf("ReleaseFileHandle() failed: %v", err)
	}
	if err := f.srv.ReleaseFileHandle(ctx, rel); err != unix.EBADF {
		t.Errorf("second ReleaseFileHandle() = %v, want EBADF", err)
	}

	node, _ := f.ns.ResolvePath("/f", nil, true)
	if node.Base().Size() != 3 {
		t.Errorf("size in the namespace = %d, want 3", node.Base().Size())
	}
}

func TestMkDirAndReadDir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d", Mode: os.ModeDir | 0o755}
	if err := f.srv.MkDir(ctx, mk); err != nil {
		t.Fatalf("MkDir() failed: %v", err)
	}
	if !mk.Entry.Attributes.Mode.IsDir() {
		t.Errorf("MkDir() mode = %v", mk.Entry.Attributes.Mode)
	}
	f.create(t, mk.Entry.Child, "x")

	open := &fuseops.OpenDirOp{Inode: mk.Entry.Child}
	if err := f.srv.OpenDir(ctx, open); err != nil {
		t.Fatalf("OpenDir() failed: %v", err)
	}

	rd := &fuseops.ReadDirOp{Handle: open.Handle, Dst: make([]byte, 4096)}
	if err := f.srv.ReadDir(ctx, rd); err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	names := direntNames(rd.Dst[:rd.BytesRead])
	want := []string{".", "..", "x"}
	if len(names) != len(want) {
		t.Fatalf("ReadDir() names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}

	rest := &fuseops.ReadDirOp{Handle: open.Handle, Offset: 3, Dst: make([]byte, 4096)}
	f.srv.ReadDir(ctx, rest)
	if rest.BytesRead != 0 {
		t.Errorf("ReadDir() past the end wrote %d bytes", rest.BytesRead)
	}

	small := &fuseops.ReadDirOp{Handle: open.Handle, Dst: make([]byte, 40)}
	f.srv.ReadDir(ctx, small)
	if got := direntNames(small.Dst[:small.BytesRead]); len(got) != 1 {
		t.Errorf("ReadDir() into a small buffer returned %v", got)
	}

	f.srv.ReleaseDirHandle(ctx, &fuseops.ReleaseDirHandleOp{Handle: open.Handle})
}

func TestReadDirInodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, _ := f.ns.Open(ctx, "/unseen", vfs.O_CREATE|vfs.O_WRONLY, nil)
	h.Close()
	seen, _ := f.create(t, fuseops.RootInodeID, "seen")

	open := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	if err := f.srv.OpenDir(ctx, open); err != nil {
		t.Fatalf("OpenDir() failed: %v", err)
	}
	rd := &fuseops.ReadDirOp{Handle: open.Handle, Dst: make([]byte, 4096)}
	if err := f.srv.ReadDir(ctx, rd); err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	inodes := direntInodes(rd.Dst[:rd.BytesRead])

	if inodes["."] != fuseops.RootInodeID {
		t.Errorf(". inode = %d, want %d", inodes["."], fuseops.RootInodeID)
	}
	if inodes["seen"] != seen {
		t.Errorf("seen inode = %d, want %d", inodes["seen"], seen)
	}
	for _, name := range []string{"unseen", "dev"} {
		if ino := inodes[name]; ino < 1<<volumeShift {
			t.Errorf("%s inode = %d, want one salted with its volume", name, ino)
		}
	}
	if inodes["unseen"] == inodes["dev"] {
		t.Errorf("unseen and dev share inode %d", inodes["dev"])
	}

	dev := f.lookup(t, fuseops.RootInodeID, "dev")
	dopen := &fuseops.OpenDirOp{Inode: dev.Child}
	f.srv.OpenDir(ctx, dopen)
	drd := &fuseops.ReadDirOp{Handle: dopen.Handle, Dst: make([]byte, 4096)}
	f.srv.ReadDir(ctx, drd)
	devInodes := direntInodes(drd.Dst[:drd.BytesRead])
	if devInodes["."] != dev.Child {
		t.Errorf("/dev . inode = %d, want %d", devInodes["."], dev.Child)
	}
	if devInodes["null"] == inodes["unseen"] || devInodes["null"] == fuseops.RootInodeID {
		t.Errorf("/dev/null inode %d collides", devInodes["null"])
	}
}

func TestSymlinkAndLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target, _ := f.create(t, fuseops.RootInodeID, "f")

	sl := &fuseops.CreateSymlinkOp{Parent: fuseops.RootInodeID, Name: "l", Target: "f"}
	if err := f.srv.CreateSymlink(ctx, sl); err != nil {
		t.Fatalf("CreateSymlink() failed: %v", err)
	}
	if sl.Entry.Attributes.Mode&os.ModeSymlink == 0 {
		t.Errorf("symlink mode = %v", sl.Entry.Attributes.Mode)
	}

	rl := &fuseops.ReadSymlinkOp{Inode: sl.Entry.Child}
	if err := f.srv.ReadSymlink(ctx, rl); err != nil || rl.Target != "f" {
		t.Errorf("ReadSymlink() = %q, %v", rl.Target, err)
	}

	ln := &fuseops.CreateLinkOp{Parent: fuseops.RootInodeID, Name: "g", Target: target}
	if err := f.srv.CreateLink(ctx, ln); err != nil {
		t.Fatalf("CreateLink() failed: %v", err)
	}
	if ln.Entry.Child != target || ln.Entry.Attributes.Nlink != 2 {
		t.Errorf("CreateLink() child %d nlink %d", ln.Entry.Child, ln.Entry.Attributes.Nlink)
	}

	dev := f.lookup(t, fuseops.RootInodeID, "dev")
	cross := &fuseops.CreateLinkOp{Parent: dev.Child, Name: "f", Target: target}
	if err := f.srv.CreateLink(ctx, cross); err != unix.EXDEV {
		t.Errorf("CreateLink() across volumes = %v, want EXDEV", err)
	}
}

func TestRenameAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d", Mode: os.ModeDir | 0o755}
	f.srv.MkDir(ctx, mk)
	f.create(t, fuseops.RootInodeID, "f")

	mv := &fuseops.RenameOp{OldParent: fuseops.RootInodeID, OldName: "f", NewParent: mk.Entry.Child, NewName: "f2"}
	if err := f.srv.Rename(ctx, mv); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	f.lookup(t, mk.Entry.Child, "f2")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unlink directory", f.srv.Unlink(ctx, &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "d"}), unix.EISDIR},
		{"rmdir non-empty", f.srv.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "d"}), unix.ENOTEMPTY},
		{"rmdir mount point", f.srv.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "dev"}), unix.EBUSY},
		{"rmdir file", f.srv.RmDir(ctx, &fuseops.RmDirOp{Parent: mk.Entry.Child, Name: "f2"}), unix.ENOTDIR},
		{"unlink file", f.srv.Unlink(ctx, &fuseops.UnlinkOp{Parent: mk.Entry.Child, Name: "f2"}), nil},
		{"rmdir empty", f.srv.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "d"}), nil},
	}
	for _, tt := range tests {
		if tt.err != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestSetInodeAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, handle := f.create(t, fuseops.RootInodeID, "f")
	f.srv.WriteFile(ctx, &fuseops.WriteFileOp{Handle: handle, Data: []byte("abcdef")})

	size := uint64(2)
	mode := os.FileMode(0o600)
	op := &fuseops.SetInodeAttributesOp{Inode: id, Size: &size, Mode: &mode}
	if err := f.srv.SetInodeAttributes(ctx, op); err != nil {
		t.Fatalf("SetInodeAttributes() failed: %v", err)
	}
	if op.Attributes.Size != 2 || op.Attributes.Mode != 0o600 {
		t.Errorf("attributes size %d mode %v", op.Attributes.Size, op.Attributes.Mode)
	}
}

func TestDeviceAttributes(t *testing.T) {
	f := newFixture(t)

	dev := f.lookup(t, fuseops.RootInodeID, "dev")
	if !dev.Attributes.Mode.IsDir() {
		t.Errorf("/dev mode = %v", dev.Attributes.Mode)
	}
	null := f.lookup(t, dev.Child, "null")
	if null.Attributes.Mode&os.ModeCharDevice == 0 {
		t.Errorf("/dev/null mode = %v", null.Attributes.Mode)
	}
}

func TestCancelInterruptsBlockedRead(t *testing.T) {
	f := newFixture(t)
	if _, err := f.dev.MakeFIFO("fifo", 0); err != nil {
		t.Fatalf("MakeFIFO() failed: %v", err)
	}

	dev := f.lookup(t, fuseops.RootInodeID, "dev")
	fifo := f.lookup(t, dev.Child, "fifo")

	open := &fuseops.OpenFileOp{Inode: fifo.Child}
	if err := f.srv.OpenFile(context.Background(), open); err != nil {
		t.Fatalf("OpenFile() failed: %v", err)
	}
	if !open.UseDirectIO {
		t.Error("a FIFO should be opened with direct I/O")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.srv.ReadFile(ctx, &fuseops.ReadFileOp{Handle: open.Handle, Dst: make([]byte, 4)})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != unix.EINTR {
			t.Errorf("cancelled ReadFile() = %v, want EINTR", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not interrupt the read")
	}
}

func TestDestroyClosesHandles(t *testing.T) {
	f := newFixture(t)
	f.create(t, fuseops.RootInodeID, "f")
	node, _ := f.ns.ResolvePath("/f", nil, true)

	if node.Base().HandleCount() != 2 {
		t.Fatalf("HandleCount() = %d, want 2", node.Base().HandleCount())
	}
	f.srv.Destroy()
	if node.Base().HandleCount() != 0 {
		t.Errorf("HandleCount() after Destroy = %d, want 0", node.Base().HandleCount())
	}
	if f.srv.Len() != 0 {
		t.Errorf("Len() after Destroy = %d, want 0", f.srv.Len())
	}
}
