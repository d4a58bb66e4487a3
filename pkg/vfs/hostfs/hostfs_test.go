package hostfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"kvfs/pkg/vfs"
)

func newTestFS(t *testing.T, readOnly bool) (*FS, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := New(3, "host", dir, readOnly)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return fs, dir
}

func TestNewRejectsFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "file")
	os.WriteFile(p, []byte("x"), 0o644)

	if _, err := New(3, "host", p, false); err == nil {
		t.Error("New() over a regular file should fail")
	}
	if _, err := New(3, "host", filepath.Join(dir, "missing"), false); err == nil {
		t.Error("New() over a missing directory should fail")
	}
}

func TestMaterializeExisting(t *testing.T) {
	fs, dir := newTestFS(t, false)
	os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o640)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	if fs.Materialized() != 1 {
		t.Fatalf("Materialized() = %d, want 1", fs.Materialized())
	}

	n, err := vfs.FindDir(fs.Root(), "hello.txt")
	if err != nil {
		t.Fatalf("FindDir() failed: %v", err)
	}
	if !n.Base().IsFile() || n.Base().Size() != 5 || n.Base().Perm() != 0o640 {
		t.Errorf("node type %v size %d perm %o", n.Base().Type(), n.Base().Size(), n.Base().Perm())
	}

	again, _ := vfs.FindDir(fs.Root(), "hello.txt")
	if again != n {
		t.Error("second lookup returned a different node")
	}
	if _, err := fs.Lookup(n.Base().Inode()); err != nil {
		t.Errorf("Lookup() failed: %v", err)
	}

	buf := make([]byte, 16)
	got, err := n.Read(context.Background(), 0, buf)
	if err != nil || string(buf[:got]) != "hello" {
		t.Errorf("Read() = %q, %v", buf[:got], err)
	}
}

func TestReadDir(t *testing.T) {
	fs, dir := newTestFS(t, false)
	for _, name := range []string{"b", "a", "c"} {
		os.WriteFile(filepath.Join(dir, name), nil, 0o644)
	}

	var names []string
	for i := 0; ; i++ {
		ent, err := vfs.ReadDir(fs.Root(), i)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadDir(%d) failed: %v", i, err)
		}
		names = append(names, ent.Name)
	}

	want := []string{".", "..", "a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestCreateWriteUnlink(t *testing.T) {
	fs, dir := newTestFS(t, false)
	ctx := context.Background()

	n, err := vfs.Create(fs.Root(), "new.txt", 0o644)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := n.Write(ctx, 0, []byte("data")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	if err != nil || string(data) != "data" {
		t.Fatalf("host file = %q, %v", data, err)
	}
	if _, err := vfs.Create(fs.Root(), "new.txt", 0o644); err != vfs.ErrExists {
		t.Errorf("Create() twice = %v, want %v", err, vfs.ErrExists)
	}

	if err := vfs.Unlink(fs.Root(), "new.txt", false); err != nil {
		t.Fatalf("Unlink() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.txt")); !os.IsNotExist(err) {
		t.Errorf("host file still exists: %v", err)
	}
	if _, err := vfs.FindDir(fs.Root(), "new.txt"); err != vfs.ErrNotFound {
		t.Errorf("FindDir() after unlink = %v, want %v", err, vfs.ErrNotFound)
	}
}

func TestUnlinkDirectory(t *testing.T) {
	fs, dir := newTestFS(t, false)
	os.MkdirAll(filepath.Join(dir, "d", "e"), 0o755)

	if err := vfs.Unlink(fs.Root(), "d", false); err != vfs.ErrNotEmpty {
		t.Errorf("Unlink() non-empty = %v, want %v", err, vfs.ErrNotEmpty)
	}
	if err := vfs.Unlink(fs.Root(), "d", true); err != nil {
		t.Fatalf("Unlink() recursive failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "d")); !os.IsNotExist(err) {
		t.Errorf("host directory still exists: %v", err)
	}
}

func TestSymlinkAndRename(t *testing.T) {
	fs, dir := newTestFS(t, false)
	root := fs.Root().(*Dir)

	ent, _ := vfs.NewDirectoryEntry("link", nil)
	if err := root.CreateSymlink(ent, "target"); err != nil {
		t.Fatalf("CreateSymlink() failed: %v", err)
	}
	target, err := ent.Node.ReadLink()
	if err != nil || target != "target" {
		t.Errorf("ReadLink() = %q, %v", target, err)
	}

	os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755)
	a, _ := vfs.FindDir(fs.Root(), "a")
	b, _ := vfs.FindDir(a, "b")

	if err := vfs.Rename(fs.Root(), "a", fs.Root(), "c"); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	if got := b.(*Dir).relPath(); got != filepath.Join("c", "b") {
		t.Errorf("moved child path = %q, want %q", got, filepath.Join("c", "b"))
	}
	if _, err := os.Stat(filepath.Join(dir, "c", "b")); err != nil {
		t.Errorf("host rename missing: %v", err)
	}
}

func TestReadOnly(t *testing.T) {
	fs, dir := newTestFS(t, true)
	os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644)
	ctx := context.Background()

	if _, err := vfs.Create(fs.Root(), "new", 0o644); err != vfs.ErrReadOnly {
		t.Errorf("Create() = %v, want %v", err, vfs.ErrReadOnly)
	}
	f, _ := vfs.FindDir(fs.Root(), "f")
	if _, err := vfs.Open(ctx, f, vfs.O_RDWR); err != vfs.ErrReadOnly {
		t.Errorf("Open(O_RDWR) = %v, want %v", err, vfs.ErrReadOnly)
	}
	if _, err := f.Write(ctx, 0, []byte("y")); err != vfs.ErrReadOnly {
		t.Errorf("Write() = %v, want %v", err, vfs.ErrReadOnly)
	}
}
