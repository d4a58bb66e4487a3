package vfs

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestStatLayout(t *testing.T) {
	n := &testNode{}
	n.Init(TypeDirectory, 3, 42, 0o755)
	n.SetSize(1000)

	st := StatNode(n)
	if st.Mode != unix.S_IFDIR|0o755 {
		t.Errorf("Mode = %o, want %o", st.Mode, unix.S_IFDIR|0o755)
	}
	if st.Blocks != 2 {
		t.Errorf("Blocks = %d, want 2", st.Blocks)
	}

	buf := make([]byte, StatSize)
	if err := st.MarshalTo(buf); err != nil {
		t.Fatalf("MarshalTo() failed: %v", err)
	}
	if got := binary.LittleEndian.Uint64(buf[8:]); got != 42 {
		t.Errorf("encoded Ino = %d, want 42", got)
	}
	if got := binary.LittleEndian.Uint64(buf[40:]); got != 1000 {
		t.Errorf("encoded Size = %d, want 1000", got)
	}
	if err := st.MarshalTo(buf[:StatSize-1]); err != ErrInvalid {
		t.Errorf("MarshalTo() short buffer = %v, want %v", err, ErrInvalid)
	}
}

func TestStatModeByType(t *testing.T) {
	tests := []struct {
		typ  NodeType
		mode uint32
	}{
		{TypeFile, unix.S_IFREG},
		{TypeDirectory, unix.S_IFDIR},
		{TypeMountPoint, unix.S_IFDIR},
		{TypeBlockDevice, unix.S_IFBLK},
		{TypeCharDevice, unix.S_IFCHR},
		{TypeSymlink, unix.S_IFLNK},
		{TypeSocket, unix.S_IFSOCK},
		{TypeFIFO, unix.S_IFIFO},
	}

	for _, tt := range tests {
		n := &testNode{}
		n.Init(tt.typ, 1, 2, 0o640)
		st := StatNode(n)
		if uint32(st.Mode)&unix.S_IFMT != tt.mode {
			t.Errorf("%v: mode %o, want %o", tt.typ, uint32(st.Mode)&unix.S_IFMT, tt.mode)
		}
		if st.Mode&0o7777 != 0o640 {
			t.Errorf("%v: perm %o, want 640", tt.typ, st.Mode&0o7777)
		}
	}
}

func TestCapabilityQueries(t *testing.T) {
	types := []NodeType{TypeFile, TypeDirectory, TypeMountPoint, TypeBlockDevice,
		TypeCharDevice, TypeSymlink, TypeSocket, TypeFIFO}

	for _, typ := range types {
		n := &testNode{}
		n.Init(typ, 1, 1, 0)
		queries := []bool{n.IsFile(), n.IsDirectory(), n.IsMountPoint(), n.IsBlockDevice(),
			n.IsCharDevice(), n.IsSymlink(), n.IsSocket(), n.IsFIFO()}

		set := 0
		for _, q := range queries {
			if q {
				set++
			}
		}
		if set != 1 {
			t.Errorf("%v: %d capability queries true, want 1", typ, set)
		}
	}
}

func TestDirentLayout(t *testing.T) {
	ent := &DirectoryEntry{Name: "hello", Inode: 7, Flags: unix.DT_REG}
	d := NewDirent(ent)

	buf := make([]byte, DirentSize)
	if err := d.MarshalTo(buf); err != nil {
		t.Fatalf("MarshalTo() failed: %v", err)
	}
	if DirentSize != 263 {
		t.Errorf("DirentSize = %d, want 263", DirentSize)
	}
	if binary.LittleEndian.Uint32(buf[0:]) != 7 || binary.LittleEndian.Uint32(buf[4:]) != unix.DT_REG {
		t.Errorf("header = % x", buf[:8])
	}
	if string(buf[8:14]) != "hello\x00" {
		t.Errorf("name bytes = %q", buf[8:14])
	}

	back, err := UnmarshalDirent(buf)
	if err != nil || back.NameString() != "hello" {
		t.Errorf("UnmarshalDirent() = %q, %v", back.NameString(), err)
	}

	long := NewDirent(&DirectoryEntry{Name: strings.Repeat("z", NameMax)})
	if long.NameString() != strings.Repeat("z", NameMax) {
		t.Error("a name of NameMax bytes should fill the record")
	}
}

func TestDefaultCapabilities(t *testing.T) {
	file := &testNode{}
	file.Init(TypeFile, 1, 1, 0)
	dir := &testNode{}
	dir.Init(TypeDirectory, 1, 2, 0)

	if _, err := dir.Read(context.Background(), 0, nil); err != ErrIsDirectory {
		t.Errorf("directory Read() = %v, want %v", err, ErrIsDirectory)
	}
	if _, err := file.Read(context.Background(), 0, nil); err != ErrNotSupported {
		t.Errorf("file Read() = %v, want %v", err, ErrNotSupported)
	}
	if _, err := file.FindDir("x"); err != ErrNotDirectory {
		t.Errorf("file FindDir() = %v, want %v", err, ErrNotDirectory)
	}
	if _, err := dir.FindDir("x"); err != ErrNotSupported {
		t.Errorf("directory FindDir() = %v, want %v", err, ErrNotSupported)
	}
	if _, err := file.Ioctl(context.Background(), 0, 0); err != ErrNotTTY {
		t.Errorf("Ioctl() = %v, want %v", err, ErrNotTTY)
	}
	if err := file.Watch(NewWatcher(), POLLIN); err != ErrNotSupported {
		t.Errorf("Watch() = %v, want %v", err, ErrNotSupported)
	}
}

func TestResult(t *testing.T) {
	if got := Result(5, nil); got != 5 {
		t.Errorf("Result(5, nil) = %d", got)
	}
	if got := Result(0, ErrNotFound); got != -int64(unix.ENOENT) {
		t.Errorf("Result(0, ErrNotFound) = %d", got)
	}
	if Errno(SkipDir) != unix.EIO {
		t.Errorf("Errno() of a non-errno error = %v, want EIO", Errno(SkipDir))
	}
}
