package vfs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NodeType is the type portion of a node's flags. Exactly one type is set on
// every node.
type NodeType uint32

// Node types. Values follow the S_IF* encoding; mount points take an encoding
// of their own so that a mount point is never mistaken for a directory.
const (
	TypeFile        NodeType = unix.S_IFREG
	TypeDirectory   NodeType = unix.S_IFDIR
	TypeMountPoint  NodeType = 0x3000
	TypeBlockDevice NodeType = unix.S_IFBLK
	TypeCharDevice  NodeType = unix.S_IFCHR
	TypeSymlink     NodeType = unix.S_IFLNK
	TypeSocket      NodeType = unix.S_IFSOCK
	TypeFIFO        NodeType = unix.S_IFIFO

	// TypeMask selects the type bits of a node's flags.
	TypeMask = 0xF000
)

func (t NodeType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeMountPoint:
		return "mountpoint"
	case TypeBlockDevice:
		return "blockdevice"
	case TypeCharDevice:
		return "chardevice"
	case TypeSymlink:
		return "symlink"
	case TypeSocket:
		return "socket"
	case TypeFIFO:
		return "fifo"
	}
	return fmt.Sprintf("NodeType(%#x)", uint32(t))
}

// Mode returns the S_IF* bits reported by Stat for this type. Mount points
// report as directories.
func (t NodeType) Mode() uint32 {
	if t == TypeMountPoint {
		return unix.S_IFDIR
	}
	return uint32(t)
}

// DirentType returns the DT_* tag used in directory entries.
func (t NodeType) DirentType() uint32 {
	switch t {
	case TypeFile:
		return unix.DT_REG
	case TypeDirectory, TypeMountPoint:
		return unix.DT_DIR
	case TypeBlockDevice:
		return unix.DT_BLK
	case TypeCharDevice:
		return unix.DT_CHR
	case TypeSymlink:
		return unix.DT_LNK
	case TypeSocket:
		return unix.DT_SOCK
	case TypeFIFO:
		return unix.DT_FIFO
	}
	return unix.DT_UNKNOWN
}

// Ino is an inode number, unique within a volume.
type Ino int64

// VolumeID identifies a registered volume.
type VolumeID int64

// NodeKey names a node without holding it: the owning volume and the inode.
// Parent links and mount attachments are stored as keys and resolved through
// the Namespace, never as references.
type NodeKey struct {
	Volume VolumeID
	Inode  Ino
}

// IsZero reports whether k names no node.
func (k NodeKey) IsZero() bool {
	return k == NodeKey{}
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%d:%d", k.Volume, k.Inode)
}

// Flags for Open, matching the host's O_* values.
const (
	O_RDONLY    = unix.O_RDONLY    // Open read-only.
	O_WRONLY    = unix.O_WRONLY    // Open write-only.
	O_RDWR      = unix.O_RDWR      // Open read-write.
	O_ACCMODE   = unix.O_ACCMODE   // Mask for the access mode.
	O_CREATE    = unix.O_CREAT     // Create the file if it does not exist.
	O_EXCL      = unix.O_EXCL      // Used with O_CREATE: file must not exist.
	O_TRUNC     = unix.O_TRUNC     // Truncate a regular file on open.
	O_APPEND    = unix.O_APPEND    // Write at the end of the node.
	O_NONBLOCK  = unix.O_NONBLOCK  // Fail with ErrWouldBlock instead of blocking.
	O_DIRECTORY = unix.O_DIRECTORY // Fail unless the path names a directory.
	O_NOFOLLOW  = unix.O_NOFOLLOW  // Do not follow a final symbolic link.
	O_PATH      = unix.O_PATH      // Reference the node without reading or writing it.
)

// Whence values for Seek.
const (
	SEEK_SET = 0 // Relative to the start of the node.
	SEEK_CUR = 1 // Relative to the current position.
	SEEK_END = 2 // Relative to the node size.
)

// PollEvents is a readiness mask as used by poll(2).
type PollEvents int16

// Poll event bits.
const (
	POLLIN     PollEvents = 0x01
	POLLOUT    PollEvents = 0x02
	POLLPRI    PollEvents = 0x04
	POLLHUP    PollEvents = 0x08
	POLLERR    PollEvents = 0x10
	POLLRDHUP  PollEvents = 0x20
	POLLNVAL   PollEvents = 0x40
	POLLWRNORM PollEvents = 0x80
)

// Limits.
const (
	// NameMax is the longest allowed directory entry name.
	NameMax = 255
	// PathMax is the longest allowed path.
	PathMax = 4096
	// MaxSymlinkExpansions caps symbolic link expansions in one resolution.
	MaxSymlinkExpansions = 10
)
