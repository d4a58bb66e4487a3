package fusebridge

import (
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"kvfs/pkg/vfs"
)

// modTimer is implemented by nodes that track modification times.
type modTimer interface {
	ModTime() time.Time
}

// fileMode converts a node's type and permission bits to an os.FileMode.
func fileMode(b *vfs.BaseNode) os.FileMode {
	mode := os.FileMode(b.Perm() & 0o7777)
	switch b.Type() {
	case vfs.TypeDirectory, vfs.TypeMountPoint:
		mode |= os.ModeDir
	case vfs.TypeSymlink:
		mode |= os.ModeSymlink
	case vfs.TypeCharDevice:
		mode |= os.ModeDevice | os.ModeCharDevice
	case vfs.TypeBlockDevice:
		mode |= os.ModeDevice
	case vfs.TypeFIFO:
		mode |= os.ModeNamedPipe
	case vfs.TypeSocket:
		mode |= os.ModeSocket
	}
	return mode
}

func (s *Server) attributes(node vfs.Node) fuseops.InodeAttributes {
	st := vfs.StatNode(node)
	now := s.clock.Now()

	mtime := now
	if m, ok := node.(modTimer); ok {
		mtime = m.ModTime()
	}

	return fuseops.InodeAttributes{
		Size:   uint64(st.Size),
		Nlink:  uint32(st.Nlink),
		Mode:   fileMode(node.Base()),
		Atime:  now,
		Mtime:  mtime,
		Ctime:  mtime,
		Crtime: mtime,
		Uid:    s.uid,
		Gid:    s.gid,
	}
}

// direntType maps a directory entry's DT_* tag to the FUSE one. The two
// share the values of dirent(5).
func direntType(ent *vfs.DirectoryEntry) fuseutil.DirentType {
	return fuseutil.DirentType(ent.Flags)
}
