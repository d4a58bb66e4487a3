package vfs

import "encoding/binary"

// StatSize is the encoded size of a Stat.
const StatSize = 64

// DefaultBlockSize is reported in Stat.Blksize.
const DefaultBlockSize = 512

// Stat is the metadata record returned by the stat family of calls.
type Stat struct {
	Dev     uint64
	Ino     int64
	Mode    int32
	Nlink   int32
	UID     int32
	GID     int32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
}

// StatNode describes node. Mode combines the S_IF* bits of the node type
// with its permission bits.
func StatNode(node Node) Stat {
	b := node.Base()

	b.meta.Lock()
	defer b.meta.Unlock()

	typ := NodeType(b.flags & TypeMask)
	st := Stat{
		Dev:     uint64(b.volume),
		Ino:     int64(b.inode),
		Mode:    int32(typ.Mode() | b.pmask),
		Nlink:   b.nlink,
		UID:     b.uid,
		Size:    b.size,
		Blksize: DefaultBlockSize,
		Blocks:  (b.size + DefaultBlockSize - 1) / DefaultBlockSize,
	}
	if typ == TypeBlockDevice || typ == TypeCharDevice {
		st.Rdev = uint64(b.inode)
	}
	return st
}

// MarshalTo encodes st little-endian into buf, which must hold StatSize
// bytes.
func (st *Stat) MarshalTo(buf []byte) error {
	if len(buf) < StatSize {
		return ErrInvalid
	}
	le := binary.LittleEndian
	le.PutUint64(buf[0:], st.Dev)
	le.PutUint64(buf[8:], uint64(st.Ino))
	le.PutUint32(buf[16:], uint32(st.Mode))
	le.PutUint32(buf[20:], uint32(st.Nlink))
	le.PutUint32(buf[24:], uint32(st.UID))
	le.PutUint32(buf[28:], uint32(st.GID))
	le.PutUint64(buf[32:], st.Rdev)
	le.PutUint64(buf[40:], uint64(st.Size))
	le.PutUint64(buf[48:], uint64(st.Blksize))
	le.PutUint64(buf[56:], uint64(st.Blocks))
	return nil
}

// UnmarshalStat decodes a Stat written by MarshalTo.
func UnmarshalStat(buf []byte) (Stat, error) {
	var st Stat
	if len(buf) < StatSize {
		return st, ErrInvalid
	}
	le := binary.LittleEndian
	st.Dev = le.Uint64(buf[0:])
	st.Ino = int64(le.Uint64(buf[8:]))
	st.Mode = int32(le.Uint32(buf[16:]))
	st.Nlink = int32(le.Uint32(buf[20:]))
	st.UID = int32(le.Uint32(buf[24:]))
	st.GID = int32(le.Uint32(buf[28:]))
	st.Rdev = le.Uint64(buf[32:])
	st.Size = int64(le.Uint64(buf[40:]))
	st.Blksize = int64(le.Uint64(buf[48:]))
	st.Blocks = int64(le.Uint64(buf[56:]))
	return st, nil
}
