package vfs

import (
	"encoding/binary"
	"strings"
)

// DirectoryEntry names one child of a directory. Node is set when the child
// has been materialized; Inode is always valid.
type DirectoryEntry struct {
	Name   string
	Inode  Ino
	Node   Node
	Parent *DirectoryEntry
	// Flags holds the DT_* type tag of the child.
	Flags uint32
}

// NewDirectoryEntry builds an entry for name. node may be nil when the
// entry only carries a name, as for Create. Names longer than NameMax or
// containing '/' or NUL are rejected.
func NewDirectoryEntry(name string, node Node) (*DirectoryEntry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	ent := &DirectoryEntry{Name: name}
	if node != nil {
		ent.SetNode(node)
	}
	return ent, nil
}

// SetNode points the entry at node and copies its inode and type.
func (e *DirectoryEntry) SetNode(node Node) {
	base := node.Base()
	e.Node = node
	e.Inode = base.Inode()
	e.Flags = base.Type().DirentType()
}

// ValidateName checks a single path component.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return ErrInvalid
	}
	if len(name) > NameMax {
		return ErrNameTooLong
	}
	return nil
}

// DirentSize is the encoded size of a Dirent.
const DirentSize = 4 + 4 + NameMax

// Dirent is the directory entry record copied to user space by ReadDir.
// The name is NUL-padded inside a fixed buffer; a name of NameMax bytes
// fills it.
type Dirent struct {
	Inode uint32
	Type  uint32
	Name  [NameMax]byte
}

// NewDirent fills a Dirent from a directory entry.
func NewDirent(e *DirectoryEntry) Dirent {
	d := Dirent{
		Inode: uint32(e.Inode),
		Type:  e.Flags,
	}
	copy(d.Name[:], e.Name)
	return d
}

// NameString returns the name up to the first NUL.
func (d *Dirent) NameString() string {
	n := 0
	for n < len(d.Name) && d.Name[n] != 0 {
		n++
	}
	return string(d.Name[:n])
}

// MarshalTo encodes d little-endian into buf, which must hold DirentSize
// bytes.
func (d *Dirent) MarshalTo(buf []byte) error {
	if len(buf) < DirentSize {
		return ErrInvalid
	}
	binary.LittleEndian.PutUint32(buf[0:], d.Inode)
	binary.LittleEndian.PutUint32(buf[4:], d.Type)
	copy(buf[8:DirentSize], d.Name[:])
	return nil
}

// UnmarshalDirent decodes a Dirent written by MarshalTo.
func UnmarshalDirent(buf []byte) (Dirent, error) {
	var d Dirent
	if len(buf) < DirentSize {
		return d, ErrInvalid
	}
	d.Inode = binary.LittleEndian.Uint32(buf[0:])
	d.Type = binary.LittleEndian.Uint32(buf[4:])
	copy(d.Name[:], buf[8:DirentSize])
	return d, nil
}
