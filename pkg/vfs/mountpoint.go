package vfs

// MountPoint stands in a directory for the root of another volume. It keeps
// the directory it covers so the mount can be undone.
type MountPoint struct {
	BaseNode

	target  VolumeID
	covered Node
}

func newMountPoint(covered Node, target VolumeID) *MountPoint {
	cb := covered.Base()

	mp := &MountPoint{target: target, covered: covered}
	mp.Init(TypeMountPoint, cb.VolumeID(), cb.Inode(), cb.Perm())
	mp.SetUID(cb.UID())
	mp.SetParent(cb.Parent())
	return mp
}

// Target returns the volume mounted here.
func (mp *MountPoint) Target() VolumeID { return mp.target }

// Covered returns the directory hidden by the mount.
func (mp *MountPoint) Covered() Node { return mp.covered }
