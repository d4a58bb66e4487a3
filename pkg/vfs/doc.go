// Package vfs implements the kernel's virtual file system layer: the Node
// contract every file system implements, open handles, blocking and
// readiness notification, and a Namespace that stitches volumes together
// with mount points and resolves paths across them.
//
// # Nodes
//
// Every file, directory, device, pipe, terminal and symbolic link is a Node.
// Implementations embed BaseNode, which carries the shared metadata (type,
// permissions, owner, size, link count, handle count, last error) and a
// default for every capability, then override the operations they support.
// Errors are the errno values in errors.go; Result folds a count and an
// error into the integer returned across the system call boundary.
//
// # Blocking
//
// A node that cannot make progress creates a Blocker for the current
// thread with NewBlocker, registers it while still holding its own lock and
// then waits. Wake unblocks every waiter matching a state, in arrival
// order. Handles opened with O_NONBLOCK carry no thread, so NewBlocker
// fails with ErrWouldBlock instead.
//
// # Namespace
//
//	ns := vfs.NewNamespace()
//	root := ramfs.New(ns.NextVolumeID(), "root", 0o755)
//	ns.RegisterVolume(root)
//	ns.Mount("/", root.ID())
//
//	h, err := ns.Open(ctx, "/greeting", vfs.O_CREATE|vfs.O_RDWR, nil)
//	if err != nil {
//		return err
//	}
//	defer h.Close()
//
// Backends live in the subpackages ramfs, devfs and hostfs.
package vfs
