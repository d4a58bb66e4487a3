package vfs

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Node operations report failures as errno values so the syscall boundary
// can hand them to user space unchanged.
var (
	ErrNotFound     error = unix.ENOENT
	ErrNotDirectory error = unix.ENOTDIR
	ErrIsDirectory  error = unix.EISDIR
	ErrTooManyLinks error = unix.ELOOP
	ErrInterrupted  error = unix.EINTR
	ErrNoPeer       error = unix.ENOTCONN
	ErrInvalid      error = unix.EINVAL
	ErrExhausted    error = unix.ENOSPC
	ErrNotSupported error = unix.ENOSYS
	ErrNotEmpty     error = unix.ENOTEMPTY
	ErrExists       error = unix.EEXIST
	ErrBadHandle    error = unix.EBADF
	ErrNameTooLong  error = unix.ENAMETOOLONG
	ErrWouldBlock   error = unix.EAGAIN
	ErrBrokenPipe   error = unix.EPIPE
	ErrNotTTY       error = unix.ENOTTY
	ErrAccess       error = unix.EACCES
	ErrCrossDevice  error = unix.EXDEV
	ErrBusy         error = unix.EBUSY
	ErrReadOnly     error = unix.EROFS
)

// Errno extracts the errno carried by err. Errors that carry none map to EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// Result folds a count and an error into the syscall return convention:
// a negative errno on failure, otherwise the count.
func Result(n int, err error) int64 {
	if err != nil {
		return -int64(Errno(err))
	}
	return int64(n)
}
