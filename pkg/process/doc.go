/*
Package process is the system call boundary of the file system layer.

A Manager keeps the process table. Every Process owns a working directory,
a descriptor table of open vfs handles and the sched.Thread its blocking
operations suspend; Manager.Interrupt delivers an interruption to that
thread, so a blocked read returns EINTR or its partial count.

# Wire results

The system call methods on Process return int64 the way a kernel returns
to user space: a non-negative count, descriptor or position on success and
a negated errno on failure.

	fd := p.Open("/dev/null", vfs.O_WRONLY)
	if fd < 0 {
		return unix.Errno(-fd)
	}
	p.Write(int(fd), []byte("discarded"))
	p.Close(int(fd))

Descriptors are allocated lowest first. Dup, Dup2, Fork and GrantPTY make
descriptors that share one open file description and its position.

# Process States

  - Running: the process may issue operations
  - Stopped: suspended by Stop; its blocked operation was interrupted
  - Zombie: exited, descriptors closed, waiting to be reaped
*/
package process
