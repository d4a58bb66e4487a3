package process

import (
	"time"

	"kvfs/pkg/vfs"
)

// PollFD is one entry of a Poll request.
type PollFD struct {
	FD      int
	Events  vfs.PollEvents
	REvents vfs.PollEvents
}

// hangUpper is implemented by nodes that can tell their peer is gone.
type hangUpper interface {
	HungUp() bool
}

// scan fills in REvents and returns the number of entries with any event.
func (p *Process) scan(fds []PollFD) int {
	ready := 0
	for i := range fds {
		pfd := &fds[i]
		pfd.REvents = 0

		h, err := p.Handle(pfd.FD)
		if err != nil {
			pfd.REvents = vfs.POLLNVAL
			ready++
			continue
		}

		node := h.Node()
		if pfd.Events&vfs.POLLIN != 0 && node.CanRead() {
			pfd.REvents |= vfs.POLLIN
		}
		if pfd.Events&vfs.POLLOUT != 0 && node.CanWrite() {
			pfd.REvents |= vfs.POLLOUT
		}
		if hu, ok := node.(hangUpper); ok && hu.HungUp() {
			pfd.REvents |= vfs.POLLHUP
		}
		if pfd.REvents != 0 {
			ready++
		}
	}
	return ready
}

// Poll waits until one of fds is ready and returns how many are. A zero
// timeout only scans; a negative one waits without bound. It returns 0 when
// the timeout elapsed. Nodes that cannot be watched are reported from their
// CanRead and CanWrite answers alone.
func (p *Process) Poll(fds []PollFD, timeout time.Duration) int64 {
	if n := p.scan(fds); n > 0 || timeout == 0 {
		return int64(n)
	}

	w := vfs.NewWatcher()
	defer w.Close()

	ctx := p.Context()
	for i := range fds {
		h, err := p.Handle(fds[i].FD)
		if err != nil {
			continue
		}
		events := fds[i].Events | vfs.POLLHUP | vfs.POLLERR
		if err := w.WatchNode(ctx, h.Node(), events); err != nil && err != vfs.ErrNotSupported {
			return vfs.Result(0, err)
		}
	}

	remaining := timeout
	for {
		// Events firing between the scan and the wait are counted by the
		// watcher and end the wait at once.
		if n := p.scan(fds); n > 0 {
			return int64(n)
		}

		var err error
		if timeout < 0 {
			err = w.Wait(p.thread)
		} else {
			err = w.WaitTimeout(p.thread, &remaining)
		}
		switch {
		case err == vfs.ErrWouldBlock:
			return 0
		case err != nil:
			return vfs.Result(0, err)
		}
	}
}
