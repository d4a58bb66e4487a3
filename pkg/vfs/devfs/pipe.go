package devfs

import (
	"bytes"
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"kvfs/pkg/vfs"
)

// pipeBuffer is one direction of a pipe: a bounded byte queue with reader
// and writer counts. Waits for data are registered on rnode and waits for
// room on wnode, which are the same node for a FIFO and the two ends of a
// pseudo-terminal.
type pipeBuffer struct {
	mu       sync.Mutex
	data     bytes.Buffer
	capacity int
	readers  int
	writers  int

	rnode, wnode   vfs.Node
	rwatch, wwatch *vfs.WatchList
}

func (p *pipeBuffer) init(capacity int, rnode, wnode vfs.Node, rwatch, wwatch *vfs.WatchList) {
	p.capacity = capacity
	p.rnode, p.wnode = rnode, wnode
	p.rwatch, p.wwatch = rwatch, wwatch
}

func (p *pipeBuffer) open(reader, writer bool) {
	p.mu.Lock()
	if reader {
		p.readers++
	}
	if writer {
		p.writers++
	}
	p.mu.Unlock()

	if writer {
		p.rwatch.Notify(vfs.POLLIN)
	}
	if reader {
		p.wwatch.Notify(vfs.POLLOUT)
	}
}

func (p *pipeBuffer) close(reader, writer bool) {
	p.mu.Lock()
	lastReader := reader && p.readers == 1
	lastWriter := writer && p.writers == 1
	if reader && p.readers > 0 {
		p.readers--
	}
	if writer && p.writers > 0 {
		p.writers--
	}
	p.mu.Unlock()

	if lastWriter {
		p.rnode.Base().Wake(vfs.BlockRead, -1, 0)
		p.rwatch.Notify(vfs.POLLHUP)
	}
	if lastReader {
		p.wnode.Base().Wake(vfs.BlockWrite, -1, 0)
		p.wwatch.Notify(vfs.POLLERR)
	}
}

// read returns what is buffered, waiting for data if there is none. With
// no writers left an empty pipe reads as end of data.
func (p *pipeBuffer) read(ctx context.Context, buf []byte) (int, error) {
	p.mu.Lock()
	for p.data.Len() == 0 {
		if p.writers == 0 {
			p.mu.Unlock()
			return 0, nil
		}

		b, err := vfs.NewBlocker(ctx, p.rnode, vfs.BlockRead, 1)
		if err != nil {
			p.mu.Unlock()
			return 0, err
		}
		p.mu.Unlock()
		err = b.Wait()
		p.mu.Lock()
		if err != nil {
			p.mu.Unlock()
			return 0, err
		}
	}

	n, _ := p.data.Read(buf)
	free := p.capacity - p.data.Len()
	p.mu.Unlock()

	p.wnode.Base().Wake(vfs.BlockWrite, free, 0)
	p.wwatch.Notify(vfs.POLLOUT)
	return n, nil
}

// write queues all of buf, waiting for room as needed. A write cut short by
// an interruption or by the last reader leaving reports the bytes already
// queued; with nothing queued it reports the error.
func (p *pipeBuffer) write(ctx context.Context, buf []byte) (int, error) {
	written := 0

	p.mu.Lock()
	for written < len(buf) {
		if p.readers == 0 {
			p.mu.Unlock()
			return partial(written, vfs.ErrBrokenPipe)
		}

		free := p.capacity - p.data.Len()
		if free == 0 {
			b, err := vfs.NewBlocker(ctx, p.wnode, vfs.BlockWrite, 1)
			if err != nil {
				p.mu.Unlock()
				return partial(written, err)
			}
			p.mu.Unlock()
			err = b.Wait()
			p.mu.Lock()
			if err != nil {
				p.mu.Unlock()
				return partial(written, err)
			}
			continue
		}

		chunk := min(free, len(buf)-written)
		p.data.Write(buf[written : written+chunk])
		written += chunk
		buffered := p.data.Len()

		p.mu.Unlock()
		p.rnode.Base().Wake(vfs.BlockRead, buffered, 0)
		p.rwatch.Notify(vfs.POLLIN)
		p.mu.Lock()
	}
	p.mu.Unlock()

	return written, nil
}

func partial(n int, err error) (int, error) {
	if n > 0 {
		return n, nil
	}
	return 0, err
}

func (p *pipeBuffer) buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Len()
}

func (p *pipeBuffer) canRead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Len() > 0 || p.writers == 0
}

func (p *pipeBuffer) canWrite() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Len() < p.capacity || p.readers == 0
}

func (p *pipeBuffer) hungUp() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writers == 0
}

func accessEnds(flags int) (reader, writer bool) {
	switch flags & vfs.O_ACCMODE {
	case vfs.O_RDONLY:
		return true, false
	case vfs.O_WRONLY:
		return false, true
	}
	return true, true
}

// Pipe is a FIFO node. Opening it for reading or writing adds a reader or
// writer; reads wait for data and writes wait for room.
type Pipe struct {
	vfs.BaseNode

	fs       *FS
	buf      pipeBuffer
	watchers vfs.WatchList
}

var _ vfs.Node = (*Pipe)(nil)

// Open implements vfs.Node.
func (p *Pipe) Open(ctx context.Context, flags int) error {
	p.buf.open(accessEnds(flags))
	return nil
}

// Close implements vfs.Node.
func (p *Pipe) Close(flags int) {
	p.buf.close(accessEnds(flags))
}

// Read implements vfs.Node. The offset is ignored.
func (p *Pipe) Read(ctx context.Context, off int64, buf []byte) (int, error) {
	n, err := p.buf.read(ctx, buf)
	p.SetSize(int64(p.buf.buffered()))
	return n, err
}

// Write implements vfs.Node. The offset is ignored.
func (p *Pipe) Write(ctx context.Context, off int64, buf []byte) (int, error) {
	n, err := p.buf.write(ctx, buf)
	p.SetSize(int64(p.buf.buffered()))
	return n, err
}

// Ioctl implements vfs.Node. FIONREAD returns the number of buffered
// bytes.
func (p *Pipe) Ioctl(ctx context.Context, cmd, arg uint64) (int, error) {
	if cmd == unix.TIOCINQ {
		return p.buf.buffered(), nil
	}
	return 0, vfs.ErrNotTTY
}

// CanRead implements vfs.Node.
func (p *Pipe) CanRead() bool { return p.buf.canRead() }

// CanWrite implements vfs.Node.
func (p *Pipe) CanWrite() bool { return p.buf.canWrite() }

// HungUp reports whether every writer has gone.
func (p *Pipe) HungUp() bool { return p.buf.hungUp() }

// Watch implements vfs.Node.
func (p *Pipe) Watch(w *vfs.Watcher, events vfs.PollEvents) error {
	p.watchers.Add(w, events)
	return nil
}

// Unwatch implements vfs.Node.
func (p *Pipe) Unwatch(w *vfs.Watcher) { p.watchers.Remove(w) }

// Release implements vfs.Releaser.
func (p *Pipe) Release() { p.fs.forget(p) }
