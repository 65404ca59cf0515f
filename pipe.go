package ioloop

import (
	"sync"

	"github.com/pkg/errors"
)

// PipeCaps are the capability flags a Pipe is created with.
type PipeCaps uint32

const (
	PipeIPC PipeCaps = 1 << iota
	PipeSpawnSafe
	PipeReadable
	PipeWritable
)

func (c PipeCaps) has(f PipeCaps) bool { return c&f != 0 }

// ConnectionCallback is fired once per accepted connection on a
// listening Pipe, in acceptance order. err is non-nil only for a failed
// accept attempt on the underlying watcher.
type ConnectionCallback func(server *Pipe, err error)

// ConnectCallback is fired exactly once, never synchronously, with the
// outcome of Connect.
type ConnectCallback func(err error)

// Pipe is a local bidirectional byte stream. The zero value is not
// usable; construct with InitPipe.
type Pipe struct {
	Handle

	mu   sync.Mutex
	caps PipeCaps
	name string // owned copy; set only once bound

	connectionCB ConnectionCallback
	delayedErr   error

	impl pipeImpl
}

// InitPipe sets capability bits; no OS resource is allocated and this
// always succeeds.
func InitPipe(loop *Loop, caps PipeCaps) *Pipe {
	p := &Pipe{caps: caps}
	p.Handle = newHandle(loop, KindPipe, p)
	p.impl = newPipeImpl()
	loop.register(&p.Handle)
	return p
}

// Caps reports the capability flags this pipe was initialised with.
func (p *Pipe) Caps() PipeCaps { return p.caps }

// Name returns the filesystem name this pipe is bound to, or "" if
// unbound.
func (p *Pipe) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Bind creates the underlying transport and binds it to name. Fails
// EINVAL if already bound.
func (p *Pipe) Bind(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.name != "" {
		return newError("pipe.Bind", EINVAL, nil)
	}
	if err := p.impl.bind(name); err != nil {
		return err
	}
	p.name = name
	return nil
}

// Listen installs an accept watcher. Fails EINVAL if unbound.
func (p *Pipe) Listen(backlog int, cb ConnectionCallback) error {
	p.mu.Lock()
	if p.name == "" && !p.impl.hasListenTarget() {
		p.mu.Unlock()
		return newError("pipe.Listen", EINVAL, nil)
	}
	p.connectionCB = cb
	p.mu.Unlock()
	p.activate()
	return p.impl.listen(p, backlog)
}

// Accept dequeues the endpoint stashed by the most recent connection
// callback into client, which must have been created with InitPipe on
// the same loop. Calling Accept is what re-arms the listen watcher after
// it paused for backpressure.
func (p *Pipe) Accept(client *Pipe) error {
	return p.impl.accept(client)
}

// Connect issues a non-blocking connect to name. Any failure — including
// one detectable before any OS call — is delivered through cb on a later
// loop iteration, never synchronously.
func (p *Pipe) Connect(name string, cb ConnectCallback) {
	p.activate()
	p.impl.connect(p, name, cb)
}

// Open adopts an existing descriptor/handle.
func (p *Pipe) Open(fd uintptr) error {
	p.activate()
	return p.impl.open(p, fd)
}

// LinkPipes creates a connected pair in one atomic allocation. read
// must have PipeReadable set, write must have PipeWritable set, and IPC
// must not be set on both; both must share loop.
func LinkPipes(loop *Loop, read, write *Pipe) error {
	if read.Loop() != loop || write.Loop() != loop {
		return newError("pipe.Link", EINVAL, errors.New("endpoints must share a loop"))
	}
	if !read.caps.has(PipeReadable) {
		return newError("pipe.Link", EINVAL, errors.New("read end missing PipeReadable"))
	}
	if !write.caps.has(PipeWritable) {
		return newError("pipe.Link", EINVAL, errors.New("write end missing PipeWritable"))
	}
	if read.caps.has(PipeIPC) && write.caps.has(PipeIPC) {
		return newError("pipe.Link", EINVAL, errors.New("IPC must not be set on both ends"))
	}
	return linkPipeImpls(read, write)
}

// Read reads from the connected/accepted/adopted endpoint.
func (p *Pipe) Read(b []byte) (int, error) { return p.impl.read(b) }

// Write writes to the connected/accepted/adopted endpoint.
func (p *Pipe) Write(b []byte) (int, error) { return p.impl.write(b) }

// Fd returns the underlying OS descriptor/handle, for stdio wiring.
func (p *Pipe) Fd() uintptr { return p.impl.fdValue() }

// Close unlinks any owned filesystem name before releasing the
// descriptor, avoiding a window where a new bind could race the old
// name, then transitions into CLOSING; cb fires from the loop's
// endgame pass.
func (p *Pipe) Close(cb CloseCallback) {
	if !p.beginClose(cb) {
		return
	}
	p.mu.Lock()
	name := p.name
	p.mu.Unlock()
	p.impl.stopWatchers()
	p.Loop().endgame(&p.Handle, func() {
		if name != "" {
			unlinkPipeName(name)
		}
		p.impl.release()
	})
}
