//go:build windows
// +build windows

package ioloop

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// randomPipeSuffix returns a collision-resistant name fragment for the
// loopback pipes linkPipeImpls synthesizes, using the same
// github.com/google/uuid dependency used for the CREATE_PIPE stdio
// slots in stdio_windows.go.
func randomPipeSuffix() string {
	return uuid.NewString()
}

// pipeImpl is the Windows backend of Pipe. Rather than re-deriving
// NtCreateNamedPipeFile and the connect/accept state machine by hand,
// this backend depends on go-winio's public ListenPipe/DialPipeContext
// directly and layers accept-slot backpressure and a bind/listen phase
// split on top.
type pipeImpl struct {
	mu sync.Mutex

	name string
	ln   net.Listener
	conn net.Conn
	file *os.File // set only when adopted via Open from a raw handle

	listening bool
	stopCh    chan struct{}
	resumeCh  chan struct{}
	accepted  net.Conn
	closeOnce sync.Once
}

func newPipeImpl() pipeImpl {
	return pipeImpl{}
}

func (pi *pipeImpl) hasListenTarget() bool {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.name != ""
}

func (pi *pipeImpl) fdValue() uintptr {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.file != nil {
		return pi.file.Fd()
	}
	if sc, ok := pi.conn.(interface{ Fd() uintptr }); ok {
		return sc.Fd()
	}
	return 0
}

// bind validates and stores the pipe path; unlike POSIX, Windows has no
// bind-without-listen primitive, so the actual CreateNamedPipe instance
// is deferred to Listen. Bind still fails EINVAL if already bound, and
// Listen still fails EINVAL if unbound.
func (pi *pipeImpl) bind(name string) error {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.name = name
	return nil
}

func (pi *pipeImpl) listen(p *Pipe, backlog int) error {
	pi.mu.Lock()
	if pi.name == "" {
		pi.mu.Unlock()
		return newError("pipe.listen", EINVAL, nil)
	}
	if pi.listening {
		pi.mu.Unlock()
		return nil
	}
	cfg := &winio.PipeConfig{MessageMode: false, QueueSize: int32(backlog)}
	ln, err := winio.ListenPipe(pi.name, cfg)
	if err != nil {
		pi.mu.Unlock()
		return newError("pipe.listen", classifyWinErr(err), err)
	}
	pi.ln = ln
	pi.listening = true
	pi.stopCh = make(chan struct{})
	pi.resumeCh = make(chan struct{}, 1)
	pi.mu.Unlock()

	go pi.acceptLoop(p, ln)
	return nil
}

func (pi *pipeImpl) acceptLoop(p *Pipe, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		select {
		case <-pi.stopCh:
			if conn != nil {
				conn.Close()
			}
			return
		default:
		}

		var deliverErr error
		if err != nil {
			deliverErr = newError("pipe.accept", classifyWinErr(err), err)
		}

		pi.mu.Lock()
		pi.accepted = conn
		pi.mu.Unlock()

		cb := p.connectionCB
		p.Loop().post(func() {
			if cb != nil {
				cb(p, deliverErr)
			}
		})

		pi.mu.Lock()
		stillStashed := pi.accepted == conn && conn != nil
		pi.mu.Unlock()
		if stillStashed {
			select {
			case <-pi.resumeCh:
			case <-pi.stopCh:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (pi *pipeImpl) accept(client *Pipe) error {
	pi.mu.Lock()
	conn := pi.accepted
	if conn == nil {
		pi.mu.Unlock()
		return newError("pipe.accept", EAGAIN, nil)
	}
	pi.accepted = nil
	resumeCh := pi.resumeCh
	pi.mu.Unlock()

	client.mu.Lock()
	client.impl.conn = conn
	client.mu.Unlock()

	select {
	case resumeCh <- struct{}{}:
	default:
	}
	return nil
}

func (pi *pipeImpl) connect(p *Pipe, name string, cb ConnectCallback) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := winio.DialPipeContext(ctx, name)

		var deliver error
		if err != nil {
			deliver = newError("pipe.connect", classifyWinErr(err), err)
		} else {
			pi.mu.Lock()
			pi.conn = conn
			pi.mu.Unlock()
		}

		p.mu.Lock()
		p.delayedErr = deliver
		p.mu.Unlock()

		p.Loop().post(func() {
			if cb != nil {
				cb(deliver)
			}
		})
	}()
}

func (pi *pipeImpl) open(p *Pipe, fd uintptr) error {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.file = os.NewFile(fd, "pipe")
	return nil
}

// linkPipeImpls has no literal Windows equivalent to socketpair(2), so a
// connected pair is synthesized the same way the CREATE_PIPE stdio
// wiring already must on this platform: a uniquely named loopback pipe,
// listened on and immediately dialed.
func linkPipeImpls(read, write *Pipe) error {
	name := generateLoopbackPipeName()

	ln, err := winio.ListenPipe(name, &winio.PipeConfig{})
	if err != nil {
		return newError("pipe.link", classifyWinErr(err), err)
	}

	acceptCh := make(chan net.Conn, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptCh <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientConn, err := winio.DialPipeContext(ctx, name)
	if err != nil {
		ln.Close()
		return newError("pipe.link", classifyWinErr(err), err)
	}

	var serverConn net.Conn
	select {
	case serverConn = <-acceptCh:
	case err := <-acceptErrCh:
		clientConn.Close()
		ln.Close()
		return newError("pipe.link", classifyWinErr(err), err)
	}
	ln.Close()

	read.mu.Lock()
	read.impl.conn = serverConn
	read.mu.Unlock()

	write.mu.Lock()
	write.impl.conn = clientConn
	write.mu.Unlock()

	return nil
}

func generateLoopbackPipeName() string {
	return `\\.\pipe\ioloop-link-` + randomPipeSuffix()
}

func (pi *pipeImpl) read(b []byte) (int, error) {
	pi.mu.Lock()
	conn, f := pi.conn, pi.file
	pi.mu.Unlock()
	switch {
	case conn != nil:
		n, err := conn.Read(b)
		if err != nil && err != io.EOF { //nolint:errorlint
			return n, newError("pipe.read", classifyWinErr(err), err)
		}
		return n, err
	case f != nil:
		n, err := f.Read(b)
		if err != nil && err != io.EOF { //nolint:errorlint
			return n, newError("pipe.read", classifyWinErr(err), err)
		}
		return n, err
	default:
		return 0, newError("pipe.read", EBADF, nil)
	}
}

func (pi *pipeImpl) write(b []byte) (int, error) {
	pi.mu.Lock()
	conn, f := pi.conn, pi.file
	pi.mu.Unlock()
	switch {
	case conn != nil:
		n, err := conn.Write(b)
		if err != nil {
			return n, newError("pipe.write", classifyWinErr(err), err)
		}
		return n, nil
	case f != nil:
		n, err := f.Write(b)
		if err != nil {
			return n, newError("pipe.write", classifyWinErr(err), err)
		}
		return n, nil
	default:
		return 0, newError("pipe.write", EBADF, nil)
	}
}

func (pi *pipeImpl) stopWatchers() {
	pi.mu.Lock()
	stopCh := pi.stopCh
	ln := pi.ln
	pi.mu.Unlock()
	if stopCh != nil {
		pi.closeOnce.Do(func() { close(stopCh) })
	}
	if ln != nil {
		ln.Close()
	}
}

func (pi *pipeImpl) release() {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.conn != nil {
		pi.conn.Close()
		pi.conn = nil
	}
	if pi.file != nil {
		pi.file.Close()
		pi.file = nil
	}
	if pi.accepted != nil {
		pi.accepted.Close()
		pi.accepted = nil
	}
}

func unlinkPipeName(name string) {
	// Named pipe objects are released by the kernel when the last
	// handle (server and every connected client) closes; there is no
	// filesystem entity to unlink, unlike AF_UNIX sockets.
}

func classifyWinErr(err error) Code {
	cause := errors.Cause(err)
	switch cause {
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND:
		return ENOENT
	case windows.ERROR_ACCESS_DENIED:
		return EACCES
	case windows.ERROR_INVALID_HANDLE:
		return EBADF
	case windows.ERROR_NOT_SUPPORTED:
		return ENOTSUP
	case windows.ERROR_BROKEN_PIPE, windows.ERROR_PIPE_NOT_CONNECTED:
		return EPIPE
	case windows.ERROR_NO_DATA:
		return ECONNRESET
	default:
		if cause == context.DeadlineExceeded {
			return EAGAIN
		}
		return EUNKNOWN
	}
}
