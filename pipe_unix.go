//go:build !windows
// +build !windows

package ioloop

import (
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pipeImpl is the POSIX backend of Pipe: an AF_UNIX stream socket.
type pipeImpl struct {
	mu sync.Mutex

	listenFD int // socket fd while bound/listening; -1 otherwise
	connFD   int // connected endpoint fd once connected/accepted/opened/linked; -1 otherwise
	file     *os.File

	listening bool
	stopCh    chan struct{}
	resumeCh  chan struct{}
	accepted  int // stashed fd from the watcher; -1 when empty
	closeOnce sync.Once
}

func newPipeImpl() pipeImpl {
	return pipeImpl{listenFD: -1, connFD: -1, accepted: -1}
}

func (pi *pipeImpl) hasListenTarget() bool {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.listenFD >= 0
}

func (pi *pipeImpl) fdValue() uintptr {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.connFD >= 0 {
		return uintptr(pi.connFD)
	}
	return uintptr(pi.listenFD)
}

// bind creates an AF_UNIX stream socket and binds it to name. A NOENT
// bind failure is normalised to ACCES for cross-platform parity with
// the Windows named-pipe model, where the analogous failure is always
// reported as access-denied.
func (pi *pipeImpl) bind(name string) error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return newError("pipe.bind", ENOMEM, err)
	}
	addr := &unix.SockaddrUnix{Name: name}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		code := EACCES
		if err != unix.ENOENT { //nolint:errorlint // unix.Errno compares by value
			code = classifyErrno(err)
		}
		return newError("pipe.bind", code, err)
	}
	pi.mu.Lock()
	pi.listenFD = fd
	pi.mu.Unlock()
	return nil
}

func (pi *pipeImpl) listen(p *Pipe, backlog int) error {
	pi.mu.Lock()
	fd := pi.listenFD
	if fd < 0 {
		pi.mu.Unlock()
		return newError("pipe.listen", EINVAL, nil)
	}
	if pi.listening {
		pi.mu.Unlock()
		return nil
	}
	pi.listening = true
	pi.stopCh = make(chan struct{})
	pi.resumeCh = make(chan struct{}, 1)
	pi.mu.Unlock()

	if err := unix.Listen(fd, backlog); err != nil {
		return newError("pipe.listen", classifyErrno(err), err)
	}

	go pi.acceptLoop(p, fd)
	return nil
}

func (pi *pipeImpl) acceptLoop(p *Pipe, fd int) {
	for {
		select {
		case <-pi.stopCh:
			return
		default:
		}

		cfd, _, err := acceptRetry(fd)
		select {
		case <-pi.stopCh:
			if cfd >= 0 {
				unix.Close(cfd)
			}
			return
		default:
		}

		var deliverErr error
		if err != nil {
			deliverErr = newError("pipe.accept", classifyErrno(err), err)
		}

		pi.mu.Lock()
		pi.accepted = cfd
		pi.mu.Unlock()

		cb := p.connectionCB
		p.Loop().post(func() {
			if cb != nil {
				cb(p, deliverErr)
			}
		})

		// Backpressure: block the watcher until Accept() consumes the
		// stashed descriptor and signals resume.
		pi.mu.Lock()
		stillStashed := pi.accepted == cfd && cfd >= 0
		pi.mu.Unlock()
		if stillStashed {
			select {
			case <-pi.resumeCh:
			case <-pi.stopCh:
				return
			}
		}
	}
}

func acceptRetry(fd int) (int, unix.Sockaddr, error) {
	for {
		cfd, sa, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
		if err == unix.EINTR { //nolint:errorlint
			continue
		}
		return cfd, sa, err
	}
}

func (pi *pipeImpl) accept(client *Pipe) error {
	pi.mu.Lock()
	fd := pi.accepted
	if fd < 0 {
		pi.mu.Unlock()
		return newError("pipe.accept", EAGAIN, nil)
	}
	pi.accepted = -1
	resumeCh := pi.resumeCh
	pi.mu.Unlock()

	if err := client.Open(uintptr(fd)); err != nil {
		return err
	}

	select {
	case resumeCh <- struct{}{}:
	default:
	}
	return nil
}

func (pi *pipeImpl) connect(p *Pipe, name string, cb ConnectCallback) {
	go func() {
		fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err == nil {
			addr := &unix.SockaddrUnix{Name: name}
			for {
				err = unix.Connect(fd, addr)
				if err != unix.EINTR { //nolint:errorlint
					break
				}
			}
		}

		var deliver error
		if err != nil {
			if fd >= 0 {
				unix.Close(fd)
			}
			deliver = newError("pipe.connect", classifyErrno(err), err)
		} else {
			pi.mu.Lock()
			pi.connFD = fd
			pi.file = os.NewFile(uintptr(fd), name)
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
	ifd := int(fd)
	if err := darwinOpenCheck(ifd); err != nil {
		return newError("pipe.open", classifyErrno(err), err)
	}
	pi.mu.Lock()
	pi.connFD = ifd
	pi.file = os.NewFile(fd, "pipe")
	pi.mu.Unlock()
	return nil
}

// darwinOpenCheck handles a Darwin-specific quirk: some Darwin kernels
// misreport a connected AF_UNIX socket's fstat kind, so a cheap
// select-based probe is done before trusting the descriptor. It is a
// no-op on every other GOOS.
func darwinOpenCheck(fd int) error {
	if runtime.GOOS != "darwin" {
		return nil
	}
	var rfds unix.FdSet
	rfds.Set(fd)
	tv := unix.Timeval{Sec: 0, Usec: 0}
	_, err := unix.Select(fd+1, &rfds, nil, nil, &tv)
	if err != nil && err != unix.EINTR { //nolint:errorlint
		return err
	}
	return nil
}

func linkPipeImpls(read, write *Pipe) error {
	typ := unix.SOCK_STREAM | unix.SOCK_CLOEXEC
	// Only take the SOCK_NONBLOCK fast path when neither end is
	// SpawnSafe: that flag sets O_NONBLOCK on both resulting fds, and
	// a SpawnSafe end must reach the child with blocking I/O intact, so
	// doing the plain socketpair and applying non-blocking mode per-end
	// below is the only correct path when either end is SpawnSafe.
	bothNonSpawnSafe := !read.caps.has(PipeSpawnSafe) && !write.caps.has(PipeSpawnSafe)

	var fds [2]int
	var err error
	if bothNonSpawnSafe {
		fds, err = unix.Socketpair(unix.AF_UNIX, typ|unix.SOCK_NONBLOCK, 0)
		if err != nil {
			// SOCK_NONBLOCK was available at build time but the running
			// kernel rejects it; fall back without requiring a rebuild,
			// and apply non-blocking mode by hand below.
			fds, err = unix.Socketpair(unix.AF_UNIX, typ, 0)
		}
	} else {
		fds, err = unix.Socketpair(unix.AF_UNIX, typ, 0)
	}
	if err != nil {
		return newError("pipe.link", classifyErrno(err), err)
	}

	adopt := func(p *Pipe, fd int) error {
		if !p.caps.has(PipeSpawnSafe) {
			_ = unix.SetNonblock(fd, true)
		}
		p.mu.Lock()
		p.impl.connFD = fd
		p.impl.file = os.NewFile(uintptr(fd), "pipe")
		p.mu.Unlock()
		return nil
	}

	if err := adopt(read, fds[0]); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return err
	}
	if err := adopt(write, fds[1]); err != nil {
		unix.Close(fds[0])
		read.impl.release()
		return err
	}
	return nil
}

func (pi *pipeImpl) read(b []byte) (int, error) {
	pi.mu.Lock()
	f := pi.file
	pi.mu.Unlock()
	if f == nil {
		return 0, newError("pipe.read", EBADF, nil)
	}
	n, err := f.Read(b)
	if err != nil && err != io.EOF { //nolint:errorlint
		return n, newError("pipe.read", classifyErrno(unwrapErrno(err)), err)
	}
	return n, err
}

func (pi *pipeImpl) write(b []byte) (int, error) {
	pi.mu.Lock()
	f := pi.file
	pi.mu.Unlock()
	if f == nil {
		return 0, newError("pipe.write", EBADF, nil)
	}
	n, err := f.Write(b)
	if err != nil {
		return n, newError("pipe.write", classifyErrno(unwrapErrno(err)), err)
	}
	return n, nil
}

func (pi *pipeImpl) stopWatchers() {
	pi.mu.Lock()
	stopCh := pi.stopCh
	pi.mu.Unlock()
	if stopCh != nil {
		pi.closeOnce.Do(func() { close(stopCh) })
	}
}

func (pi *pipeImpl) release() {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.file != nil {
		pi.file.Close()
		pi.file = nil
	}
	if pi.listenFD >= 0 {
		unix.Close(pi.listenFD)
		pi.listenFD = -1
	}
	if pi.accepted >= 0 {
		unix.Close(pi.accepted)
		pi.accepted = -1
	}
	pi.connFD = -1
}

func unlinkPipeName(name string) {
	if err := unix.Unlink(name); err != nil && err != unix.ENOENT { //nolint:errorlint
		_ = err // best-effort cleanup; a failure here doesn't block releasing the fd
	}
}

func unwrapErrno(err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return err
}

func classifyErrno(err error) Code {
	errno := unwrapErrno(err)
	e, ok := errno.(unix.Errno)
	if !ok {
		return EUNKNOWN
	}
	switch e {
	case unix.EINVAL:
		return EINVAL
	case unix.ENOMEM:
		return ENOMEM
	case unix.EACCES:
		return EACCES
	case unix.ENOENT:
		return ENOENT
	case unix.EBADF:
		return EBADF
	case unix.EISDIR:
		return EISDIR
	case unix.ENOTDIR:
		return ENOTDIR
	case unix.ESRCH:
		return ESRCH
	case unix.ENOSYS:
		return ENOSYS
	case unix.ENOTSUP:
		return ENOTSUP
	case unix.EPIPE:
		return EPIPE
	case unix.ECONNRESET:
		return ECONNRESET
	case unix.EAGAIN:
		return EAGAIN
	default:
		return EUNKNOWN
	}
}
