//go:build !windows
// +build !windows

package ioloop

import (
	"os"

	"golang.org/x/sys/unix"
)

// stdioClosedFD is the sentinel syscall.ProcAttr.Files recognises to
// mean "close this child descriptor", per the standard library's
// fork/exec implementation. Using it leaves slots beyond the caller's
// entries closed in the child without any dup2 bookkeeping of our own.
const stdioClosedFD = ^uintptr(0) // passed through as -1

// buildStdioUnix builds the stdio wiring for one spawn: it returns
// the parent-side fds to hand to syscall.ProcAttr.Files (indexed 0..N-1,
// the child's eventual fd numbers) and a cleanup func that closes
// whatever parent-only resources this build allocated (the child ends of
// CREATE_PIPE slots, and temporary /dev/null fds) once spawn has
// happened.
func buildStdioUnix(loop *Loop, entries []StdioEntry) (files []uintptr, cleanup func(), err error) {
	n := stdioCount(entries)
	files = make([]uintptr, n)
	var toClose []*os.File

	cleanup = func() {
		for _, f := range toClose {
			f.Close()
		}
	}

	for i := 0; i < n; i++ {
		e := stdioEntryAt(entries, i)
		switch e.Flags {
		case StdioIgnore:
			if i >= 3 {
				files[i] = stdioClosedFD
				continue
			}
			flag := os.O_WRONLY
			if i == 0 {
				flag = os.O_RDONLY
			}
			f, oerr := os.OpenFile(os.DevNull, flag, 0)
			if oerr != nil {
				cleanup()
				return nil, nil, newError("stdio.ignore", classifyErrno(oerr), oerr)
			}
			toClose = append(toClose, f)
			files[i] = f.Fd()

		case StdioCreatePipe:
			parentEnd := e.Pipe
			if parentEnd == nil {
				cleanup()
				return nil, nil, newError("stdio.createPipe", EINVAL, nil)
			}
			// The child end needs the opposite direction(s) of
			// whatever the parent end was declared to use.
			childCaps := PipeCaps(0)
			if e.Mode&StdioWritable != 0 {
				childCaps |= PipeReadable
			}
			if e.Mode&StdioReadable != 0 {
				childCaps |= PipeWritable
			}
			childEnd := InitPipe(loop, childCaps|PipeSpawnSafe)
			if err := LinkPipes(loop, swapForDirection(parentEnd, childEnd, e.Mode)); err != nil {
				cleanup()
				return nil, nil, err
			}
			files[i] = childEnd.Fd()
			toClose = append(toClose, childEnd.impl.file)

		case StdioInheritFD:
			dupFD, derr := unix.FcntlInt(e.FD, unix.F_DUPFD_CLOEXEC, 0)
			if derr != nil {
				cleanup()
				return nil, nil, newError("stdio.inheritFD", classifyErrno(derr), derr)
			}
			f := os.NewFile(uintptr(dupFD), "inherited")
			toClose = append(toClose, f)
			files[i] = f.Fd()

		case StdioInheritStream:
			if e.Stream == nil {
				cleanup()
				return nil, nil, newError("stdio.inheritStream", EINVAL, nil)
			}
			dupFD, derr := unix.FcntlInt(int(e.Stream.Fd()), unix.F_DUPFD_CLOEXEC, 0)
			if derr != nil {
				cleanup()
				return nil, nil, newError("stdio.inheritStream", classifyErrno(derr), derr)
			}
			f := os.NewFile(uintptr(dupFD), "inherited")
			toClose = append(toClose, f)
			files[i] = f.Fd()

		default:
			cleanup()
			return nil, nil, newError("stdio.build", EINVAL, nil)
		}
	}
	return files, cleanup, nil
}

// swapForDirection decides which of the linked pair is the readable end
// and which is writable so that LinkPipes's (read, write) contract is
// satisfied regardless of which direction the caller's parent pipe plays.
func swapForDirection(parent, child *Pipe, mode StdioMode) (read, write *Pipe) {
	if mode&StdioWritable != 0 && mode&StdioReadable == 0 {
		// Parent writes, child reads.
		return child, parent
	}
	// Default: parent reads, child writes (covers the readable-only and
	// bidirectional cases — bidirectional pipes still need one physical
	// direction assignment per linked pair half).
	return parent, child
}
