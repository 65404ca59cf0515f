//go:build windows
// +build windows

package ioloop

import (
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/windows"

	"github.com/ioloop-go/ioloop/internal/crtstdio"
)

const nullDeviceName = "NUL"

// buildStdioWindows wires Windows child stdio: an inheritable handle per
// slot 0..2 for STARTUPINFO's StdInput/Output/Error, plus the full
// crtstdio.Build buffer covering every slot for child CRT runtimes that
// read fds beyond 2 through lpReserved2. Pipe slots are backed by a
// directly owned CreateNamedPipe server instance rather than routed
// through go-winio, because go-winio's listener is built for the
// parent's own overlapped I/O and its connections don't expose a raw
// duplicable handle for CreateProcess to inherit.
func buildStdioWindows(loop *Loop, entries []StdioEntry) (stdHandles [3]windows.Handle, crtBuf []byte, cleanup func(), err error) {
	n := stdioCount(entries)
	slots := make([]crtstdio.Slot, n)
	var toClose []windows.Handle

	cleanup = func() {
		for _, h := range toClose {
			windows.CloseHandle(h)
		}
	}

	inheritSA := &windows.SecurityAttributes{
		Length:        uint32(unsafe.Sizeof(windows.SecurityAttributes{})),
		InheritHandle: 1,
	}

	for i := 0; i < n; i++ {
		e := stdioEntryAt(entries, i)
		var h windows.Handle
		var flags crtstdio.Flag = crtstdio.FOPEN

		switch e.Flags {
		case StdioIgnore:
			if i >= 3 {
				h = windows.Handle(crtstdio.InvalidHandle)
				flags = 0
				break
			}
			name, nerr := windows.UTF16PtrFromString(nullDeviceName)
			if nerr != nil {
				cleanup()
				return stdHandles, nil, nil, newError("stdio.ignore", EINVAL, nerr)
			}
			hh, cerr := windows.CreateFile(name, windows.GENERIC_READ|windows.GENERIC_WRITE, windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE, inheritSA, windows.OPEN_EXISTING, 0, 0)
			if cerr != nil {
				cleanup()
				return stdHandles, nil, nil, newError("stdio.ignore", classifyWinErr(cerr), cerr)
			}
			h = hh
			flags |= crtstdio.FDEV
			toClose = append(toClose, h)

		case StdioCreatePipe:
			if e.Pipe == nil {
				cleanup()
				return stdHandles, nil, nil, newError("stdio.createPipe", EINVAL, nil)
			}
			name := `\\.\pipe\ioloop-stdio-` + uuid.NewString()
			serverHandle, childHandle, perr := createStdioPipePair(name, inheritSA)
			if perr != nil {
				cleanup()
				return stdHandles, nil, nil, perr
			}
			if oerr := e.Pipe.Open(uintptr(serverHandle)); oerr != nil {
				windows.CloseHandle(serverHandle)
				windows.CloseHandle(childHandle)
				cleanup()
				return stdHandles, nil, nil, oerr
			}
			h = childHandle
			flags |= crtstdio.FPIPE
			toClose = append(toClose, h)

		case StdioInheritFD:
			dup, derr := duplicateInheritable(windows.Handle(e.FD))
			if derr != nil {
				cleanup()
				return stdHandles, nil, nil, derr
			}
			h = dup
			toClose = append(toClose, h)

		case StdioInheritStream:
			if e.Stream == nil {
				cleanup()
				return stdHandles, nil, nil, newError("stdio.inheritStream", EINVAL, nil)
			}
			dup, derr := duplicateInheritable(windows.Handle(e.Stream.Fd()))
			if derr != nil {
				cleanup()
				return stdHandles, nil, nil, derr
			}
			h = dup
			toClose = append(toClose, h)

		default:
			cleanup()
			return stdHandles, nil, nil, newError("stdio.build", EINVAL, nil)
		}

		slots[i] = crtstdio.Slot{Flags: flags, Handle: uintptr(h)}
		if i < 3 {
			stdHandles[i] = h
		}
	}

	crtBuf = crtstdio.Build(slots, 8)
	return stdHandles, crtBuf, cleanup, nil
}

// createStdioPipePair creates the parent-owned named pipe server
// instance and the child's synchronous client handle to it: a
// parent-creates/child-opens pairing for CREATE_PIPE stdio slots on
// Windows.
func createStdioPipePair(name string, childSA *windows.SecurityAttributes) (server, child windows.Handle, err error) {
	namePtr, nerr := windows.UTF16PtrFromString(name)
	if nerr != nil {
		return 0, 0, newError("stdio.createPipe", EINVAL, nerr)
	}

	const pipeAccessDuplex = 0x00000003
	const pipeTypeByte = 0x00000000
	const pipeWait = 0x00000000

	server, err = windows.CreateNamedPipe(namePtr, pipeAccessDuplex, pipeTypeByte|pipeWait, 1, 65536, 65536, 0, nil)
	if err != nil {
		return 0, 0, newError("stdio.createPipe", classifyWinErr(err), err)
	}

	child, err = windows.CreateFile(namePtr, windows.GENERIC_READ|windows.GENERIC_WRITE, 0, childSA, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		windows.CloseHandle(server)
		return 0, 0, newError("stdio.createPipe", classifyWinErr(err), err)
	}
	return server, child, nil
}

func duplicateInheritable(h windows.Handle) (windows.Handle, error) {
	self, err := windows.GetCurrentProcess()
	if err != nil {
		return 0, newError("stdio.inherit", classifyWinErr(err), err)
	}
	var dup windows.Handle
	const duplicateSameAccess = 0x00000002
	if err := windows.DuplicateHandle(self, h, self, &dup, 0, true, duplicateSameAccess); err != nil {
		return 0, newError("stdio.inherit", classifyWinErr(err), err)
	}
	return dup, nil
}

