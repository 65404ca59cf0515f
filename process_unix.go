//go:build !windows
// +build !windows

package ioloop

import (
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// processImpl holds nothing platform-specific beyond the PID itself
// (stored on Process): POSIX exit notification is entirely driven by the
// loop-owned SIGCHLD reaper below.
type processImpl struct{}

// spawnPlatform spawns the child. Fork/exec mechanics are delegated to
// syscall.ForkExec, which already implements the standard technique by
// hand (block signals, fork — vfork+CLONE_VM on Linux, plain fork
// elsewhere — dup2 the stdio plan, optionally chdir/setsid/setuid/setgid,
// exec, and report an exec(2) failure back to the parent through a
// CLOEXEC pipe read to completion before returning). Re-deriving that in
// Go would mean calling a raw fork() from a goroutine-scheduled,
// multi-threaded runtime, which is unsupported and unsafe: any other
// goroutine holding a runtime or libc lock at fork time would deadlock
// the child.
//
// ForkExec's own error detection is synchronous, so the call is run on a
// background goroutine and its outcome is always delivered through
// ExitCallback, never synchronously from Spawn.
func spawnPlatform(loop *Loop, p *Process, opts ProcessOptions) {
	ensureSigchldWatcher(loop)

	files, cleanup, err := buildStdioUnix(loop, opts.Stdio)
	if err != nil {
		p.scheduleExit(loop, 127, 0)
		return
	}

	env := opts.Env
	if env == nil {
		env = os.Environ()
	}

	sys := &syscall.SysProcAttr{}
	if opts.Flags.has(ProcessDetached) {
		sys.Setsid = true
	}
	if opts.Flags.has(ProcessSetUID) || opts.Flags.has(ProcessSetGID) {
		sys.Credential = &syscall.Credential{
			Uid: uint32(opts.UID),
			Gid: uint32(opts.GID),
		}
	}

	args := opts.Args
	if len(args) == 0 {
		args = []string{opts.File}
	}

	attr := &syscall.ProcAttr{
		Dir:   opts.Cwd,
		Env:   env,
		Files: files,
		Sys:   sys,
	}

	go func() {
		defer cleanup()

		// Resolve against PATH the way execvp would; if resolution
		// fails, spawn the literal name anyway so exec(2) produces the
		// native ENOENT and the usual 127 delivery path.
		file := opts.File
		if resolved, lerr := exec.LookPath(opts.File); lerr == nil {
			file = resolved
		}

		pid, ferr := syscall.ForkExec(file, args, attr)
		if ferr != nil {
			loop.Log.WithError(ferr).WithField("file", opts.File).
				Warn("ioloop: spawn failed")
			p.scheduleExit(loop, 127, 0)
			return
		}

		p.mu.Lock()
		p.pid = pid
		p.mu.Unlock()
		loop.pidRegister(p)
		// The child may have exited, and its SIGCHLD been handled, before
		// it was registered; reap once more so that exit is not missed.
		reapAll(loop)
	}()
}

func (processImpl) kill(p *Process, sig int) error {
	pid := p.PID()
	if pid == 0 {
		return newError("process.Kill", ESRCH, nil)
	}
	if sig == 0 {
		if err := unix.Kill(pid, 0); err != nil {
			return newError("process.Kill", classifyErrno(err), err)
		}
		return nil
	}
	if err := unix.Kill(pid, unix.Signal(sig)); err != nil {
		return newError("process.Kill", classifyErrno(err), err)
	}
	return nil
}

func (processImpl) stopWatchers(p *Process) {
	releaseSigchldWatcher(p.Loop())
}

func (processImpl) release(p *Process) {
	// Nothing to release: the OS reclaims the zombie's resources once
	// waitpid has reaped it, which the SIGCHLD reaper already did by the
	// time ExitCallback fired.
}

// --- SIGCHLD reaper: a loop-owned, refcounted singleton. ---

var sigchldMu sync.Mutex

func ensureSigchldWatcher(loop *Loop) {
	sigchldMu.Lock()
	defer sigchldMu.Unlock()
	loop.sigchldRefs++
	if loop.sigchldRefs > 1 {
		return
	}

	ch := make(chan os.Signal, 16)
	signal.Notify(ch, unix.SIGCHLD)
	stopped := make(chan struct{})
	loop.sigchldStop = func() {
		signal.Stop(ch)
		close(stopped)
	}

	go func() {
		for {
			select {
			case <-stopped:
				return
			case <-ch:
				reapAll(loop)
			}
		}
	}()
}

func releaseSigchldWatcher(loop *Loop) {
	sigchldMu.Lock()
	defer sigchldMu.Unlock()
	loop.sigchldRefs--
	if loop.sigchldRefs <= 0 && loop.sigchldStop != nil {
		loop.sigchldStop()
		loop.sigchldStop = nil
		loop.sigchldRefs = 0
	}
}

// reapAll drains every queue: SIGCHLD may coalesce multiple exits into
// one signal, so every registered PID is checked, not just one.
func reapAll(loop *Loop) {
	for _, p := range loop.pidSnapshot() {
		pid := p.PID()
		for {
			var status unix.WaitStatus
			wpid, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
			if err == unix.EINTR { //nolint:errorlint
				continue
			}
			if err == unix.ECHILD { //nolint:errorlint
				break
			}
			if err != nil {
				panic("ioloop: unexpected waitpid failure: " + err.Error())
			}
			if wpid == 0 {
				break // still running
			}
			loop.pidVacate(pid)
			exitCode, termSignal := decodeStatus(status)
			p.scheduleExit(loop, exitCode, termSignal)
			break
		}
	}
}

func decodeStatus(status unix.WaitStatus) (exitCode, termSignal int) {
	if status.Signaled() {
		return 0, int(status.Signal())
	}
	return status.ExitStatus(), 0
}
