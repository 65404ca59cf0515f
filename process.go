package ioloop

import "sync"

// ProcessFlag selects optional spawn behaviour.
type ProcessFlag uint32

const (
	ProcessDetached ProcessFlag = 1 << iota
	ProcessSetUID               // POSIX only
	ProcessSetGID               // POSIX only
	ProcessWindowsHide
	ProcessWindowsVerbatimArguments
	ProcessResetSigpipe
)

func (f ProcessFlag) has(bit ProcessFlag) bool { return f&bit != 0 }

// ExitCallback is invoked exactly once per successful spawn, after which
// the handle is stopped. A failed spawn still invokes it exactly once,
// with exitCode 127.
type ExitCallback func(p *Process, exitCode int, termSignal int)

// ProcessOptions describes a child process to spawn.
type ProcessOptions struct {
	File  string
	Args  []string // Args[0] is the conventional argv[0]
	Env   []string // nil means inherit the parent's environment
	Cwd   string   // "" means inherit
	Stdio []StdioEntry
	Flags ProcessFlag
	UID   int
	GID   int

	ExitCB ExitCallback
}

// Process represents a spawned child: spawn, exit notification, kill,
// handle close/teardown.
type Process struct {
	Handle

	mu         sync.Mutex
	pid        int
	exitCB     ExitCallback
	lastStatus int
	lastSignal int
	exited     bool

	impl processImpl
}

// PID returns the child's process id. The child is started on a
// background goroutine, so PID is 0 until that has succeeded (it may
// still be 0 right after Spawn returns), and stays 0 for a failed spawn.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Spawn starts a child process. A failure that can only be detected
// after the child begins executing (bad executable, exec(2) failure,
// CreateProcess failure) is never returned synchronously: Spawn returns
// a usable, addressable handle and delivers the failure through
// ExitCallback with exitCode=127, exactly like a successful spawn that
// later exits. Spawn only returns a synchronous error for malformed
// options that can't meaningfully be deferred.
func Spawn(loop *Loop, opts ProcessOptions) (*Process, error) {
	if opts.File == "" {
		return nil, newError("process.Spawn", EINVAL, nil)
	}
	p := &Process{exitCB: opts.ExitCB}
	p.Handle = newHandle(loop, KindProcess, p)
	loop.register(&p.Handle)
	p.activate()
	spawnPlatform(loop, p, opts)
	return p, nil
}

// scheduleExit is called by the platform backend exactly once, either
// from the SIGCHLD reaper (POSIX) or the per-process wait goroutine
// (Windows), or synchronously-deferred for a spawn that never produced a
// child at all. It always runs through Loop.post so the callback fires
// on the loop's Run goroutine.
func (p *Process) scheduleExit(loop *Loop, exitCode, termSignal int) {
	loop.post(func() {
		p.mu.Lock()
		if p.exited {
			p.mu.Unlock()
			return
		}
		p.exited = true
		p.lastStatus = exitCode
		p.lastSignal = termSignal
		cb := p.exitCB
		p.mu.Unlock()

		p.deactivate()
		if cb != nil {
			cb(p, exitCode, termSignal)
		}
	})
}

// ExitStatus returns the last-observed (exitCode, termSignal) pair, or
// (0, 0, false) if the child hasn't exited yet.
func (p *Process) ExitStatus() (exitCode, termSignal int, exited bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastStatus, p.lastSignal, p.exited
}

// Kill delivers sig to the running child. Signal 0 is a liveness probe:
// OK if running, ESRCH if already exited, carried to Windows for
// symmetry with the platform's native kill(2) semantics.
func (p *Process) Kill(sig int) error {
	return p.impl.kill(p, sig)
}

// Close releases the OS process handle. The handle remains addressable
// after exit until Close is called, so ExitStatus is always retrievable
// up to this point.
func (p *Process) Close(cb CloseCallback) {
	if !p.beginClose(cb) {
		return
	}
	p.impl.stopWatchers(p)
	p.Loop().endgame(&p.Handle, func() {
		p.impl.release(p)
	})
}
