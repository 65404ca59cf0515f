package ioloop

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Loop is the narrow reactor abstraction this core consumes: handle
// registration, a completion-post primitive, and (on POSIX) a
// signal-watcher primitive. It does not poll file descriptors itself —
// Pipe and Process back their blocking operations with goroutines that
// post completions here, and Run drains them on a single goroutine so
// that all user callbacks observe a single-threaded, cooperative
// execution model.
type Loop struct {
	Log *logrus.Logger

	mu      sync.Mutex
	handles map[*Handle]struct{}
	closed  bool

	completions chan func()
	stop        chan struct{}
	wg          sync.WaitGroup

	// pidTable is the per-loop PID-hashed process registry consulted by
	// the SIGCHLD reaper to map an exited PID back to its Process.
	pidMu    sync.Mutex
	pidTable map[int]*Process

	// sigchldRefs counts outstanding Process handles on POSIX so the
	// SIGCHLD watcher goroutine can be a loop-owned singleton, started
	// on first spawn and torn down after the last handle closes.
	sigchldRefs int
	sigchldStop func()
}

// NewLoop creates an idle loop. Run must be called to start draining
// completions and invoking callbacks.
func NewLoop() *Loop {
	l := &Loop{
		Log:         logrus.New(),
		handles:     make(map[*Handle]struct{}),
		completions: make(chan func(), 64),
		stop:        make(chan struct{}),
		pidTable:    make(map[int]*Process),
	}
	return l
}

// Run drains posted completions on the calling goroutine, invoking each
// one's callback, until Close is called and all in-flight completions
// have drained. This is the loop's single thread of callback execution.
func (l *Loop) Run() {
	for {
		select {
		case fn, ok := <-l.completions:
			if !ok {
				return
			}
			fn()
		case <-l.stop:
			// Drain whatever is already queued before exiting so that
			// close callbacks for handles already in endgame still fire.
			for {
				select {
				case fn := <-l.completions:
					fn()
				default:
					return
				}
			}
		}
	}
}

// post is the completion-post primitive: any goroutine may call it to
// schedule fn to run on the loop's Run goroutine. It never runs fn
// synchronously — callers must be able to rely on asynchronous delivery.
func (l *Loop) post(fn func()) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	select {
	case l.completions <- fn:
	case <-l.stop:
	}
}

func (l *Loop) register(h *Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handles[h] = struct{}{}
}

func (l *Loop) unregister(h *Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handles, h)
}

// endgame is the loop phase in which a closing handle's OS resources
// are released and its close callback invoked. release runs
// on the loop goroutine, same as any other completion, so it may safely
// touch handle state one last time before finishClose fires the user
// callback.
func (l *Loop) endgame(h *Handle, release func()) {
	l.post(func() {
		if release != nil {
			release()
		}
		h.finishClose()
		l.unregister(h)
	})
}

// Close stops Run and prevents further completions from being posted.
// Any handles still open are the caller's responsibility to close first;
// Close does not force-close them.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	close(l.stop)
}

func (l *Loop) pidRegister(p *Process) {
	l.pidMu.Lock()
	defer l.pidMu.Unlock()
	l.pidTable[p.pid] = p
}

func (l *Loop) pidLookup(pid int) (*Process, bool) {
	l.pidMu.Lock()
	defer l.pidMu.Unlock()
	p, ok := l.pidTable[pid]
	return p, ok
}

func (l *Loop) pidVacate(pid int) {
	l.pidMu.Lock()
	defer l.pidMu.Unlock()
	delete(l.pidTable, pid)
}

func (l *Loop) pidSnapshot() []*Process {
	l.pidMu.Lock()
	defer l.pidMu.Unlock()
	out := make([]*Process, 0, len(l.pidTable))
	for _, p := range l.pidTable {
		out = append(out, p)
	}
	return out
}
