package ioloop

import (
	"sync"
	"testing"
	"time"
)

func TestLoopPostRunsOnRunGoroutine(t *testing.T) {
	loop := NewLoop()
	done := make(chan struct{})
	go loop.Run()

	var ran bool
	var mu sync.Mutex
	loop.post(func() {
		mu.Lock()
		ran = true
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("post callback never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Fatal("expected callback to have run")
	}
	loop.Close()
}

func TestLoopPidTable(t *testing.T) {
	loop := NewLoop()
	p := &Process{pid: 4242}

	loop.pidRegister(p)
	got, ok := loop.pidLookup(4242)
	if !ok || got != p {
		t.Fatalf("pidLookup(4242) = (%v, %v), want (%v, true)", got, ok, p)
	}

	snap := loop.pidSnapshot()
	if len(snap) != 1 || snap[0] != p {
		t.Fatalf("pidSnapshot() = %v, want [%v]", snap, p)
	}

	loop.pidVacate(4242)
	if _, ok := loop.pidLookup(4242); ok {
		t.Fatalf("expected pid to be vacated")
	}
}

func TestLoopClosePreventsFurtherPosts(t *testing.T) {
	loop := NewLoop()
	loop.Close()

	ran := make(chan struct{}, 1)
	loop.post(func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("post after Close should not run its callback")
	case <-time.After(50 * time.Millisecond):
	}
}
