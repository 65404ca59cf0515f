//go:build !windows
// +build !windows

package ioloop

import (
	"testing"
	"time"
)

type exitResult struct{ code, sig int }

func waitExit(t *testing.T, ch chan exitResult) (int, int) {
	t.Helper()
	select {
	case r := <-ch:
		return r.code, r.sig
	case <-time.After(3 * time.Second):
		t.Fatal("process never exited")
		return 0, 0
	}
}

func TestSpawnEchoExitsZero(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Close()

	exited := make(chan exitResult, 1)
	p, err := Spawn(loop, ProcessOptions{
		File: "/bin/echo",
		Args: []string{"echo", "hello"},
		ExitCB: func(p *Process, exitCode, termSignal int) {
			exited <- exitResult{exitCode, termSignal}
		},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	code, sig := waitExit(t, exited)
	if code != 0 || sig != 0 {
		t.Fatalf("exit = (%d, %d), want (0, 0)", code, sig)
	}
	if p.PID() == 0 {
		t.Fatal("expected a nonzero PID for a successful spawn")
	}
}

func TestSpawnNonexistentProgramReports127(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Close()

	exited := make(chan exitResult, 1)
	_, err := Spawn(loop, ProcessOptions{
		File: "/no/such/program-ioloop-test",
		ExitCB: func(p *Process, exitCode, termSignal int) {
			exited <- exitResult{exitCode, termSignal}
		},
	})
	if err != nil {
		t.Fatalf("Spawn should return a usable handle synchronously, got err: %v", err)
	}
	code, _ := waitExit(t, exited)
	if code != 127 {
		t.Fatalf("exit code = %d, want 127", code)
	}
}

func TestSpawnCatEchoesStdin(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Close()

	stdin := InitPipe(loop, PipeWritable)
	stdout := InitPipe(loop, PipeReadable)

	exited := make(chan exitResult, 1)
	_, err := Spawn(loop, ProcessOptions{
		File: "/bin/cat",
		Args: []string{"cat"},
		Stdio: []StdioEntry{
			{Flags: StdioCreatePipe, Mode: StdioWritable, Pipe: stdin},
			{Flags: StdioCreatePipe, Mode: StdioReadable, Pipe: stdout},
			{Flags: StdioIgnore},
		},
		ExitCB: func(p *Process, exitCode, termSignal int) {
			exited <- exitResult{exitCode, termSignal}
		},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if _, err := stdin.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, len("hello\n"))
	off := 0
	for off < len(buf) {
		n, err := stdout.Read(buf[off:])
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		off += n
	}
	if string(buf) != "hello\n" {
		t.Fatalf("got %q, want %q", buf, "hello\n")
	}

	stdin.Close(nil)

	code, _ := waitExit(t, exited)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestProcessKill(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Close()

	exited := make(chan exitResult, 1)
	p, err := Spawn(loop, ProcessOptions{
		File: "/bin/sleep",
		Args: []string{"sleep", "30"},
		ExitCB: func(p *Process, exitCode, termSignal int) {
			exited <- exitResult{exitCode, termSignal}
		},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	// Give the child a moment to actually reach exec before signalling it.
	time.Sleep(100 * time.Millisecond)
	if err := p.Kill(9); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	_, sig := waitExit(t, exited)
	if sig != 9 {
		t.Fatalf("termSignal = %d, want 9", sig)
	}
}
