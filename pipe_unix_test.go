//go:build !windows
// +build !windows

package ioloop

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLinkPipesReadWrite(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Close()

	read := InitPipe(loop, PipeReadable)
	write := InitPipe(loop, PipeWritable)
	if err := LinkPipes(loop, read, write); err != nil {
		t.Fatalf("LinkPipes: %v", err)
	}

	payload := make([]byte, 1<<20) // 1MiB, per the large-transfer scenario
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		_, err := write.Write(payload)
		done <- err
	}()

	got := make([]byte, len(payload))
	off := 0
	for off < len(got) {
		n, err := read.Read(got[off:])
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		off += n
	}
	if err := <-done; err != nil {
		t.Fatalf("Write: %v", err)
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("content mismatch at byte %d", i)
		}
	}
}

func TestLinkPipesRejectsMismatchedLoop(t *testing.T) {
	a := NewLoop()
	b := NewLoop()
	read := InitPipe(a, PipeReadable)
	write := InitPipe(b, PipeWritable)
	if err := LinkPipes(a, read, write); err == nil {
		t.Fatal("expected an error linking pipes across different loops")
	}
}

func TestLinkPipesRejectsDoubleIPC(t *testing.T) {
	loop := NewLoop()
	read := InitPipe(loop, PipeReadable|PipeIPC)
	write := InitPipe(loop, PipeWritable|PipeIPC)
	if err := LinkPipes(loop, read, write); err == nil {
		t.Fatal("expected an error linking two IPC-capable endpoints")
	}
}

func TestPipeBindListenAcceptConnect(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Close()

	sockPath := filepath.Join(t.TempDir(), "ioloop-test.sock")
	server := InitPipe(loop, PipeReadable|PipeWritable)
	if err := server.Bind(sockPath); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := server.Bind(sockPath); err == nil {
		t.Fatal("expected a second Bind on the same pipe to fail")
	}

	accepted := make(chan *Pipe, 1)
	connErr := make(chan error, 1)
	if err := server.Listen(4, func(p *Pipe, err error) {
		if err != nil {
			connErr <- err
			return
		}
		client := InitPipe(loop, PipeReadable|PipeWritable)
		if aerr := p.Accept(client); aerr != nil {
			connErr <- aerr
			return
		}
		accepted <- client
	}); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := InitPipe(loop, PipeReadable|PipeWritable)
	connectDone := make(chan error, 1)
	client.Connect(sockPath, func(err error) { connectDone <- err })

	select {
	case err := <-connectDone:
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect callback never fired")
	}

	select {
	case err := <-connErr:
		t.Fatalf("accept failed: %v", err)
	case serverSide := <-accepted:
		msg := []byte("ping")
		if _, err := client.Write(msg); err != nil {
			t.Fatalf("Write: %v", err)
		}
		buf := make([]byte, len(msg))
		if _, err := serverSide.Read(buf); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if string(buf) != "ping" {
			t.Fatalf("got %q, want %q", buf, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection callback never fired")
	}
}

func TestPipeConnectToNonexistentNameFails(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Close()

	client := InitPipe(loop, PipeReadable|PipeWritable)
	done := make(chan error, 1)
	client.Connect(filepath.Join(t.TempDir(), "nope.sock"), func(err error) { done <- err })

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Connect to a nonexistent name to fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect callback never fired")
	}
}
