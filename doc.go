// Package ioloop implements the core asynchronous I/O primitives shared by
// every platform backend of a libuv-style event loop: child-process
// lifecycle management and local stream pipes used for IPC and child
// stdio. It does not implement the reactor itself (poll/kqueue/IOCP) —
// callers provide a Loop, and ioloop drives Pipe and Process handles
// against it using goroutines and channels as the completion-post
// substrate, standing in for a native poll loop's thread pool and
// completion port.
package ioloop
