package ioloop

// StdioFlag selects how one child stdio slot is wired.
type StdioFlag int

const (
	// StdioIgnore closes the slot for index >= 3, or wires it to
	// /dev/null (POSIX) / NUL (Windows) for index 0..2.
	StdioIgnore StdioFlag = iota
	// StdioCreatePipe allocates a connected pair; the parent end is
	// handed to StdioEntry.Pipe, the child keeps the inheritable end.
	StdioCreatePipe
	// StdioInheritFD duplicates StdioEntry.FD inheritably for the child.
	StdioInheritFD
	// StdioInheritStream extracts the OS handle from StdioEntry.Stream
	// (a live TTY or connected named-pipe stream) and duplicates it
	// inheritably.
	StdioInheritStream
)

// StdioReadable and StdioWritable compose with StdioCreatePipe to pick
// which direction(s) the parent end of the pipe supports, mirroring
// Pipe's own capability flags.
type StdioMode int

const (
	StdioReadable StdioMode = 1 << iota
	StdioWritable
)

// StdioEntry describes one child descriptor slot.
type StdioEntry struct {
	Flags StdioFlag
	Mode  StdioMode // only meaningful with StdioCreatePipe

	// Pipe receives the parent end of a StdioCreatePipe slot. The caller
	// supplies a *Pipe created with InitPipe and not yet bound/connected;
	// Spawn completes it in place.
	Pipe *Pipe

	// FD is the descriptor to duplicate for StdioInheritFD.
	FD uintptr

	// Stream is the object to extract a handle from for
	// StdioInheritStream.
	Stream interface{ Fd() uintptr }
}

// stdioCount returns max(len(entries), 3) so fds/handles 0..2 always
// get a slot even if the caller supplied fewer.
func stdioCount(entries []StdioEntry) int {
	if len(entries) < 3 {
		return 3
	}
	return len(entries)
}

func stdioEntryAt(entries []StdioEntry, i int) StdioEntry {
	if i < len(entries) {
		return entries[i]
	}
	return StdioEntry{Flags: StdioIgnore}
}
