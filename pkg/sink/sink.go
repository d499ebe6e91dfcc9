// Package sink defines the positioned, seekable output abstraction the
// writer emits bytes into (spec.md §6). The writer never assumes an
// *os.File — only that whatever it's given can report where a forward
// seek landed.
package sink

// Whence mirrors io.Seeker's constants without importing io, since the
// writer only ever needs "from the start" and "from here".
type Whence int

const (
	SeekSet Whence = iota
	SeekCurrent
)

// Sink is the output target the emitter writes into. Forward seeks
// past the current end of output must succeed; the bytes in the gap
// are unspecified (the file is later memory-mapped, so the gap is read
// but never executed).
type Sink interface {
	WriteAll(b []byte) error
	Seek(offset int64, whence Whence) (int64, error)
	// Location names the sink for diagnostics (a file path, or
	// similar), never parsed.
	Location() string
}
