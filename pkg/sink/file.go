package sink

import (
	"io"
	"os"
)

// FileSink is a Sink backed by a single open *os.File, opened once by
// the caller the way rvld.go opens its output file once before
// copying every chunk's bytes into it.
type FileSink struct {
	f    *os.File
	path string
}

func NewFileSink(path string, f *os.File) *FileSink {
	return &FileSink{f: f, path: path}
}

func (s *FileSink) WriteAll(b []byte) error {
	_, err := s.f.Write(b)
	return err
}

func (s *FileSink) Seek(offset int64, whence Whence) (int64, error) {
	var w int
	switch whence {
	case SeekSet:
		w = io.SeekStart
	case SeekCurrent:
		w = io.SeekCurrent
	}
	pos, err := s.f.Seek(offset, w)
	if err != nil {
		return pos, err
	}

	// A plain os.File doesn't grow until something is written at the
	// new position; BufferSink does. Truncate up front so both sinks
	// agree on the output's length even when the seek lands past a
	// deduped blob that nothing ever writes to.
	info, err := s.f.Stat()
	if err != nil {
		return pos, err
	}
	if pos > info.Size() {
		if err := s.f.Truncate(pos); err != nil {
			return pos, err
		}
	}
	return pos, nil
}

func (s *FileSink) Location() string {
	return s.path
}
