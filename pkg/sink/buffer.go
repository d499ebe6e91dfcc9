package sink

import "fmt"

// BufferSink is an in-memory Sink. It grows on demand the way the
// teacher pre-sizes ctx.Buf and then writes chunks into it at their
// pre-assigned offsets — except BufferSink doesn't know the final size
// up front, so it grows lazily on WriteAll/Seek instead.
type BufferSink struct {
	buf []byte
	pos int64
	loc string
}

func NewBufferSink(location string) *BufferSink {
	return &BufferSink{loc: location}
}

func (s *BufferSink) growTo(n int64) {
	if int64(len(s.buf)) >= n {
		return
	}
	grown := make([]byte, n)
	copy(grown, s.buf)
	s.buf = grown
}

func (s *BufferSink) WriteAll(b []byte) error {
	end := s.pos + int64(len(b))
	s.growTo(end)
	copy(s.buf[s.pos:end], b)
	s.pos = end
	return nil
}

func (s *BufferSink) Seek(offset int64, whence Whence) (int64, error) {
	var target int64
	switch whence {
	case SeekSet:
		target = offset
	case SeekCurrent:
		target = s.pos + offset
	default:
		return 0, fmt.Errorf("sink: unknown whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("sink: negative seek target %d", target)
	}
	// Unlike os.File, a forward seek here commits to the sink being at
	// least this long: the writer relies on that to produce a
	// correctly-sized output even when the tail is an alignment gap
	// past a deduped blob that is never itself written.
	s.growTo(target)
	s.pos = target
	return s.pos, nil
}

func (s *BufferSink) Location() string {
	return s.loc
}

// Bytes returns the sink's current contents. The caller must not
// mutate the returned slice's length-visible region while the writer
// is still running.
func (s *BufferSink) Bytes() []byte {
	return s.buf
}
