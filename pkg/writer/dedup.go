package writer

// dedupTable maps a blob's content to the absolute offset it was first
// placed at during the layout pass. It is the generalization of the
// teacher's MergedSection.Map: that table deduplicates identical
// section fragments across input object files by content key; this
// one deduplicates identical code/table/stub blobs across methods, for
// the same reason design note §9 gives: keying on content rather than
// buffer identity makes dedup independent of whatever caching the
// compiler facade happens to do.
//
// The layout pass and the write pass each use their own dedupTable
// instances, populated from scratch as each pass walks the same
// dex/class/method traversal in the same order: a write-pass table
// primed with the layout pass's entries would see every blob as a
// repeat and never emit anything (spec.md §4.3).
type dedupTable struct {
	offsets map[string]uint32
}

func newDedupTable() *dedupTable {
	return &dedupTable{offsets: make(map[string]uint32)}
}

func (t *dedupTable) lookup(b []byte) (uint32, bool) {
	off, ok := t.offsets[string(b)]
	return off, ok
}

func (t *dedupTable) insert(b []byte, offset uint32) {
	t.offsets[string(b)] = offset
}
