package writer

import "hash/crc32"

// checksum is the running CRC described in spec.md §4.4: it folds in
// bytes in the exact order the layout pass first places them, and is
// never touched again once the layout pass completes. It is the OAT
// analog of a build-as-you-go accumulator; the teacher has nothing
// exactly like it (ELF carries no whole-file checksum) so this is
// built from hash/crc32 directly, following design note §9's
// insistence that dedup (and, by the same logic, the checksum) work
// off content rather than identity.
type checksum struct {
	sum uint32
}

func newChecksum() *checksum {
	return &checksum{}
}

func (c *checksum) update(b []byte) {
	if len(b) == 0 {
		return
	}
	c.sum = crc32.Update(c.sum, crc32.IEEETable, b)
}

