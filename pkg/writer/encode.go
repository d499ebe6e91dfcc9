package writer

import (
	"encoding/binary"

	"github.com/oatwriter/oatwriter/pkg/oat"
	"github.com/oatwriter/oatwriter/pkg/utils"
)

// encodeUint32s and encodeUint16s turn a mapping/vmap table into the
// little-endian byte form that is both what gets written to the sink
// and what gets hashed into a dedup table key — the table's content
// identity is its wire bytes, not its Go slice representation.
func encodeUint32s(vs []uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

func encodeUint16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

// encodeHeader is the single source of truth for OatHeader's wire
// bytes; both the emitter and (were it ever needed) a checksum of the
// header itself would call this. oat.Header is entirely fixed-size
// fields in declaration order, so it marshals the same way the teacher
// marshals Ehdr/Shdr: straight through encoding/binary, no field-by-
// field packing.
func encodeHeader(h oat.Header) []byte {
	b := make([]byte, oat.HeaderSize)
	utils.Write(b, h)
	return b
}

// encodeDexFileEntry is the wire form of one OatDexFile directory
// record (spec.md §6): u32 location_size, location bytes, u32
// location_checksum, u32 dex_payload_offset, then one u32 per
// methods_table_offsets entry.
func encodeDexFileEntry(e *oat.DexFileEntry) []byte {
	b := make([]byte, e.SizeOf())
	off := 0
	binary.LittleEndian.PutUint32(b[off:], uint32(len(e.Location)))
	off += 4
	copy(b[off:], e.Location)
	off += len(e.Location)
	binary.LittleEndian.PutUint32(b[off:], e.LocationChecksum)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], e.DexPayloadOffset)
	off += 4
	for _, mto := range e.MethodsTableOffsets {
		binary.LittleEndian.PutUint32(b[off:], mto)
		off += 4
	}
	return b
}

// encodeMethodOffsets is the fixed 36-byte wire form of one
// MethodOffsets record: nine uint32 fields in declaration order, also
// marshaled straight through encoding/binary rather than packed by hand.
func encodeMethodOffsets(mo oat.MethodOffsets) []byte {
	b := make([]byte, oat.MethodOffsetsSize)
	utils.Write(b, mo)
	return b
}

// encodeClassEntry is the wire form of one OatClass record: its status
// (int16, per pkg/compiler.ClassStatus's documented width decision)
// followed by its method_offsets array.
func encodeClassEntry(e *oat.ClassEntry) []byte {
	b := make([]byte, e.SizeOf())
	binary.LittleEndian.PutUint16(b[0:2], uint16(e.Status))
	off := 2
	for _, mo := range e.MethodOffsets {
		copy(b[off:], encodeMethodOffsets(mo))
		off += int(oat.MethodOffsetsSize)
	}
	return b
}
