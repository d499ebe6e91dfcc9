// Package oat is the on-file object model of an OAT file: the fixed
// header, the per-dex directory entries, the per-class method tables,
// and the per-method offset record. These are pure data types with
// wire-format sizes; the layout/write engine in pkg/writer is what
// populates and serializes them.
//
// The split mirrors the teacher's elf.go: Ehdr/Shdr/Phdr there are
// exactly this — fixed-layout structs with no behavior beyond their
// own field accessors.
package oat

import "unsafe"

// Magic is the four-byte tag every OAT file starts with (own domain,
// distinct from dex.Magic).
var Magic = [4]byte{'o', 'a', 't', '\n'}

// Version is this writer's on-file format version tag.
const Version = uint32(1)

const PageSize = 4096

// Header is the fixed-size prefix of an OAT file. The image-location
// string (ImageLocationLen bytes) immediately follows it in the file
// but is not part of this struct, since it's variable-length.
type Header struct {
	Magic                        [4]byte
	Version                      uint32
	InstructionSet               uint32
	DexFileCount                 uint32
	ExecutableOffset             uint32
	ImageFileLocationOatChecksum uint32
	ImageFileLocationOatBegin    uint32
	Checksum                     uint32
	ImageLocationLen             uint32
}

const HeaderSize = uint32(unsafe.Sizeof(Header{}))

// DexFileEntry is one OatDexFile directory record: a dex's location
// string, its location checksum, the absolute offset of its raw
// payload in the OAT file, and one absolute offset per class_def
// pointing at that class's ClassEntry.
//
// Wire layout (little-endian): u32 location_size, location bytes,
// u32 location_checksum, u32 dex_payload_offset,
// u32 methods_table_offsets[class_def_count].
type DexFileEntry struct {
	Location            string
	LocationChecksum    uint32
	DexPayloadOffset    uint32
	MethodsTableOffsets []uint32
}

// SizeOf is this entry's serialized size in bytes.
func (e *DexFileEntry) SizeOf() uint64 {
	return 4 + uint64(len(e.Location)) + 4 + 4 + 4*uint64(len(e.MethodsTableOffsets))
}

// MethodOffsets is one method's absolute offsets within the OAT file.
// All offsets are zero for blobs that don't exist for this method
// (abstract methods, empty tables).
type MethodOffsets struct {
	CodeOffset         uint32
	FrameSize          uint32
	CoreSpillMask      uint32
	FpSpillMask        uint32
	MappingTableOffset uint32
	VmapTableOffset    uint32
	GCMapOffset        uint32
	InvokeStubOffset   uint32
	ProxyStubOffset    uint32
}

const MethodOffsetsSize = uint64(unsafe.Sizeof(MethodOffsets{}))

// ClassEntry is one OatClass record: the class's status plus one
// MethodOffsets per method in direct-then-virtual declaration order.
// A class with no class_data_item still gets an entry with zero
// methods (spec.md L2, empty-class invariance).
type ClassEntry struct {
	Status        int16
	MethodOffsets []MethodOffsets
}

// SizeOf is this entry's serialized size in bytes.
func (c *ClassEntry) SizeOf() uint64 {
	return 2 + MethodOffsetsSize*uint64(len(c.MethodOffsets))
}
