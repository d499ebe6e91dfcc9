// Package dex models the input bytecode containers the OAT writer
// aggregates. It does not implement a general dex-file parser (that is
// an external collaborator per the writer's contract) — it only
// decodes the fixed-size header prefix every dex file carries, and
// walks the ULEB128-encoded class-data stream the writer needs to know
// how many methods a class declares and in what order.
package dex

import (
	"bytes"
	"fmt"

	"github.com/oatwriter/oatwriter/pkg/utils"
)

// https://source.android.com/devices/tech/dalvik/dex-format.html#header-item
var Magic = [8]byte{0x64, 0x65, 0x78, 0x0a, 0x30, 0x33, 0x35, 0x00}

const HeaderSize = 112

// Header is the fixed-size prefix of a dex file's contents.
type Header struct {
	Magic         [8]byte
	Checksum      uint32
	Sha1Sig       [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIdsSize uint32
	StringIdsOff  uint32
	TypeIdsSize   uint32
	TypeIdsOff    uint32
	ProtoIdsSize  uint32
	ProtoIdsOff   uint32
	FieldIdsSize  uint32
	FieldIdsOff   uint32
	MethodIdsSize uint32
	MethodIdsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// DecodeHeader reads and validates the fixed-size header prefix of raw
// dex contents. It does not validate anything past the header.
func DecodeHeader(raw []byte) (Header, error) {
	var h Header
	if len(raw) < HeaderSize {
		return h, fmt.Errorf("dex: contents too small for header: %d bytes", len(raw))
	}
	if !bytes.Equal(raw[:8], Magic[:]) {
		return h, fmt.Errorf("dex: bad magic")
	}
	return utils.Read[Header](raw[:HeaderSize]), nil
}

// InvokeType mirrors the invocation kinds a dex method_id can carry.
type InvokeType int

const (
	InvokeStatic InvokeType = iota
	InvokeDirect
	InvokeVirtual
	InvokeInterface
	InvokeSuper
)

// AccessFlags mirrors the subset of dex access_flags this writer cares
// about: whether a method is static, final, native, abstract, or a
// constructor.
type AccessFlags uint32

const (
	AccStatic      AccessFlags = 1 << 3
	AccFinal       AccessFlags = 1 << 4
	AccNative      AccessFlags = 1 << 8
	AccAbstract    AccessFlags = 1 << 10
	AccConstructor AccessFlags = 1 << 16
)

func (f AccessFlags) IsStatic() bool      { return f&AccStatic != 0 }
func (f AccessFlags) IsNative() bool      { return f&AccNative != 0 }
func (f AccessFlags) IsAbstract() bool    { return f&AccAbstract != 0 }
func (f AccessFlags) IsConstructor() bool { return f&AccConstructor != 0 }

// Method is one entry of a class's direct or virtual method list, in
// declaration order.
type Method struct {
	AccessFlags AccessFlags
	Invoke      InvokeType
	MethodIdx   uint32
	Shorty      string
}

// ClassData is the decoded body of a class_data_item: fields then
// direct methods then virtual methods, in that fixed order. A class
// with no class_data_item (an empty marker interface, for instance) is
// represented by a nil *ClassData on its ClassDef.
type ClassData struct {
	NumStaticFields   uint32
	NumInstanceFields uint32
	DirectMethods     []Method
	VirtualMethods    []Method
}

func (c *ClassData) NumMethods() int {
	if c == nil {
		return 0
	}
	return len(c.DirectMethods) + len(c.VirtualMethods)
}

// ClassDef is one class_def_item: its declared data (nil if the class
// has no class_data_item) and its index within the dex file's class
// defs table.
type ClassDef struct {
	Index int
	Data  *ClassData
}

// File is one input dex file: its location (for diagnostics and for
// the OatDexFile directory record), its location checksum, the raw
// bytes that will be copied verbatim into the OAT file's dex payload
// region, and the decoded class definitions in declaration order.
//
// File is constructed by the caller (or by the caller's own dex
// parser) — this package never builds one by scanning an APK or a
// class path; that discovery logic lives outside the writer's scope.
type File struct {
	Location         string
	LocationChecksum uint32
	Raw              []byte
	Header           Header
	ClassDefs        []ClassDef

	methodShorty map[uint32]string
}

// NewFile validates that raw decodes to a well-formed dex header and
// that its declared file_size matches len(raw), then returns a File
// ready for the writer to consume.
func NewFile(location string, locationChecksum uint32, raw []byte, classDefs []ClassDef, methodShorty map[uint32]string) (*File, error) {
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	if int(h.FileSize) != len(raw) {
		return nil, fmt.Errorf("dex: %s: header file_size %d does not match %d raw bytes", location, h.FileSize, len(raw))
	}
	if int(h.ClassDefsSize) != len(classDefs) {
		return nil, fmt.Errorf("dex: %s: header declares %d class defs, got %d", location, h.ClassDefsSize, len(classDefs))
	}
	return &File{
		Location:         location,
		LocationChecksum: locationChecksum,
		Raw:              raw,
		Header:           h,
		ClassDefs:        classDefs,
		methodShorty:     methodShorty,
	}, nil
}

func (f *File) NumClassDefs() int {
	return len(f.ClassDefs)
}

// MethodShorty looks up a method's compact type-signature string,
// mirroring DexFile::GetMethodShorty(DexFile::GetMethodId(method_idx))
// in the original implementation: the writer asks the dex file for the
// shorty itself rather than receiving it from the caller.
func (f *File) MethodShorty(methodIdx uint32) string {
	return f.methodShorty[methodIdx]
}
