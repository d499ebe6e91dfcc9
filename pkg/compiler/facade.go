package compiler

import "github.com/oatwriter/oatwriter/pkg/dex"

// ClassStatus is an opaque fixed-size field per spec.md §9's open
// question: its width is a consuming-runtime decision, not one this
// writer makes. int16 matches the OatClass.status field's narrowest
// plausible width. The wire field itself is oat.ClassEntry.Status
// (int16), sized and encoded as two bytes by pkg/oat and pkg/writer,
// so widening the status means changing those along with this type.
type ClassStatus int16

const (
	ClassStatusNotReady ClassStatus = iota
	ClassStatusError
	ClassStatusVerified
	ClassStatusInitialized
)

// CompiledMethod is the compiled-code view of one dex method: its
// native code, the blobs the runtime needs alongside it, and the small
// per-ISA knobs (code delta, alignment) the writer needs to place it.
//
// Repeated calls for the same method must return blobs with identical
// bytes (content, not just pointer identity) — the writer's dedup
// tables key on content and assume this contract holds (spec.md §6).
type CompiledMethod interface {
	// Code is the method's native instructions. Never empty for a
	// CompiledMethod that exists at all — a present-but-empty code
	// blob is an InputContract violation.
	Code() []byte

	// CodeDelta is a small architecture-specific bias folded into the
	// published entrypoint (e.g. the Thumb-mode bit on 32-bit ARM).
	CodeDelta() uint32

	// AlignCode rounds offset up to this method's required code
	// alignment for the compiler's target ISA.
	AlignCode(offset uint64) uint64

	FrameSize() uint32
	CoreSpillMask() uint32
	FpSpillMask() uint32

	// MappingTable, VmapTable, and GCMap may be empty (nil or
	// zero-length); an empty table encodes as offset 0 in
	// MethodOffsets and is not deduplicated against other empty
	// tables (there is nothing to deduplicate).
	//
	// GCMap is expected to be non-empty unless the method's class was
	// not verified or the method is native. The writer does not check
	// this; an empty GC map is laid out like any other empty table.
	MappingTable() []uint32
	VmapTable() []uint16
	GCMap() []byte
}

// CompiledStub is the compiled-code view of an invoke or proxy stub: a
// small trampoline bridging managed and native calling conventions.
type CompiledStub interface {
	Code() []byte
	CodeDelta() uint32
}

// CompiledClass carries a class's verification/compilation status when
// the compiler has one; absent means "ask the verifier" per the
// layout planner's Stage D status-determination rule.
type CompiledClass interface {
	Status() ClassStatus
}

// ClassVerifier answers whether the verifier rejected a class that the
// compiler never got to (spec.md Stage D: "Error if the class was
// rejected by the verifier collaborator; else NotReady").
type ClassVerifier interface {
	IsClassRejected(d *dex.File, classDefIdx int) bool
}

// Compiler is the facade the writer's layout planner and emitter
// consume. It never compiles anything itself; it is purely a lookup
// surface over work some other component already did.
type Compiler interface {
	InstructionSet() ISA

	// IsImage reports whether this writer run is building alongside a
	// heap image; when true the layout planner invokes ImageBinder
	// after finishing each method's offsets.
	IsImage() bool

	GetCompiledMethod(d *dex.File, methodIdx uint32) (CompiledMethod, bool)
	GetCompiledClass(d *dex.File, classDefIdx int) (CompiledClass, bool)

	FindInvokeStub(isStatic bool, shorty string) (CompiledStub, bool)

	// FindProxyStub is the feature-flagged path from spec.md's open
	// question: implementations that don't support proxy stubs can
	// always return (nil, false); the writer only calls it when the
	// caller opted in via the writer's WithProxyStubs option.
	FindProxyStub(shorty string) (CompiledStub, bool)

	ClassVerifier
}

// ImageBinder is the optional callback a managed runtime implements to
// receive finalized per-method offsets when building an image. The
// writer calls exactly one of BindCode or BindResolutionStub per
// method (never both) after BindMetadata, mirroring the original's
// unconditional metadata writes gated only on the code pointer.
type ImageBinder interface {
	// BindMetadata publishes every offset except the code pointer.
	// Called for every method that has a MethodOffsets record,
	// including abstract methods (all zero offsets).
	BindMetadata(d *dex.File, methodIdx uint32, off MethodOffsetsView)

	// BindCode publishes the method's real code offset. Called unless
	// the image-bind policy below routes to BindResolutionStub
	// instead.
	BindCode(d *dex.File, methodIdx uint32, codeOffset uint32)

	// BindResolutionStub is called instead of BindCode for a static,
	// non-constructor method whose declaring class is not yet
	// initialized (spec.md §6's image-bind constraint): the runtime
	// method object must keep pointing at a resolution trampoline
	// until its class initializes.
	BindResolutionStub(d *dex.File, methodIdx uint32)

	// ShouldBindResolutionStub decides which of BindCode /
	// BindResolutionStub applies to one method, per the policy in
	// spec.md §6 and design note "Image-bind coupling": it belongs in
	// the facade, not hardcoded in the writer.
	ShouldBindResolutionStub(d *dex.File, methodIdx uint32, invoke dex.InvokeType, isConstructor bool) bool
}

// MethodOffsetsView is the read-only subset of a method's finalized
// offsets an ImageBinder needs; it avoids a dependency from
// pkg/compiler on pkg/oat's mutable MethodOffsets type.
type MethodOffsetsView struct {
	FrameSize          uint32
	CoreSpillMask      uint32
	FpSpillMask        uint32
	MappingTableOffset uint32
	VmapTableOffset    uint32
	GCMapOffset        uint32
	InvokeStubOffset   uint32
}
