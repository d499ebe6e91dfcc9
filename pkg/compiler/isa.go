// Package compiler declares the facade this writer consumes: the
// compiler that produced native code for dex methods, the compiled
// blobs it hands back, and the optional image-bind hook a managed
// runtime uses to receive finalized offsets directly into resident
// method objects. None of the facade is implemented here — this
// mirrors how the teacher's machinetype.go only classifies ISAs it
// reads out of ELF headers, never emulates one.
package compiler

import "github.com/oatwriter/oatwriter/pkg/utils"

// ISA identifies the target instruction set, the same role the
// teacher's MachineType plays for ELF e_machine/ei_class.
type ISA int8

const (
	ISANone ISA = iota
	ISAArm
	ISAArm64
	ISAX86
	ISAX86_64
	ISAMips
	ISARiscv64
)

func (i ISA) String() string {
	switch i {
	case ISAArm:
		return "arm"
	case ISAArm64:
		return "arm64"
	case ISAX86:
		return "x86"
	case ISAX86_64:
		return "x86_64"
	case ISAMips:
		return "mips"
	case ISARiscv64:
		return "riscv64"
	}
	return "none"
}

// codeAlignment is the number of bytes code, invoke stubs, and proxy
// stubs must be aligned to before their size-prefix for a given ISA.
// Design note §9 requires this to be delegated per-ISA rather than
// hard-coded as a single constant; a real compiler facade exposes
// method code alignment itself (CompiledMethod.AlignCode). This table
// backs the AlignCode helper below, which the writer uses to align
// invoke and proxy stubs (CompiledStub has no alignment method) and
// which tests and facade implementations can use as a default.
var codeAlignment = map[ISA]uint64{
	ISANone:    1,
	ISAArm:     16,
	ISAArm64:   16,
	ISAX86:     16,
	ISAX86_64:  16,
	ISAMips:    16,
	ISARiscv64: 16,
}

// CodeAlignment returns the ISA's code alignment in bytes, 1 if the
// ISA is unknown.
func CodeAlignment(isa ISA) uint64 {
	if a, ok := codeAlignment[isa]; ok {
		return a
	}
	return 1
}

// AlignCode rounds offset up to the ISA's code alignment. Facades
// implementing CompiledMethod.AlignCode for a concrete ISA should
// produce results consistent with this function. The writer aligns
// invoke and proxy stubs with it, and writer tests use it to build
// fixtures without hand-rolling the rounding rule.
func AlignCode(isa ISA, offset uint64) uint64 {
	return utils.AlignTo(offset, CodeAlignment(isa))
}
