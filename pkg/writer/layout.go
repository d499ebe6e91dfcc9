package writer

import (
	"fmt"

	"github.com/oatwriter/oatwriter/pkg/compiler"
	"github.com/oatwriter/oatwriter/pkg/dex"
	"github.com/oatwriter/oatwriter/pkg/oat"
	"github.com/oatwriter/oatwriter/pkg/utils"
)

// plan runs the full six-stage layout pass (spec.md §4.1) once, in the
// constructor. It is the generalization of the teacher's
// ComputeSectionSizes → SetOsecOffsets → ResizeSections pipeline: a
// sequence of stages that each thread a single running offset forward,
// except here the stages also populate dedup tables and a checksum as
// they go, instead of just section sizes.
func plan(ctx *context) error {
	offset := stageHeader(ctx)
	offset = stageDirectoryEntries(ctx, offset)
	offset = stageDexPayloads(ctx, offset)

	offset, err := stageClassEntries(ctx, offset)
	if err != nil {
		return err
	}

	offset = stageExecutableGap(ctx, offset)

	if err := stagePerMethodLayout(ctx, offset); err != nil {
		return err
	}

	ctx.header.Checksum = ctx.crc.sum
	return nil
}

// stageHeader is layout Stage A.
func stageHeader(ctx *context) uint64 {
	ctx.header.Magic = oat.Magic
	ctx.header.Version = oat.Version
	ctx.header.InstructionSet = uint32(ctx.compiler.InstructionSet())
	ctx.header.DexFileCount = uint32(len(ctx.dexFiles))
	ctx.header.ImageFileLocationOatChecksum = ctx.imageFileLocationOatChecksum
	ctx.header.ImageFileLocationOatBegin = ctx.imageFileLocationOatBegin
	ctx.header.ImageLocationLen = uint32(len(ctx.imageFileLocation))

	return uint64(oat.HeaderSize) + uint64(len(ctx.imageFileLocation))
}

// stageDirectoryEntries is layout Stage B: one zero-initialized
// OatDexFile per dex, sized but not yet pointing anywhere.
func stageDirectoryEntries(ctx *context, offset uint64) uint64 {
	ctx.dexFileEntries = make([]*oat.DexFileEntry, len(ctx.dexFiles))
	for i, d := range ctx.dexFiles {
		e := &oat.DexFileEntry{
			Location:            d.Location,
			LocationChecksum:    d.LocationChecksum,
			MethodsTableOffsets: make([]uint32, d.NumClassDefs()),
		}
		ctx.dexFileEntries[i] = e
		offset += e.SizeOf()
	}
	return offset
}

// stageDexPayloads is layout Stage C: each dex's raw bytes, 4-byte
// aligned independently of the others.
func stageDexPayloads(ctx *context, offset uint64) uint64 {
	for i, d := range ctx.dexFiles {
		offset = utils.AlignTo(offset, 4)
		ctx.dexFileEntries[i].DexPayloadOffset = uint32(offset)
		offset += uint64(d.Header.FileSize)
	}
	return offset
}

// stageClassEntries is layout Stage D: one OatClass per class-def,
// still with zero-initialized method offsets (Stage F fills those
// in). Each dex's directory-entry bytes are folded into the checksum
// once its classes' offsets are all known.
func stageClassEntries(ctx *context, offset uint64) (uint64, error) {
	for i, d := range ctx.dexFiles {
		for _, cd := range d.ClassDefs {
			ctx.dexFileEntries[i].MethodsTableOffsets[cd.Index] = uint32(offset)

			numMethods := cd.Data.NumMethods()
			status, err := classStatus(ctx.compiler, d, cd.Index)
			if err != nil {
				return 0, err
			}

			entry := &oat.ClassEntry{
				Status:        int16(status),
				MethodOffsets: make([]oat.MethodOffsets, numMethods),
			}
			ctx.classEntries = append(ctx.classEntries, &classLayout{
				dexIndex:    i,
				classDefIdx: cd.Index,
				entry:       entry,
			})
			offset += entry.SizeOf()
		}
		ctx.crc.update(encodeDexFileEntry(ctx.dexFileEntries[i]))
	}
	return offset, nil
}

func classStatus(comp compiler.Compiler, d *dex.File, classDefIdx int) (compiler.ClassStatus, error) {
	if cc, ok := comp.GetCompiledClass(d, classDefIdx); ok {
		return cc.Status(), nil
	}
	if comp.IsClassRejected(d, classDefIdx) {
		return compiler.ClassStatusError, nil
	}
	return compiler.ClassStatusNotReady, nil
}

// stageExecutableGap is layout Stage E: round up to the page boundary
// and record the padding needed to get there.
func stageExecutableGap(ctx *context, offset uint64) uint64 {
	old := offset
	offset = utils.AlignTo(offset, oat.PageSize)
	ctx.executablePadding = offset - old
	ctx.header.ExecutableOffset = uint32(offset)
	return offset
}

// stagePerMethodLayout is layout Stage F: walk every dex, class, and
// method in declaration order and run the method layout subroutine,
// folding each class's OatClass bytes into the checksum once its
// methods are all laid out and invoking the image-bind hook per
// method when building an image.
func stagePerMethodLayout(ctx *context, offset uint64) error {
	isImage := ctx.compiler.IsImage()

	for _, cl := range ctx.classEntries {
		d := ctx.dexFiles[cl.dexIndex]
		cd := findClassDef(d, cl.classDefIdx)
		if cd.Data == nil {
			ctx.crc.update(encodeClassEntry(cl.entry))
			continue
		}

		i := 0
		for _, m := range cd.Data.DirectMethods {
			newOffset, mo, err := layoutMethod(ctx, offset, d, m)
			if err != nil {
				return err
			}
			offset = newOffset
			cl.entry.MethodOffsets[i] = mo
			if isImage {
				bindMethod(ctx, d, m, mo)
			}
			i++
		}
		for _, m := range cd.Data.VirtualMethods {
			newOffset, mo, err := layoutMethod(ctx, offset, d, m)
			if err != nil {
				return err
			}
			offset = newOffset
			cl.entry.MethodOffsets[i] = mo
			if isImage {
				bindMethod(ctx, d, m, mo)
			}
			i++
		}

		ctx.crc.update(encodeClassEntry(cl.entry))
	}
	return nil
}

func findClassDef(d *dex.File, classDefIdx int) dex.ClassDef {
	for _, cd := range d.ClassDefs {
		if cd.Index == classDefIdx {
			return cd
		}
	}
	utils.Assert(false, fmt.Sprintf("class_def %d not found in %s", classDefIdx, d.Location))
	return dex.ClassDef{}
}

// layoutMethod fills one MethodOffsets: code, then mapping, then
// vmap, then GC map, then an invoke stub, and (if enabled and the
// method is not static) a proxy stub (spec.md §4.1 "method layout
// subroutine"). It returns the offset the next method should start
// from.
func layoutMethod(ctx *context, offset uint64, d *dex.File, m dex.Method) (uint64, oat.MethodOffsets, error) {
	mo := oat.MethodOffsets{FrameSize: platformStackAlignment}
	isStatic := m.AccessFlags.IsStatic()

	if cm, ok := ctx.compiler.GetCompiledMethod(d, m.MethodIdx); ok {
		code := cm.Code()
		if len(code) == 0 {
			return offset, mo, &InputContractError{Msg: fmt.Sprintf("%s: method %d: compiled method has zero-length code", d.Location, m.MethodIdx)}
		}

		newOffset, codeOffset := placeCodeLike(ctx, ctx.codeDedup, code, cm.CodeDelta(), cm.AlignCode, offset)
		offset = newOffset
		mo.CodeOffset = codeOffset
		mo.FrameSize = cm.FrameSize()
		mo.CoreSpillMask = cm.CoreSpillMask()
		mo.FpSpillMask = cm.FpSpillMask()

		newOffset, mo.MappingTableOffset = placeTable(ctx, ctx.mappingDedup, encodeUint32s(cm.MappingTable()), offset)
		offset = newOffset

		newOffset, mo.VmapTableOffset = placeTable(ctx, ctx.vmapDedup, encodeUint16s(cm.VmapTable()), offset)
		offset = newOffset

		newOffset, mo.GCMapOffset = placeTable(ctx, ctx.gcMapDedup, cm.GCMap(), offset)
		offset = newOffset
	}

	shorty := d.MethodShorty(m.MethodIdx)
	isa := ctx.compiler.InstructionSet()
	alignISA := func(o uint64) uint64 { return compiler.AlignCode(isa, o) }

	if stub, ok := ctx.compiler.FindInvokeStub(isStatic, shorty); ok {
		code := stub.Code()
		if len(code) == 0 {
			return offset, mo, &InputContractError{Msg: fmt.Sprintf("%s: method %d: invoke stub has zero-length code", d.Location, m.MethodIdx)}
		}
		newOffset, stubOffset := placeCodeLike(ctx, ctx.codeDedup, code, stub.CodeDelta(), alignISA, offset)
		offset = newOffset
		mo.InvokeStubOffset = stubOffset
	}

	if ctx.enableProxyStubs && !isStatic {
		if stub, ok := ctx.compiler.FindProxyStub(shorty); ok {
			code := stub.Code()
			if len(code) == 0 {
				return offset, mo, &InputContractError{Msg: fmt.Sprintf("%s: method %d: proxy stub has zero-length code", d.Location, m.MethodIdx)}
			}
			newOffset, stubOffset := placeCodeLike(ctx, ctx.codeDedup, code, stub.CodeDelta(), alignISA, offset)
			offset = newOffset
			mo.ProxyStubOffset = stubOffset
		}
	}

	return offset, mo, nil
}

// placeCodeLike implements spec.md §4.1's per-blob placement rule for
// code and stub blobs: align, compute the candidate entrypoint
// (size-prefix + code_delta ahead of the aligned offset), then dedup.
// Alignment always mutates offset, even on a dedup hit — only the
// size advance and the checksum fold are skipped on a hit.
func placeCodeLike(ctx *context, table *dedupTable, blob []byte, codeDelta uint32, align func(uint64) uint64, offset uint64) (uint64, uint32) {
	aligned := align(offset)
	candidate := aligned + 4 + uint64(codeDelta)

	if existing, ok := table.lookup(blob); ok {
		return aligned, existing
	}

	table.insert(blob, uint32(candidate))
	ctx.crc.update(blob)
	return aligned + 4 + uint64(len(blob)), uint32(candidate)
}

// placeTable implements the same rule for tables/maps, which carry no
// size prefix, no code_delta, and no alignment requirement. An empty
// blob is legal and always encodes as offset 0 without touching the
// dedup table.
func placeTable(ctx *context, table *dedupTable, blob []byte, offset uint64) (uint64, uint32) {
	if len(blob) == 0 {
		return offset, 0
	}

	candidate := offset
	if existing, ok := table.lookup(blob); ok {
		return offset, existing
	}

	table.insert(blob, uint32(candidate))
	ctx.crc.update(blob)
	return offset + uint64(len(blob)), uint32(candidate)
}

// bindMethod invokes the image-bind hook for one method once its
// offsets are finalized (spec.md §4.1 "Image-bind hook", §6's
// image-bind constraint). Metadata is always published; the code
// pointer is routed to either BindCode or BindResolutionStub per the
// binder's own policy decision.
func bindMethod(ctx *context, d *dex.File, m dex.Method, mo oat.MethodOffsets) {
	view := compiler.MethodOffsetsView{
		FrameSize:          mo.FrameSize,
		CoreSpillMask:      mo.CoreSpillMask,
		FpSpillMask:        mo.FpSpillMask,
		MappingTableOffset: mo.MappingTableOffset,
		VmapTableOffset:    mo.VmapTableOffset,
		GCMapOffset:        mo.GCMapOffset,
		InvokeStubOffset:   mo.InvokeStubOffset,
	}
	ctx.imageBinder.BindMetadata(d, m.MethodIdx, view)

	if ctx.imageBinder.ShouldBindResolutionStub(d, m.MethodIdx, m.Invoke, m.AccessFlags.IsConstructor()) {
		ctx.imageBinder.BindResolutionStub(d, m.MethodIdx)
		return
	}
	ctx.imageBinder.BindCode(d, m.MethodIdx, mo.CodeOffset)
}
