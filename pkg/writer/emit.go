package writer

import (
	"encoding/binary"
	"fmt"

	"github.com/oatwriter/oatwriter/pkg/compiler"
	"github.com/oatwriter/oatwriter/pkg/dex"
	"github.com/oatwriter/oatwriter/pkg/oat"
	"github.com/oatwriter/oatwriter/pkg/sink"
	"github.com/oatwriter/oatwriter/pkg/utils"
)

// emit is the write pass (spec.md §4.2): it mirrors the layout pass
// stage by stage, this time producing bytes instead of offsets, and
// asserting at every step that the cursor it derives agrees with what
// the layout pass already recorded. Fresh dedup tables are used here
// (not ctx's layout-pass tables, which already hold every blob) so
// that "first occurrence" during emission lines up with "first
// occurrence" during layout — both walks visit methods in the same
// order, so the two notions coincide.
func emit(ctx *context, s sink.Sink) error {
	if err := writeAll(s, encodeHeader(ctx.header), "write header", ""); err != nil {
		return err
	}
	if err := writeAll(s, []byte(ctx.imageFileLocation), "write image location", ""); err != nil {
		return err
	}

	for i, e := range ctx.dexFileEntries {
		if err := writeAll(s, encodeDexFileEntry(e), "write dex directory entry", ctx.dexFiles[i].Location); err != nil {
			return err
		}
	}

	for i, d := range ctx.dexFiles {
		target := int64(ctx.dexFileEntries[i].DexPayloadOffset)
		pos, err := s.Seek(target, sink.SeekSet)
		if err != nil {
			return &WriteError{Op: "seek to dex payload", Context: d.Location, Sink: s.Location(), Err: err}
		}
		utils.Assert(pos == target, fmt.Sprintf("dex payload seek landed at %d, wanted %d", pos, target))

		if err := writeAll(s, d.Raw, "write dex payload", d.Location); err != nil {
			return err
		}
	}

	for _, cl := range ctx.classEntries {
		d := ctx.dexFiles[cl.dexIndex]
		if err := writeAll(s, encodeClassEntry(cl.entry), "write class entry", d.Location); err != nil {
			return err
		}
	}

	target := int64(ctx.header.ExecutableOffset)
	pos, err := s.Seek(target, sink.SeekSet)
	if err != nil {
		return &WriteError{Op: "seek to executable offset", Sink: s.Location(), Err: err}
	}
	utils.Assert(pos == target, fmt.Sprintf("executable offset seek landed at %d, wanted %d", pos, target))

	return emitMethods(ctx, s, uint64(target))
}

func writeAll(s sink.Sink, b []byte, op, desc string) error {
	if len(b) == 0 {
		return nil
	}
	if err := s.WriteAll(b); err != nil {
		return &WriteError{Op: op, Context: desc, Sink: s.Location(), Err: err}
	}
	return nil
}

// emitMethods re-walks Stage F's exact traversal, writing bytes for
// each method and asserting every re-derived offset matches the value
// the layout pass already stored in that method's MethodOffsets.
func emitMethods(ctx *context, s sink.Sink, pos uint64) error {
	codeDedup := newDedupTable()
	mappingDedup := newDedupTable()
	vmapDedup := newDedupTable()
	gcMapDedup := newDedupTable()

	isa := ctx.compiler.InstructionSet()
	alignISA := func(o uint64) uint64 { return compiler.AlignCode(isa, o) }

	for _, cl := range ctx.classEntries {
		d := ctx.dexFiles[cl.dexIndex]
		cd := findClassDef(d, cl.classDefIdx)
		if cd.Data == nil {
			continue
		}

		i := 0
		emitOne := func(m dex.Method) error {
			mo := cl.entry.MethodOffsets[i]
			newPos, err := emitMethod(ctx, s, pos, d, m, mo, codeDedup, mappingDedup, vmapDedup, gcMapDedup, alignISA)
			if err != nil {
				return err
			}
			pos = newPos
			i++
			return nil
		}

		for _, m := range cd.Data.DirectMethods {
			if err := emitOne(m); err != nil {
				return err
			}
		}
		for _, m := range cd.Data.VirtualMethods {
			if err := emitOne(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitMethod mirrors layoutMethod, writing bytes instead of just
// computing offsets and asserting agreement with the recorded mo at
// every blob.
func emitMethod(ctx *context, s sink.Sink, pos uint64, d *dex.File, m dex.Method, mo oat.MethodOffsets,
	codeDedup, mappingDedup, vmapDedup, gcMapDedup *dedupTable, alignISA func(uint64) uint64) (uint64, error) {

	isStatic := m.AccessFlags.IsStatic()

	if cm, ok := ctx.compiler.GetCompiledMethod(d, m.MethodIdx); ok {
		code := cm.Code()
		newPos, err := emitCodeLike(s, codeDedup, code, cm.CodeDelta(), cm.AlignCode, pos, mo.CodeOffset, "code", d, m.MethodIdx)
		if err != nil {
			return 0, err
		}
		pos = newPos

		newPos, err = emitTable(s, mappingDedup, encodeUint32s(cm.MappingTable()), pos, mo.MappingTableOffset, "mapping table", d, m.MethodIdx)
		if err != nil {
			return 0, err
		}
		pos = newPos

		newPos, err = emitTable(s, vmapDedup, encodeUint16s(cm.VmapTable()), pos, mo.VmapTableOffset, "vmap table", d, m.MethodIdx)
		if err != nil {
			return 0, err
		}
		pos = newPos

		newPos, err = emitTable(s, gcMapDedup, cm.GCMap(), pos, mo.GCMapOffset, "gc map", d, m.MethodIdx)
		if err != nil {
			return 0, err
		}
		pos = newPos
	}

	shorty := d.MethodShorty(m.MethodIdx)

	if stub, ok := ctx.compiler.FindInvokeStub(isStatic, shorty); ok {
		newPos, err := emitCodeLike(s, codeDedup, stub.Code(), stub.CodeDelta(), alignISA, pos, mo.InvokeStubOffset, "invoke stub", d, m.MethodIdx)
		if err != nil {
			return 0, err
		}
		pos = newPos
	}

	if ctx.enableProxyStubs && !isStatic {
		if stub, ok := ctx.compiler.FindProxyStub(shorty); ok {
			newPos, err := emitCodeLike(s, codeDedup, stub.Code(), stub.CodeDelta(), alignISA, pos, mo.ProxyStubOffset, "proxy stub", d, m.MethodIdx)
			if err != nil {
				return 0, err
			}
			pos = newPos
		}
	}

	return pos, nil
}

func emitCodeLike(s sink.Sink, table *dedupTable, blob []byte, codeDelta uint32, align func(uint64) uint64, pos uint64, recorded uint32, label string, d *dex.File, methodIdx uint32) (uint64, error) {
	aligned := align(pos)
	if aligned != pos {
		newPos, err := s.Seek(int64(aligned), sink.SeekSet)
		if err != nil {
			return 0, &WriteError{Op: "seek align " + label, Context: methodContext(d, methodIdx), Sink: s.Location(), Err: err}
		}
		utils.Assert(uint64(newPos) == aligned, fmt.Sprintf("%s align seek landed at %d, wanted %d", label, newPos, aligned))
	}

	candidate := uint32(aligned + 4 + uint64(codeDelta))

	if existing, ok := table.lookup(blob); ok {
		utils.Assert(existing == recorded, fmt.Sprintf("%s dedup offset mismatch for %s: table has %d, recorded %d", label, methodContext(d, methodIdx), existing, recorded))
		return aligned, nil
	}

	utils.Assert(candidate == recorded, fmt.Sprintf("%s candidate offset mismatch for %s: computed %d, recorded %d", label, methodContext(d, methodIdx), candidate, recorded))
	table.insert(blob, candidate)

	var sizePrefix [4]byte
	binary.LittleEndian.PutUint32(sizePrefix[:], uint32(len(blob)))
	if err := writeAll(s, sizePrefix[:], "write "+label+" size", methodContext(d, methodIdx)); err != nil {
		return 0, err
	}
	if err := writeAll(s, blob, "write "+label, methodContext(d, methodIdx)); err != nil {
		return 0, err
	}

	return aligned + 4 + uint64(len(blob)), nil
}

func emitTable(s sink.Sink, table *dedupTable, blob []byte, pos uint64, recorded uint32, label string, d *dex.File, methodIdx uint32) (uint64, error) {
	if len(blob) == 0 {
		utils.Assert(recorded == 0, fmt.Sprintf("%s empty blob recorded non-zero offset %d for %s", label, recorded, methodContext(d, methodIdx)))
		return pos, nil
	}

	candidate := uint32(pos)
	if existing, ok := table.lookup(blob); ok {
		utils.Assert(existing == recorded, fmt.Sprintf("%s dedup offset mismatch for %s: table has %d, recorded %d", label, methodContext(d, methodIdx), existing, recorded))
		return pos, nil
	}

	utils.Assert(candidate == recorded, fmt.Sprintf("%s candidate offset mismatch for %s: computed %d, recorded %d", label, methodContext(d, methodIdx), candidate, recorded))
	table.insert(blob, candidate)

	if err := writeAll(s, blob, "write "+label, methodContext(d, methodIdx)); err != nil {
		return 0, err
	}
	return pos + uint64(len(blob)), nil
}
