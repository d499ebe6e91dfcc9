package dex

import "encoding/binary"

// uleb128Reader walks a ULEB128-encoded byte stream the way dex
// class_data_item bodies are packed. Grounded in
// dexread.ulebHelper.grabULEB128.
type uleb128Reader struct {
	data []byte
}

func (r *uleb128Reader) next() uint64 {
	v, size := binary.Uvarint(r.data)
	r.data = r.data[size:]
	return uint64(v)
}

// classInvokeType derives a method's InvokeType from its access flags
// alone: static methods are InvokeStatic, every other method
// (constructors, private methods) is InvokeDirect. DecodeClassData
// then overrides virtual-list entries to InvokeVirtual. Interface and
// super dispatch are resolved by the caller from the class's own kind,
// since that information isn't present in the class_data_item itself.
func classInvokeType(flags AccessFlags) InvokeType {
	if flags.IsStatic() {
		return InvokeStatic
	}
	return InvokeDirect
}

// DecodeClassData walks a class_data_item body: static field count,
// instance field count, direct method count, virtual method count,
// then the field and method entries themselves. Field entries are
// skipped (the writer has no use for field data) but still must be
// consumed — they are ULEB128-encoded and cannot be skipped by byte
// count alone. Method indices are delta-encoded against the previous
// entry in the same list (direct, then virtual), resetting at the
// start of each list. Grounded in dexread.examineClass.
func DecodeClassData(body []byte, shortyOf func(methodIdx uint32) string) (*ClassData, error) {
	r := &uleb128Reader{data: body}

	numStaticFields := r.next()
	numInstanceFields := r.next()
	numDirectMethods := r.next()
	numVirtualMethods := r.next()

	for i := uint64(0); i < numStaticFields+numInstanceFields; i++ {
		r.next() // field_idx_diff
		r.next() // access_flags
	}

	readMethods := func(count uint64) []Method {
		methods := make([]Method, 0, count)
		var methodIdx uint64
		for i := uint64(0); i < count; i++ {
			delta := r.next()
			if i == 0 {
				methodIdx = delta
			} else {
				methodIdx += delta
			}
			flags := AccessFlags(r.next())
			r.next() // code_off, unused: code comes from the compiler facade, not the dex file

			idx := uint32(methodIdx)
			methods = append(methods, Method{
				AccessFlags: flags,
				Invoke:      classInvokeType(flags),
				MethodIdx:   idx,
				Shorty:      shortyOf(idx),
			})
		}
		return methods
	}

	direct := readMethods(numDirectMethods)
	virtual := readMethods(numVirtualMethods)
	for i := range virtual {
		virtual[i].Invoke = InvokeVirtual
	}

	return &ClassData{
		NumStaticFields:   uint32(numStaticFields),
		NumInstanceFields: uint32(numInstanceFields),
		DirectMethods:     direct,
		VirtualMethods:    virtual,
	}, nil
}
