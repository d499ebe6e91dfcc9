package writer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/oatwriter/oatwriter/pkg/compiler"
	"github.com/oatwriter/oatwriter/pkg/dex"
	"github.com/oatwriter/oatwriter/pkg/oat"
	"github.com/oatwriter/oatwriter/pkg/sink"
)

func fakeDexHeader(fileSize, classDefsSize uint32) []byte {
	h := dex.Header{
		Magic:         dex.Magic,
		FileSize:      fileSize,
		HeaderSize:    dex.HeaderSize,
		ClassDefsSize: classDefsSize,
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func fakeDex(t *testing.T, location string, fileSize uint32, classDefs []dex.ClassDef, shortyOf map[uint32]string) *dex.File {
	t.Helper()
	if fileSize == 0 {
		fileSize = dex.HeaderSize
	}
	raw := fakeDexHeader(fileSize, uint32(len(classDefs)))
	if int(fileSize) > len(raw) {
		raw = append(raw, make([]byte, int(fileSize)-len(raw))...)
	}
	f, err := dex.NewFile(location, 0, raw, classDefs, shortyOf)
	if err != nil {
		t.Fatalf("fakeDex: %v", err)
	}
	return f
}

type fakeCompiledMethod struct {
	code      []byte
	codeDelta uint32
	isa       compiler.ISA
	frameSize uint32
	mapping   []uint32
	vmap      []uint16
	gcmap     []byte
}

func (m *fakeCompiledMethod) Code() []byte                  { return m.code }
func (m *fakeCompiledMethod) CodeDelta() uint32              { return m.codeDelta }
func (m *fakeCompiledMethod) AlignCode(offset uint64) uint64 { return compiler.AlignCode(m.isa, offset) }
func (m *fakeCompiledMethod) FrameSize() uint32              { return m.frameSize }
func (m *fakeCompiledMethod) CoreSpillMask() uint32          { return 0 }
func (m *fakeCompiledMethod) FpSpillMask() uint32            { return 0 }
func (m *fakeCompiledMethod) MappingTable() []uint32         { return m.mapping }
func (m *fakeCompiledMethod) VmapTable() []uint16            { return m.vmap }
func (m *fakeCompiledMethod) GCMap() []byte                  { return m.gcmap }

type fakeCompiledStub struct {
	code  []byte
	delta uint32
}

func (s *fakeCompiledStub) Code() []byte     { return s.code }
func (s *fakeCompiledStub) CodeDelta() uint32 { return s.delta }

type fakeCompiledClass struct {
	status compiler.ClassStatus
}

func (c *fakeCompiledClass) Status() compiler.ClassStatus { return c.status }

type methodKey struct {
	dex string
	idx uint32
}

type fakeCompiler struct {
	isa        compiler.ISA
	isImage    bool
	methods    map[methodKey]compiler.CompiledMethod
	classes    map[int]compiler.CompiledClass
	rejected   map[int]bool
	invokeStub compiler.CompiledStub
	proxyStub  compiler.CompiledStub
}

func (c *fakeCompiler) InstructionSet() compiler.ISA { return c.isa }
func (c *fakeCompiler) IsImage() bool                { return c.isImage }

func (c *fakeCompiler) GetCompiledMethod(d *dex.File, methodIdx uint32) (compiler.CompiledMethod, bool) {
	cm, ok := c.methods[methodKey{d.Location, methodIdx}]
	return cm, ok
}

func (c *fakeCompiler) GetCompiledClass(d *dex.File, classDefIdx int) (compiler.CompiledClass, bool) {
	cc, ok := c.classes[classDefIdx]
	return cc, ok
}

func (c *fakeCompiler) FindInvokeStub(isStatic bool, shorty string) (compiler.CompiledStub, bool) {
	if c.invokeStub == nil {
		return nil, false
	}
	return c.invokeStub, true
}

func (c *fakeCompiler) FindProxyStub(shorty string) (compiler.CompiledStub, bool) {
	if c.proxyStub == nil {
		return nil, false
	}
	return c.proxyStub, true
}

func (c *fakeCompiler) IsClassRejected(d *dex.File, classDefIdx int) bool {
	return c.rejected[classDefIdx]
}

type fakeImageBinder struct {
	metadata       map[uint32]compiler.MethodOffsetsView
	code           map[uint32]uint32
	resolutionStub map[uint32]bool
	shouldResolve  func(methodIdx uint32, invoke dex.InvokeType, isConstructor bool) bool
}

func (b *fakeImageBinder) BindMetadata(d *dex.File, methodIdx uint32, off compiler.MethodOffsetsView) {
	if b.metadata == nil {
		b.metadata = map[uint32]compiler.MethodOffsetsView{}
	}
	b.metadata[methodIdx] = off
}

func (b *fakeImageBinder) BindCode(d *dex.File, methodIdx uint32, codeOffset uint32) {
	if b.code == nil {
		b.code = map[uint32]uint32{}
	}
	b.code[methodIdx] = codeOffset
}

func (b *fakeImageBinder) BindResolutionStub(d *dex.File, methodIdx uint32) {
	if b.resolutionStub == nil {
		b.resolutionStub = map[uint32]bool{}
	}
	b.resolutionStub[methodIdx] = true
}

func (b *fakeImageBinder) ShouldBindResolutionStub(d *dex.File, methodIdx uint32, invoke dex.InvokeType, isConstructor bool) bool {
	return b.shouldResolve(methodIdx, invoke, isConstructor)
}

func TestEmptyDexLayout(t *testing.T) {
	d := fakeDex(t, "empty.dex", 0, nil, nil)
	comp := &fakeCompiler{isa: compiler.ISAArm}

	w, err := New([]*dex.File{d}, 0, 0, "", comp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if w.ExecutableOffset()%oat.PageSize != 0 {
		t.Fatalf("executable offset %d not page-aligned", w.ExecutableOffset())
	}

	s := sink.NewBufferSink("test")
	if err := w.Write(s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(s.Bytes()) != int(w.ExecutableOffset()) {
		t.Fatalf("empty dex produced %d bytes, want exactly the executable offset %d", len(s.Bytes()), w.ExecutableOffset())
	}
}

func TestSingleMethodCodeOffsetWithThumbDelta(t *testing.T) {
	methods := []dex.Method{{MethodIdx: 1, Invoke: dex.InvokeDirect, Shorty: "V"}}
	d := fakeDex(t, "a.dex", 0, []dex.ClassDef{{Index: 0, Data: &dex.ClassData{DirectMethods: methods}}}, map[uint32]string{1: "V"})

	cm := &fakeCompiledMethod{code: make([]byte, 12), codeDelta: 1, isa: compiler.ISAArm, frameSize: 32}
	comp := &fakeCompiler{
		isa:     compiler.ISAArm,
		methods: map[methodKey]compiler.CompiledMethod{{"a.dex", 1}: cm},
	}

	w, err := New([]*dex.File{d}, 0, 0, "", comp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mo := w.ctx.classEntries[0].entry.MethodOffsets[0]
	want := w.ExecutableOffset() + 4 + 1
	if mo.CodeOffset != want {
		t.Fatalf("code_offset = %d, want %d", mo.CodeOffset, want)
	}

	s := sink.NewBufferSink("test")
	if err := w.Write(s); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestDedupSharedCompiledMethodInstance(t *testing.T) {
	methods := []dex.Method{
		{MethodIdx: 1, Invoke: dex.InvokeDirect, Shorty: "V"},
		{MethodIdx: 2, Invoke: dex.InvokeDirect, Shorty: "V"},
	}
	d := fakeDex(t, "a.dex", 0, []dex.ClassDef{{Index: 0, Data: &dex.ClassData{DirectMethods: methods}}}, map[uint32]string{1: "V", 2: "V"})

	cm := &fakeCompiledMethod{code: []byte{1, 2, 3, 4}, isa: compiler.ISANone}
	comp := &fakeCompiler{
		isa: compiler.ISANone,
		methods: map[methodKey]compiler.CompiledMethod{
			{"a.dex", 1}: cm,
			{"a.dex", 2}: cm,
		},
	}

	w, err := New([]*dex.File{d}, 0, 0, "", comp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	offs := w.ctx.classEntries[0].entry.MethodOffsets
	if offs[0].CodeOffset != offs[1].CodeOffset {
		t.Fatalf("dedup did not produce equal code offsets: %d vs %d", offs[0].CodeOffset, offs[1].CodeOffset)
	}

	s := sink.NewBufferSink("test")
	before := w.ExecutableOffset()
	if err := w.Write(s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Code is 4 bytes + 4 byte size prefix, written exactly once.
	if len(s.Bytes()) != int(before)+8 {
		t.Fatalf("file grew by %d bytes past executable offset, want 8 (one copy of the code)", len(s.Bytes())-int(before))
	}
}

func TestClassRejectedByVerifierAllAbstract(t *testing.T) {
	methods := []dex.Method{
		{MethodIdx: 1, AccessFlags: dex.AccAbstract, Invoke: dex.InvokeVirtual, Shorty: "V"},
		{MethodIdx: 2, AccessFlags: dex.AccAbstract, Invoke: dex.InvokeVirtual, Shorty: "V"},
		{MethodIdx: 3, AccessFlags: dex.AccAbstract, Invoke: dex.InvokeVirtual, Shorty: "V"},
	}
	d := fakeDex(t, "a.dex", 0, []dex.ClassDef{{Index: 0, Data: &dex.ClassData{VirtualMethods: methods}}}, map[uint32]string{1: "V", 2: "V", 3: "V"})

	comp := &fakeCompiler{isa: compiler.ISAArm, rejected: map[int]bool{0: true}}

	w, err := New([]*dex.File{d}, 0, 0, "", comp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entry := w.ctx.classEntries[0].entry
	if compiler.ClassStatus(entry.Status) != compiler.ClassStatusError {
		t.Fatalf("status = %d, want Error", entry.Status)
	}
	for i, mo := range entry.MethodOffsets {
		if mo.FrameSize != platformStackAlignment {
			t.Fatalf("method %d frame_size = %d, want %d", i, mo.FrameSize, platformStackAlignment)
		}
		if mo.CodeOffset != 0 || mo.MappingTableOffset != 0 || mo.VmapTableOffset != 0 || mo.GCMapOffset != 0 {
			t.Fatalf("method %d: abstract method has non-zero offsets: %+v", i, mo)
		}
	}
}

func TestImageBindRoutesStaticUninitializedMethodToResolutionStub(t *testing.T) {
	methods := []dex.Method{{MethodIdx: 1, AccessFlags: dex.AccStatic, Invoke: dex.InvokeStatic, Shorty: "V"}}
	d := fakeDex(t, "a.dex", 0, []dex.ClassDef{{Index: 0, Data: &dex.ClassData{DirectMethods: methods}}}, map[uint32]string{1: "V"})

	cm := &fakeCompiledMethod{code: []byte{1, 2, 3, 4}, isa: compiler.ISAArm}
	comp := &fakeCompiler{
		isa:     compiler.ISAArm,
		isImage: true,
		methods: map[methodKey]compiler.CompiledMethod{{"a.dex", 1}: cm},
	}
	binder := &fakeImageBinder{
		shouldResolve: func(methodIdx uint32, invoke dex.InvokeType, isConstructor bool) bool {
			return invoke == dex.InvokeStatic && !isConstructor
		},
	}

	w, err := New([]*dex.File{d}, 0, 0, "", comp, WithImageBinder(binder))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = w

	if !binder.resolutionStub[1] {
		t.Fatalf("expected resolution stub bound for method 1")
	}
	if _, ok := binder.code[1]; ok {
		t.Fatalf("code offset should not be bound when routed to a resolution stub")
	}
	if _, ok := binder.metadata[1]; !ok {
		t.Fatalf("metadata should always be bound")
	}
}

func TestNewRequiresImageBinderWhenIsImage(t *testing.T) {
	d := fakeDex(t, "a.dex", 0, nil, nil)
	comp := &fakeCompiler{isa: compiler.ISAArm, isImage: true}

	if _, err := New([]*dex.File{d}, 0, 0, "", comp); err == nil {
		t.Fatalf("expected error when IsImage() is true with no ImageBinder")
	}
}

func TestTwoDexFilesPayloadAlignment(t *testing.T) {
	d0 := fakeDex(t, "a.dex", dex.HeaderSize+5, nil, nil)
	d1 := fakeDex(t, "b.dex", 0, nil, nil)
	comp := &fakeCompiler{isa: compiler.ISAArm}

	w, err := New([]*dex.File{d0, d1}, 0, 0, "", comp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	end := uint64(w.ctx.dexFileEntries[0].DexPayloadOffset) + uint64(d0.Header.FileSize)
	want := uint32((end + 3) &^ 3)
	if w.ctx.dexFileEntries[1].DexPayloadOffset != want {
		t.Fatalf("second dex payload offset = %d, want %d", w.ctx.dexFileEntries[1].DexPayloadOffset, want)
	}
}

func TestProxyStubSkippedForStaticMethods(t *testing.T) {
	methods := []dex.Method{{MethodIdx: 1, AccessFlags: dex.AccStatic, Invoke: dex.InvokeStatic, Shorty: "V"}}
	d := fakeDex(t, "a.dex", 0, []dex.ClassDef{{Index: 0, Data: &dex.ClassData{DirectMethods: methods}}}, map[uint32]string{1: "V"})

	comp := &fakeCompiler{
		isa:       compiler.ISAArm,
		proxyStub: &fakeCompiledStub{code: []byte{9, 9, 9, 9}},
	}

	w, err := New([]*dex.File{d}, 0, 0, "", comp, WithProxyStubs(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mo := w.ctx.classEntries[0].entry.MethodOffsets[0]
	if mo.ProxyStubOffset != 0 {
		t.Fatalf("static method should not get a proxy stub, got offset %d", mo.ProxyStubOffset)
	}
}
