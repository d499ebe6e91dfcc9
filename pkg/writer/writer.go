// Package writer implements the OAT two-pass offset-planning engine:
// a layout pass that assigns every offset up front (including offsets
// of blobs shared between methods) and a mirrored emit pass that
// writes bytes and re-derives the same offsets. See oat_writer.cc in
// the AOSP tree this design is grounded on for the reference
// behavior; this package re-derives it rather than translating it.
package writer

import (
	"fmt"

	"github.com/oatwriter/oatwriter/pkg/compiler"
	"github.com/oatwriter/oatwriter/pkg/dex"
	"github.com/oatwriter/oatwriter/pkg/sink"
)

// Option configures a Writer at construction time.
type Option func(*context)

// WithProxyStubs enables emitting a proxy stub for each non-static
// method whose compiler facade returns one from FindProxyStub. Off by
// default, per the open question this resolves.
func WithProxyStubs(enable bool) Option {
	return func(c *context) { c.enableProxyStubs = enable }
}

// WithImageBinder supplies the callback the layout pass invokes after
// finalizing each method's offsets when the compiler facade reports
// IsImage(). Required whenever the facade's IsImage() is true.
func WithImageBinder(b compiler.ImageBinder) Option {
	return func(c *context) { c.imageBinder = b }
}

// Writer plans an OAT file's layout in its constructor and emits it
// on a single later call to Write. It is single-use: construct a new
// Writer for a new layout.
type Writer struct {
	ctx *context
}

// New builds a Writer for dexFiles against comp, running the full
// layout pass before returning. imageFileLocation, together with the
// two checksum/begin anchors, identifies the heap image this OAT file
// is paired with (pass a zero checksum, zero begin, and empty location
// when there is no image).
func New(dexFiles []*dex.File, imageFileLocationOatChecksum, imageFileLocationOatBegin uint32, imageFileLocation string, comp compiler.Compiler, opts ...Option) (*Writer, error) {
	ctx := newContext(dexFiles, imageFileLocationOatChecksum, imageFileLocationOatBegin, imageFileLocation, comp)
	for _, opt := range opts {
		opt(ctx)
	}

	if comp.IsImage() && ctx.imageBinder == nil {
		return nil, &InputContractError{Msg: "compiler facade reports IsImage() but no ImageBinder was supplied"}
	}

	if err := plan(ctx); err != nil {
		return nil, err
	}

	return &Writer{ctx: ctx}, nil
}

// Write runs the emit pass against s, re-deriving every offset the
// layout pass already computed and asserting they agree.
func (w *Writer) Write(s sink.Sink) error {
	return emit(w.ctx, s)
}

// Checksum is the header's running CRC as finalized by the layout
// pass (spec.md P4); exposed for callers that want to verify it
// out-of-band.
func (w *Writer) Checksum() uint32 {
	return w.ctx.header.Checksum
}

// ExecutableOffset is the page-aligned start of the executable region
// (spec.md P1).
func (w *Writer) ExecutableOffset() uint32 {
	return w.ctx.header.ExecutableOffset
}

func methodContext(d *dex.File, methodIdx uint32) string {
	return fmt.Sprintf("%s:%d", d.Location, methodIdx)
}
