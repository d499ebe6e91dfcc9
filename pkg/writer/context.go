package writer

import (
	"github.com/oatwriter/oatwriter/pkg/compiler"
	"github.com/oatwriter/oatwriter/pkg/dex"
	"github.com/oatwriter/oatwriter/pkg/oat"
)

const platformStackAlignment uint32 = 16

// context holds everything the layout pass produces and the emit pass
// consumes: the teacher's linker.Context plays the same role, carrying
// the accumulated output-section state between ComputeSectionSizes and
// CopyBuf. Unlike linker.Context this one is built once, planned once
// in the constructor, and never touched again except by Write.
type context struct {
	compiler         compiler.Compiler
	dexFiles         []*dex.File
	imageBinder      compiler.ImageBinder
	enableProxyStubs bool

	imageFileLocation            string
	imageFileLocationOatChecksum uint32
	imageFileLocationOatBegin    uint32

	header         oat.Header
	dexFileEntries []*oat.DexFileEntry
	classEntries   []*classLayout

	executablePadding uint64

	codeDedup    *dedupTable
	mappingDedup *dedupTable
	vmapDedup    *dedupTable
	gcMapDedup   *dedupTable

	crc *checksum
}

// classLayout pairs a laid-out OatClass record with the dex/class-def
// coordinates it came from, so the emit pass can re-walk the same
// dex/class/method traversal without recomputing anything the layout
// pass already decided.
type classLayout struct {
	dexIndex    int
	classDefIdx int
	entry       *oat.ClassEntry
}

func newContext(dexFiles []*dex.File, imageChecksum, imageBegin uint32, imageLocation string, comp compiler.Compiler) *context {
	return &context{
		compiler:                     comp,
		dexFiles:                     dexFiles,
		imageFileLocation:            imageLocation,
		imageFileLocationOatChecksum: imageChecksum,
		imageFileLocationOatBegin:    imageBegin,
		codeDedup:                    newDedupTable(),
		mappingDedup:                 newDedupTable(),
		vmapDedup:                    newDedupTable(),
		gcMapDedup:                   newDedupTable(),
		crc:                          newChecksum(),
	}
}
