package assembler_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perftools/sparsedb-core/internal/assembler"
	"github.com/perftools/sparsedb-core/internal/cctdb"
	"github.com/perftools/sparsedb-core/internal/profiledb"
	"github.com/perftools/sparsedb-core/internal/tracedb"
	"github.com/perftools/sparsedb-core/pkg/rankio"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	end := int(off) + len(p)
	if end > len(f.data) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}

	copy(f.data[off:], p)

	return len(p), nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if int(off) >= len(f.data) {
		return 0, nil
	}

	n := copy(p, f.data[off:])

	return n, nil
}

func newFiles() assembler.Files {
	return assembler.Files{Profile: &memFile{}, CCT: &memFile{}, Trace: &memFile{}}
}

func identityResolver(ref tracedb.ContextRef) (uint32, error) { return uint32(ref), nil } //nolint:gosec

func TestAssemblerSingleRankEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohort := rankio.NewLocalCohort()

	files := newFiles()

	a := assembler.New(assembler.Config{
		Cohort:            cohort,
		Files:             files,
		AllContextIDs:     []cctdb.ContextID{1, 2},
		GroupSizeCapBytes: 1 << 20,
		Resolver:          identityResolver,
	})

	h, err := a.ThreadStart(ctx, []wire.IDTupleElem{{Kind: 1, Physical: 42}})
	require.NoError(t, err)

	require.NoError(t, a.Timepoint(ctx, h, 100, 1))
	require.NoError(t, a.Timepoint(ctx, h, 200, 2))

	require.NoError(t, a.WavefrontComplete(ctx))

	accum := profiledb.Accumulators{
		{CtxID: 1, Metrics: map[profiledb.MetricID]profiledb.ScopedValue{
			0: {HasFunction: true, Function: 5},
		}},
		{CtxID: 2, Metrics: map[profiledb.MetricID]profiledb.ScopedValue{
			0: {HasFunction: true, Function: 7},
		}},
	}
	require.NoError(t, a.ThreadFinal(ctx, h, accum))

	require.NoError(t, a.Write(ctx))

	profileBytes := files.Profile.(interface{ ReadAt([]byte, int64) (int, error) }) //nolint:forcetypeassert
	hdrBuf := make([]byte, wire.ProfileDBHeaderSize)
	_, err = profileBytes.ReadAt(hdrBuf, 0)
	require.NoError(t, err)

	hdr, err := wire.DecodeProfileDBHeader(hdrBuf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), hdr.NumProfiles) // rank-0 summary + the one thread

	cctBytes := files.CCT.(interface{ ReadAt([]byte, int64) (int, error) }) //nolint:forcetypeassert
	cctHdrBuf := make([]byte, wire.CCTDBHeaderSize)
	_, err = cctBytes.ReadAt(cctHdrBuf, 0)
	require.NoError(t, err)

	cctHdr, err := wire.DecodeCCTDBHeader(cctHdrBuf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cctHdr.NumCtxs)

	traceBytes := files.Trace.(interface{ ReadAt([]byte, int64) (int, error) }) //nolint:forcetypeassert
	traceHdrBuf := make([]byte, wire.TraceFileHeaderSize)
	_, err = traceBytes.ReadAt(traceHdrBuf, 0)
	require.NoError(t, err)

	traceHdr, err := wire.DecodeTraceFileHeader(traceHdrBuf)
	require.NoError(t, err)
	assert.Equal(t, uint64(wire.TraceFileHeaderSize), traceHdr.PCtxTraces)
}

func TestAssemblerWriteRequiresWavefrontComplete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := assembler.New(assembler.Config{
		Cohort:        rankio.NewLocalCohort(),
		Files:         newFiles(),
		AllContextIDs: nil,
		Resolver:      identityResolver,
	})

	assert.Error(t, a.Write(ctx))
}

func TestAssemblerRejectsUnknownThreadHandle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := assembler.New(assembler.Config{
		Cohort:   rankio.NewLocalCohort(),
		Files:    newFiles(),
		Resolver: identityResolver,
	})

	assert.Error(t, a.ThreadFinal(ctx, 99, nil))
	assert.Error(t, a.Timepoint(ctx, 99, 0, 0))
	assert.Error(t, a.Rewind(ctx, 99, 0))
}
