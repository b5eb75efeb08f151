package tracedb_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perftools/sparsedb-core/internal/outbuf"
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

func (f *memFile) snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, len(f.data))
	copy(out, f.data)

	return out
}

var _ io.WriterAt = (*memFile)(nil)

func TestThreadTraceResolvesCachesAndRewinds(t *testing.T) {
	t.Parallel()

	calls := 0
	resolver := func(ref tracedb.ContextRef) (uint32, error) {
		calls++

		return uint32(ref) * 10, nil //nolint:gosec
	}

	tt := tracedb.NewThreadTrace(resolver)

	require.NoError(t, tt.Timepoint(1, 5))
	require.NoError(t, tt.Timepoint(2, 5)) // cache hit, no resolver call
	require.NoError(t, tt.Timepoint(3, 7)) // cache miss

	assert.Equal(t, 2, calls)
	assert.Equal(t, 3, tt.Count())

	tt.Rewind(1)
	assert.Equal(t, 1, tt.Count())

	minTS, maxTS, ok := tt.MinMaxTimestamp()
	require.True(t, ok)
	assert.Equal(t, uint64(1), minTS)
	assert.Equal(t, uint64(1), maxTS)
}

func TestWriterFinalizeThreadAndFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohort := rankio.NewLocalCohort()

	const fileHeaderSize = uint64(wire.TraceFileHeaderSize)

	layout := tracedb.NegotiateLayout(ctx, cohort, 1, fileHeaderSize)
	assert.Equal(t, uint64(1), layout.TotalThreads)

	dataSecPtr := layout.HeaderSecPtr + layout.TotalThreads*wire.TraceHeaderSize
	file := &memFile{}
	out := outbuf.New(file, cohort.NewSharedCounter(ctx, "samples", dataSecPtr), 4096)

	w := tracedb.NewWriter(cohort, file, out, layout)

	tt := tracedb.NewThreadTrace(func(ref tracedb.ContextRef) (uint32, error) { return uint32(ref), nil }) //nolint:gosec
	require.NoError(t, tt.Timepoint(100, 1))
	require.NoError(t, tt.Timepoint(200, 2))

	require.NoError(t, w.FinalizeThread(ctx, 9, tt))
	require.NoError(t, w.Finalize(ctx, layout, fileHeaderSize))

	snap := file.snapshot()

	fileHdr, err := wire.DecodeTraceFileHeader(snap)
	require.NoError(t, err)
	assert.Equal(t, fileHeaderSize, fileHdr.PCtxTraces)

	secHdr, err := wire.DecodeTraceSectionHeader(snap[fileHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, uint32(1), secHdr.NTraces)
	assert.Equal(t, uint64(100), secHdr.MinTimestamp)
	assert.Equal(t, uint64(200), secHdr.MaxTimestamp)

	hdr, err := wire.DecodeTraceHeader(snap[layout.HeaderSecPtr:])
	require.NoError(t, err)
	assert.Equal(t, uint32(9), hdr.ProfIndex)
	assert.Equal(t, dataSecPtr, hdr.PStart)
	assert.Equal(t, dataSecPtr+2*wire.TraceSampleSize, hdr.PEnd)

	s0, err := wire.DecodeTraceSample(snap[hdr.PStart:])
	require.NoError(t, err)
	assert.Equal(t, uint64(100), s0.TimestampNanos)
	assert.Equal(t, uint32(1), s0.CtxID)

	footerOffset := dataSecPtr + 2*wire.TraceSampleSize
	assert.Equal(t, wire.TraceDBFooterMagic[:], snap[footerOffset:footerOffset+wire.FooterSize])
}
