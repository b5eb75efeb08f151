package profiledb_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perftools/sparsedb-core/internal/outbuf"
	"github.com/perftools/sparsedb-core/internal/profiledb"
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

var _ io.WriterAt = (*memFile)(nil)

func TestWriterAddThreadAndFlush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohort := rankio.NewLocalCohort()
	w := profiledb.New(cohort)

	accums := profiledb.Accumulators{
		{CtxID: 1, Metrics: map[profiledb.MetricID]profiledb.ScopedValue{
			0: {HasFunction: true, Function: 1.5},
		}},
	}

	idTuple := []wire.IDTupleElem{{Kind: 1, Physical: 10, Logical: 0}}

	w.AddThread(profiledb.ThreadAttrs{ProfIndex: 7, IDTuple: idTuple}, accums)

	layout := w.NegotiateLayout(ctx, wire.ProfileDBHeaderSize)
	assert.Equal(t, uint32(1), layout.NumProfiles)
	assert.Equal(t, uint64(wire.ProfileDBHeaderSize), layout.ProfInfoSecPtr)
	assert.Equal(t, uint64(wire.ProfInfoSize), layout.ProfInfoSecSize)
	assert.Equal(t, wire.SizeofIDTuple(1), layout.IDTuplesSecSize)
	assert.Equal(t, layout.IDTuplesSecPtr+layout.IDTuplesSecSize, layout.DataSecPtr)

	file := &memFile{}
	dataOut := outbuf.New(file, cohort.NewSharedCounter(ctx, "data", layout.DataSecPtr), 4096)
	idOut := outbuf.New(file, cohort.NewSharedCounter(ctx, "idtuples", layout.IDTuplesSecPtr), 4096)

	infos, err := w.Flush(ctx, dataOut, idOut)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	info := infos[0]
	assert.Equal(t, uint64(1), info.NumVals)
	assert.Equal(t, uint32(1), info.NumNZCtxs)
	assert.Equal(t, layout.DataSecPtr, info.Offset)
	assert.Equal(t, layout.IDTuplesSecPtr, info.IDTuplePtr)
}

func TestWriterAddSummaryRejectsNonRankZero(t *testing.T) {
	t.Parallel()

	cohorts := rankio.NewSimCohortGroup(2)

	w := profiledb.New(cohorts[1])
	err := w.AddSummary(profiledb.Accumulators{})
	assert.Error(t, err)
}

func TestWriterNegotiateLayoutAcrossRanks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohorts := rankio.NewSimCohortGroup(2)

	writers := make([]*profiledb.Writer, 2)
	for i, c := range cohorts {
		writers[i] = profiledb.New(c)
	}

	idTuple := []wire.IDTupleElem{{Kind: 1, Physical: 1, Logical: 0}}

	writers[0].AddThread(profiledb.ThreadAttrs{ProfIndex: 1, IDTuple: idTuple},
		profiledb.Accumulators{{CtxID: 1, Metrics: map[profiledb.MetricID]profiledb.ScopedValue{
			0: {HasFunction: true, Function: 1},
		}}})
	writers[1].AddThread(profiledb.ThreadAttrs{ProfIndex: 2, IDTuple: idTuple},
		profiledb.Accumulators{{CtxID: 1, Metrics: map[profiledb.MetricID]profiledb.ScopedValue{
			0: {HasFunction: true, Function: 2},
		}}})

	var wg sync.WaitGroup

	layouts := make([]profiledb.Layout, 2)

	for i := range 2 {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			layouts[i] = writers[i].NegotiateLayout(ctx, wire.ProfileDBHeaderSize)
		}(i)
	}

	wg.Wait()

	assert.Equal(t, layouts[0].Header(), layouts[1].Header())
	assert.Equal(t, layouts[0].DataSecPtr, layouts[1].DataSecPtr)
	assert.Equal(t, uint32(2), layouts[0].NumProfiles)
	assert.NotEqual(t, layouts[0].MyProfileBase, layouts[1].MyProfileBase)
}
