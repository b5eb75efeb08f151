package simulate_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perftools/sparsedb-core/internal/assembler"
	"github.com/perftools/sparsedb-core/internal/simulate"
	"github.com/perftools/sparsedb-core/pkg/config"
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

func TestUniformBuildsRectangularWorkloads(t *testing.T) {
	t.Parallel()

	workloads := simulate.Uniform(2, 3, 5, 10)
	require.Len(t, workloads, 2)

	for _, rw := range workloads {
		require.Len(t, rw.Threads, 3)

		for _, tw := range rw.Threads {
			assert.Equal(t, 5, tw.Contexts)
			assert.Equal(t, 10, tw.Timepoints)
		}
	}
}

func TestFromManifestConvertsRanksAndThreads(t *testing.T) {
	t.Parallel()

	manifest := &config.RunManifest{
		Ranks: []config.RankSpec{
			{Threads: []config.ThreadSpec{{Contexts: 4, Timepoints: 8}}},
		},
	}

	workloads := simulate.FromManifest(manifest)
	require.Len(t, workloads, 1)
	require.Len(t, workloads[0].Threads, 1)
	assert.Equal(t, 4, workloads[0].Threads[0].Contexts)
	assert.Equal(t, 8, workloads[0].Threads[0].Timepoints)
}

func TestRunRankSingleRankProducesReadableFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohort := rankio.NewLocalCohort()

	workloads := simulate.Uniform(1, 2, 4, 6)
	capacity := simulate.ContextCapacity(workloads)

	files := assembler.Files{Profile: &memFile{}, CCT: &memFile{}, Trace: &memFile{}}

	stats, err := simulate.RunRank(ctx, cohort, files, capacity, workloads[0], 1<<20, 0, 0, nil, 7)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Rank)
	assert.Equal(t, 2, stats.Threads)
	assert.Equal(t, 12, stats.TimepointsEmitted)

	hdrBuf := make([]byte, wire.ProfileDBHeaderSize)
	_, err = files.Profile.(interface{ ReadAt([]byte, int64) (int, error) }).ReadAt(hdrBuf, 0) //nolint:forcetypeassert
	require.NoError(t, err)

	hdr, err := wire.DecodeProfileDBHeader(hdrBuf)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), hdr.NumProfiles) // rank-0 summary + 2 threads
}
