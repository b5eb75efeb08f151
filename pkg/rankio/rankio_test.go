package rankio_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perftools/sparsedb-core/pkg/rankio"
)

func TestLocalCohort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := rankio.NewLocalCohort()

	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, uint64(5), c.AllreduceSum(ctx, 5))
	assert.Equal(t, uint64(0), c.Exscan(ctx, 5))
	assert.Equal(t, uint64(9), c.Broadcast(ctx, 0, 9))
	assert.Equal(t, []uint64{1, 2, 3}, c.BroadcastVec(ctx, 0, []uint64{1, 2, 3}))

	counter := c.NewSharedCounter(ctx, "t", 10)
	assert.Equal(t, uint64(10), counter.FetchAdd(ctx, 3))
	assert.Equal(t, uint64(13), counter.FetchAdd(ctx, 1))
}

func TestSimCohortAllreduceSum(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohorts := rankio.NewSimCohortGroup(4)

	var wg sync.WaitGroup

	results := make([]uint64, 4)

	for i, c := range cohorts {
		wg.Add(1)

		go func(rank int, c rankio.Cohort) {
			defer wg.Done()

			results[rank] = c.AllreduceSum(ctx, uint64(rank+1))
		}(i, c)
	}

	wg.Wait()

	for _, r := range results {
		assert.Equal(t, uint64(1+2+3+4), r)
	}
}

func TestSimCohortExscan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohorts := rankio.NewSimCohortGroup(3)

	var wg sync.WaitGroup

	results := make([]uint64, 3)
	local := []uint64{10, 20, 30}

	for i, c := range cohorts {
		wg.Add(1)

		go func(rank int, c rankio.Cohort) {
			defer wg.Done()

			results[rank] = c.Exscan(ctx, local[rank])
		}(i, c)
	}

	wg.Wait()

	assert.Equal(t, []uint64{0, 10, 30}, results)
}

func TestSimCohortBarrierAndSharedCounter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohorts := rankio.NewSimCohortGroup(4)

	var wg sync.WaitGroup

	claims := make([]uint64, 4)

	for i, c := range cohorts {
		wg.Add(1)

		go func(rank int, c rankio.Cohort) {
			defer wg.Done()

			c.Barrier(ctx)
			counter := c.NewSharedCounter(ctx, "work", 0)
			claims[rank] = counter.FetchAdd(ctx, 1)
		}(i, c)
	}

	wg.Wait()

	seen := make(map[uint64]bool, 4)
	for _, v := range claims {
		seen[v] = true
	}

	require.Len(t, seen, 4)
}

func TestSimCohortBroadcast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohorts := rankio.NewSimCohortGroup(3)

	var wg sync.WaitGroup

	results := make([]uint64, 3)

	for i, c := range cohorts {
		wg.Add(1)

		go func(rank int, c rankio.Cohort) {
			defer wg.Done()

			val := uint64(0)
			if rank == 0 {
				val = 777
			}

			results[rank] = c.Broadcast(ctx, 0, val)
		}(i, c)
	}

	wg.Wait()

	for _, r := range results {
		assert.Equal(t, uint64(777), r)
	}
}

func TestSimCohortBroadcastVec(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cohorts := rankio.NewSimCohortGroup(3)

	var wg sync.WaitGroup

	results := make([][]uint64, 3)

	for i, c := range cohorts {
		wg.Add(1)

		go func(rank int, c rankio.Cohort) {
			defer wg.Done()

			var vals []uint64
			if rank == 0 {
				vals = []uint64{4, 5, 6}
			}

			results[rank] = c.BroadcastVec(ctx, 0, vals)
		}(i, c)
	}

	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []uint64{4, 5, 6}, r)
	}
}
