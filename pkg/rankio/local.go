package rankio

import (
	"context"
	"sync/atomic"
)

// LocalCohort is the degenerate single-rank Cohort: rank 0 of size 1.
// Every collective operation is a local no-op, used by the CLI's
// single-process mode and by unit tests that don't need multi-rank
// coordination.
type LocalCohort struct{}

// NewLocalCohort creates a single-rank Cohort.
func NewLocalCohort() *LocalCohort { return &LocalCohort{} }

func (*LocalCohort) Rank() int { return 0 }
func (*LocalCohort) Size() int { return 1 }

func (*LocalCohort) Barrier(context.Context) {}

func (*LocalCohort) AllreduceSum(_ context.Context, local uint64) uint64 { return local }

func (*LocalCohort) AllreduceSumVec(_ context.Context, local []uint64) []uint64 {
	out := make([]uint64, len(local))
	copy(out, local)

	return out
}

func (*LocalCohort) Exscan(context.Context, uint64) uint64 { return 0 }

func (*LocalCohort) Broadcast(_ context.Context, _ int, value uint64) uint64 { return value }

func (*LocalCohort) BroadcastVec(_ context.Context, _ int, values []uint64) []uint64 {
	out := make([]uint64, len(values))
	copy(out, values)

	return out
}

func (*LocalCohort) NewSharedCounter(_ context.Context, _ string, base uint64) SharedCounter {
	c := &localCounter{}
	c.value.Store(base)

	return c
}

type localCounter struct {
	value atomic.Uint64
}

func (c *localCounter) FetchAdd(_ context.Context, n uint64) uint64 {
	return c.value.Add(n) - n
}
