// Package rankio abstracts the collective operations a rank needs to lay
// out a shared set of output files: barrier synchronization, reductions,
// exclusive prefix sums, broadcast, and a fetch-and-add shared counter.
// A real deployment would back [Cohort] with MPI or an equivalent
// collective transport; that transport is out of scope here (the core
// implements no network transport beyond these primitives) so this package
// ships only in-process implementations.
package rankio

import "context"

// Cohort is the set of collective operations one rank uses to coordinate
// with every other rank in the job while assembling the output files.
type Cohort interface {
	// Rank returns this process's rank index in [0, Size()).
	Rank() int

	// Size returns the total number of cooperating ranks.
	Size() int

	// Barrier blocks until every rank has called Barrier.
	Barrier(ctx context.Context)

	// AllreduceSum returns the sum of local across every rank, visible
	// identically to every rank.
	AllreduceSum(ctx context.Context, local uint64) uint64

	// AllreduceSumVec is the element-wise vector form of AllreduceSum.
	AllreduceSumVec(ctx context.Context, local []uint64) []uint64

	// Exscan returns this rank's exclusive prefix sum of local: the sum of
	// local from every rank with a smaller index.
	Exscan(ctx context.Context, local uint64) uint64

	// Broadcast returns the value root supplied, identically on every rank.
	Broadcast(ctx context.Context, root int, value uint64) uint64

	// BroadcastVec is the vector form of Broadcast: every rank gets root's
	// values slice back, identically. Used in place of one Broadcast per
	// element when a root is publishing many values at once (e.g. cct.db's
	// per-context metric-id counts), to collapse what would otherwise be one
	// collective round-trip per element into a single one.
	BroadcastVec(ctx context.Context, root int, values []uint64) []uint64

	// NewSharedCounter creates a counter shared by every rank in this
	// cohort, all instances created with the same tag referring to the
	// same counter. base is the counter's starting value, supplied by
	// whichever rank's call happens to initialize it first.
	NewSharedCounter(ctx context.Context, tag string, base uint64) SharedCounter
}

// SharedCounter is a distributed fetch-and-add counter used for dynamic
// work assignment: each rank calls FetchAdd to claim the next unit of work
// and advance the counter for everyone else.
type SharedCounter interface {
	// FetchAdd atomically adds n to the counter and returns its value
	// before the add.
	FetchAdd(ctx context.Context, n uint64) uint64
}
