// Package assembler is the public facade tying together the byte codec,
// collective allocator, double-buffered output, sparse-metric formatter,
// transpose engine, and trace writer into the three files one profiling
// run produces: profile.db, cct.db, and trace.db.
package assembler

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/perftools/sparsedb-core/internal/cctdb"
	"github.com/perftools/sparsedb-core/internal/observability"
	"github.com/perftools/sparsedb-core/internal/outbuf"
	"github.com/perftools/sparsedb-core/internal/profiledb"
	"github.com/perftools/sparsedb-core/internal/tracedb"
	"github.com/perftools/sparsedb-core/pkg/rankio"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

// ThreadHandle identifies one thread registered with ThreadStart, scoped to
// this rank's process.
type ThreadHandle int

// Sink is the interface a measurement subsystem drives the assembler
// through: one ThreadStart/ThreadFinal pair per monitored thread, any
// number of Timepoint/Rewind calls in between if the thread is traced, and
// a single WavefrontComplete once the calling-context tree's static shape
// is known, followed by one Write call collectively across the cohort.
type Sink interface {
	ThreadStart(ctx context.Context, idTuple []wire.IDTupleElem) (ThreadHandle, error)
	WavefrontComplete(ctx context.Context) error
	ThreadFinal(ctx context.Context, h ThreadHandle, accums profiledb.Accumulators) error
	Timepoint(ctx context.Context, h ThreadHandle, timestampNanos uint64, ref tracedb.ContextRef) error
	Rewind(ctx context.Context, h ThreadHandle, toCount int) error
	Write(ctx context.Context) error
}

// Files is the trio of output files one assembly run produces.
type Files struct {
	Profile io.WriterAt
	CCT     io.WriterAt
	Trace   io.WriterAt
}

// Config parameterizes an Assembler.
type Config struct {
	Cohort rankio.Cohort
	Files  Files

	// AllContextIDs is the complete, rank-agnostic set of context ids in
	// the calling-context tree, known once WavefrontComplete fires.
	AllContextIDs []cctdb.ContextID

	// GroupSizeCapBytes bounds how many bytes of transposed context data
	// one cctdb merge group may hold; see cctdb.PlanGroups.
	GroupSizeCapBytes uint64

	// BufferSizeBytes sizes each output file's double buffer.
	BufferSizeBytes int

	// ParseWorkers bounds how many goroutines cctdb.ParseProfiles uses to
	// decode profile.db's data blocks back into memory; 0 picks GOMAXPROCS.
	ParseWorkers int

	// Resolver turns a tracedb.ContextRef into the context id a trace
	// sample records.
	Resolver tracedb.Resolver

	// Metrics, if non-nil, records byte and flush counters as the
	// assembler writes.
	Metrics *observability.AssemblerMetrics
}

type threadState struct {
	idTuple   []wire.IDTupleElem
	profIndex uint32
	accum     profiledb.Accumulators
	trace     *tracedb.ThreadTrace
}

var _ Sink = (*Assembler)(nil)

// Assembler implements Sink.
type Assembler struct {
	cfg Config

	mu            sync.Mutex
	threads       map[ThreadHandle]*threadState
	nextHandle    ThreadHandle
	wavefrontDone bool
}

// New creates an Assembler from cfg.
func New(cfg Config) *Assembler {
	if cfg.BufferSizeBytes <= 0 {
		cfg.BufferSizeBytes = 64 << 20
	}

	return &Assembler{cfg: cfg, threads: make(map[ThreadHandle]*threadState)}
}

// ThreadStart registers a new thread and assigns it a profile index unique
// across the whole cohort: rank*1,000,000 plus the rank-local thread count
// plus one, so no cross-rank coordination is needed until Write. Index 0 is
// reserved for the rank-0 summary profile, so real threads start at 1.
func (a *Assembler) ThreadStart(_ context.Context, idTuple []wire.IDTupleElem) (ThreadHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	localIdx := uint32(len(a.threads)) //nolint:gosec
	profIndex := uint32(a.cfg.Cohort.Rank())*1_000_000 + localIdx + 1 //nolint:gosec

	h := a.nextHandle
	a.nextHandle++

	a.threads[h] = &threadState{
		idTuple:   idTuple,
		profIndex: profIndex,
		trace:     tracedb.NewThreadTrace(a.cfg.Resolver),
	}

	return h, nil
}

// WavefrontComplete marks that every rank has observed enough samples to
// know the calling-context tree's final shape; values accumulated after
// this point only ever add to existing contexts, never introduce new ones.
// It is a cohort-wide barrier: no rank proceeds to Write data for a
// context the others haven't learned about yet.
func (a *Assembler) WavefrontComplete(ctx context.Context) error {
	a.cfg.Cohort.Barrier(ctx)

	a.mu.Lock()
	a.wavefrontDone = true
	a.mu.Unlock()

	return nil
}

// ThreadFinal records a thread's final accumulated metric values.
func (a *Assembler) ThreadFinal(_ context.Context, h ThreadHandle, accums profiledb.Accumulators) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts, ok := a.threads[h]
	if !ok {
		return fmt.Errorf("assembler: unknown thread handle %d", h)
	}

	ts.accum = accums

	return nil
}

// Timepoint records one traced sample for thread h.
func (a *Assembler) Timepoint(_ context.Context, h ThreadHandle, timestampNanos uint64, ref tracedb.ContextRef) error {
	a.mu.Lock()
	ts, ok := a.threads[h]
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("assembler: unknown thread handle %d", h)
	}

	return ts.trace.Timepoint(timestampNanos, ref)
}

// Rewind discards thread h's trace samples after toCount.
func (a *Assembler) Rewind(_ context.Context, h ThreadHandle, toCount int) error {
	a.mu.Lock()
	ts, ok := a.threads[h]
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("assembler: unknown thread handle %d", h)
	}

	ts.trace.Rewind(toCount)

	return nil
}
