// Package simulate drives the assembler through a synthetic local workload:
// it plays the role a real multithreaded, multi-rank profiler would, so the
// sparsedb-assemble CLI has something concrete to assemble and report on.
package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/perftools/sparsedb-core/internal/assembler"
	"github.com/perftools/sparsedb-core/internal/cctdb"
	"github.com/perftools/sparsedb-core/internal/observability"
	"github.com/perftools/sparsedb-core/internal/profiledb"
	"github.com/perftools/sparsedb-core/pkg/config"
	"github.com/perftools/sparsedb-core/pkg/rankio"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

// sampleMetrics are the synthetic metric ids every simulated thread reports:
// 0 is a monotonic sample count, 1 a synthetic "cycles" counter.
const (
	metricSamples profiledb.MetricID = 0
	metricCycles  profiledb.MetricID = 1
)

// ThreadWorkload describes how much synthetic data one simulated thread
// should produce.
type ThreadWorkload struct {
	Contexts   int
	Timepoints int
}

// RankWorkload is one simulated rank's threads.
type RankWorkload struct {
	Threads []ThreadWorkload
}

// Uniform builds ranks identical workloads of threadsPerRank threads, each
// touching contexts distinct contexts and emitting timepoints trace samples.
func Uniform(ranks, threadsPerRank, contexts, timepoints int) []RankWorkload {
	workloads := make([]RankWorkload, ranks)

	for r := range workloads {
		threads := make([]ThreadWorkload, threadsPerRank)
		for t := range threads {
			threads[t] = ThreadWorkload{Contexts: contexts, Timepoints: timepoints}
		}

		workloads[r] = RankWorkload{Threads: threads}
	}

	return workloads
}

// FromManifest converts a schema-validated run manifest into per-rank
// workloads.
func FromManifest(m *config.RunManifest) []RankWorkload {
	workloads := make([]RankWorkload, len(m.Ranks))

	for r, rankSpec := range m.Ranks {
		threads := make([]ThreadWorkload, len(rankSpec.Threads))
		for t, threadSpec := range rankSpec.Threads {
			threads[t] = ThreadWorkload{Contexts: threadSpec.Contexts, Timepoints: threadSpec.Timepoints}
		}

		workloads[r] = RankWorkload{Threads: threads}
	}

	return workloads
}

// ContextCapacity returns the number of distinct context ids any single
// thread in workloads may draw from: the maximum per-thread context count
// across every rank and thread. The caller uses this to build a single
// rank-agnostic AllContextIDs set shared by every simulated rank, matching
// the collective requirement that every rank agree on the calling-context
// tree's shape before Write.
func ContextCapacity(workloads []RankWorkload) int {
	capacity := 1

	for _, rw := range workloads {
		for _, tw := range rw.Threads {
			if tw.Contexts > capacity {
				capacity = tw.Contexts
			}
		}
	}

	return capacity
}

// AllContextIDs builds the rank-agnostic set of context ids every simulated
// rank's cct.db transpose must agree on: 1..capacity. Function- and
// execution-scope values for a context share this one id — scope lives in
// the metric id (profiledb.FunctionScopeID/ExecutionScopeID), not in a
// second context node.
func AllContextIDs(capacity int) []cctdb.ContextID {
	ids := make([]cctdb.ContextID, 0, capacity)
	for i := 1; i <= capacity; i++ {
		ids = append(ids, cctdb.ContextID(i)) //nolint:gosec
	}

	return ids
}

// RankStats summarizes one rank's simulated contribution, for the CLI's
// post-run report.
type RankStats struct {
	Rank              int
	Threads           int
	ContextsTouched   int
	TimepointsEmitted int
}

// RunRank drives one rank's Assembler through ThreadStart, synthetic
// Timepoint/ThreadFinal calls, WavefrontComplete, and Write. Every rank in
// the cohort must call RunRank; Write's internal barriers block until they
// all do.
func RunRank(
	ctx context.Context,
	cohort rankio.Cohort,
	files assembler.Files,
	contextCapacity int,
	wl RankWorkload,
	groupSizeCapBytes uint64,
	bufferSizeBytes int,
	parseWorkers int,
	metrics *observability.AssemblerMetrics,
	seed uint64,
) (RankStats, error) {
	rng := rand.New(rand.NewPCG(seed, uint64(cohort.Rank())+1)) //nolint:gosec

	asm := assembler.New(assembler.Config{
		Cohort:            cohort,
		Files:             files,
		AllContextIDs:     AllContextIDs(contextCapacity),
		GroupSizeCapBytes: groupSizeCapBytes,
		BufferSizeBytes:   bufferSizeBytes,
		ParseWorkers:      parseWorkers,
		Resolver:          identityResolver,
		Metrics:           metrics,
	})

	stats := RankStats{Rank: cohort.Rank(), Threads: len(wl.Threads)}

	type liveThread struct {
		handle  assembler.ThreadHandle
		touched []int
	}

	live := make([]liveThread, len(wl.Threads))

	for i, tw := range wl.Threads {
		h, err := asm.ThreadStart(ctx, syntheticIDTuple(cohort.Rank(), i))
		if err != nil {
			return stats, fmt.Errorf("simulate: start thread %d: %w", i, err)
		}

		touched := pickContexts(rng, tw.Contexts, contextCapacity)

		for tp := 0; tp < tw.Timepoints; tp++ {
			ctxID := touched[rng.IntN(len(touched))]
			timestamp := uint64(tp) * 1000 //nolint:gosec

			if err := asm.Timepoint(ctx, h, timestamp, uint64(ctxID)); err != nil { //nolint:gosec
				return stats, fmt.Errorf("simulate: timepoint thread %d: %w", i, err)
			}
		}

		live[i] = liveThread{handle: h, touched: touched}
		stats.ContextsTouched += len(touched)
		stats.TimepointsEmitted += tw.Timepoints
	}

	if err := asm.WavefrontComplete(ctx); err != nil {
		return stats, fmt.Errorf("simulate: wavefront: %w", err)
	}

	for i, lt := range live {
		accum := syntheticAccumulators(rng, lt.touched, contextCapacity)
		if err := asm.ThreadFinal(ctx, lt.handle, accum); err != nil {
			return stats, fmt.Errorf("simulate: finalize thread %d: %w", i, err)
		}
	}

	if err := asm.Write(ctx); err != nil {
		return stats, fmt.Errorf("simulate: write: %w", err)
	}

	return stats, nil
}

func identityResolver(ref uint64) (uint32, error) { return uint32(ref), nil } //nolint:gosec

func syntheticIDTuple(rank, threadIdx int) []wire.IDTupleElem {
	return []wire.IDTupleElem{
		{Kind: 1, Physical: uint64(rank)}, //nolint:gosec
		{Kind: 2, Physical: uint64(threadIdx)}, //nolint:gosec
	}
}

// pickContexts draws n distinct context ids from
// [1, capacity].
func pickContexts(rng *rand.Rand, n, capacity int) []int {
	if n > capacity {
		n = capacity
	}

	pool := rng.Perm(capacity)
	picked := make([]int, n)

	for i := 0; i < n; i++ {
		picked[i] = pool[i] + 1
	}

	return picked
}

// syntheticAccumulators builds a thread's final per-context metric values.
// Every third touched context is marked a line scope to keep the
// function/execution duplication path exercised alongside the general one.
func syntheticAccumulators(rng *rand.Rand, touched []int, _ int) profiledb.Accumulators {
	accums := make(profiledb.Accumulators, 0, len(touched))

	for i, ctxID := range touched {
		isLine := i%3 == 0

		metrics := map[profiledb.MetricID]profiledb.ScopedValue{
			metricSamples: {HasFunction: true, Function: float64(1 + rng.IntN(100))},
			metricCycles:  {HasFunction: true, Function: rng.Float64() * 1e6},
		}

		if !isLine {
			// Non-line scopes independently contribute an execution-scope
			// value too, exercising the general two-scope-id emission path
			// alongside the line-scope duplication path above.
			for mid, sv := range metrics {
				sv.HasExecution = true
				sv.Execution = rng.Float64() * 1e6
				metrics[mid] = sv
			}
		}

		accums = append(accums, profiledb.ContextAccum{
			CtxID:       cctdb.ContextID(ctxID), //nolint:gosec
			IsLineScope: isLine,
			Metrics:     metrics,
		})
	}

	return accums
}
