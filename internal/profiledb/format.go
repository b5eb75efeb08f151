package profiledb

import (
	"slices"

	"github.com/perftools/sparsedb-core/pkg/wire"
)

// Format turns one profile's accumulated values into profile.db's per-profile
// data block: every context's (value, metric-id) pairs, followed by the
// (context-id, running-index) pairs that index into them, terminated by the
// LastNodeEnd sentinel. Returns the encoded block plus the NumVals and
// NumNZCtxs a ProfInfo record must carry for it.
//
// For each accumulated context, every base metric contributes a pair under
// its execution-scope id and, independently, a pair under its
// function-scope id — except when the context's flat scope is a line
// scope, in which case the function-scope value is duplicated verbatim
// under *both* scope ids rather than the execution scope contributing its
// own value: the profiler cannot distinguish "executing this line" from
// "executing this function" at line granularity, so both scope ids must
// read the same sample. Both pairs land in the same context's block; scope
// is carried entirely by the metric id (FunctionScopeID/ExecutionScopeID),
// never by a second context node. A context that ends up contributing no
// pairs at all never gets a ci-pair for it.
func Format(accums Accumulators) (data []byte, numVals uint64, numNZCtxs uint32) {
	buckets := buildBuckets(accums)

	ctxIDs := make([]ContextID, 0, len(buckets))
	for id, pairs := range buckets {
		if len(pairs) == 0 {
			continue
		}

		ctxIDs = append(ctxIDs, id)
	}

	slices.Sort(ctxIDs)

	var mv, ci []byte

	var runningIdx uint64

	for _, id := range ctxIDs {
		ci = wire.CIPair{CtxID: id, Index: runningIdx}.Encode(ci)

		for _, p := range buckets[id] {
			mv = p.Encode(mv)
			runningIdx++
		}
	}

	ci = wire.CIPair{CtxID: wire.LastNodeEnd, Index: runningIdx}.Encode(ci)

	data = append(mv, ci...)
	numVals = runningIdx
	numNZCtxs = uint32(len(ctxIDs))

	return data, numVals, numNZCtxs
}

// buildBuckets applies the line-scope duplication and independent-scope
// emission rules described above, grouping the resulting (value, metric-id)
// pairs by the context id they land under. Every pair for one ContextAccum
// lands in that accum's single CtxID bucket; FunctionScopeID/
// ExecutionScopeID distinguish the two scopes within it.
func buildBuckets(accums Accumulators) map[ContextID][]wire.MVPair {
	buckets := make(map[ContextID][]wire.MVPair)

	for _, ca := range accums {
		mids := make([]MetricID, 0, len(ca.Metrics))
		for mid := range ca.Metrics {
			mids = append(mids, mid)
		}

		slices.Sort(mids)

		for _, mid := range mids {
			sv := ca.Metrics[mid]

			if ca.IsLineScope {
				if !sv.HasFunction {
					continue
				}

				buckets[ca.CtxID] = append(buckets[ca.CtxID],
					wire.MVPair{Value: sv.Function, MetricID: FunctionScopeID(mid)},
					wire.MVPair{Value: sv.Function, MetricID: ExecutionScopeID(mid)})

				continue
			}

			if sv.HasFunction {
				buckets[ca.CtxID] = append(buckets[ca.CtxID],
					wire.MVPair{Value: sv.Function, MetricID: FunctionScopeID(mid)})
			}

			if sv.HasExecution {
				buckets[ca.CtxID] = append(buckets[ca.CtxID],
					wire.MVPair{Value: sv.Execution, MetricID: ExecutionScopeID(mid)})
			}
		}
	}

	return buckets
}

// ContextCount is one context's local contribution to cct.db's layout
// negotiation: how many values this rank holds for it, and how many
// distinct metric ids appear among them.
type ContextCount struct {
	NumVals   uint64
	NumNZMids uint16
}

// ContextCounts summarizes accums' per-context contribution for feeding
// into cctdb.ComputeOffsets, without re-encoding any bytes.
func ContextCounts(accums Accumulators) map[ContextID]ContextCount {
	buckets := buildBuckets(accums)

	counts := make(map[ContextID]ContextCount, len(buckets))

	for id, pairs := range buckets {
		if len(pairs) == 0 {
			continue
		}

		mids := make(map[MetricID]struct{})
		for _, p := range pairs {
			mids[p.MetricID] = struct{}{}
		}

		counts[id] = ContextCount{NumVals: uint64(len(pairs)), NumNZMids: uint16(len(mids))} //nolint:gosec
	}

	return counts
}
