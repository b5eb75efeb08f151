package cctdb

import (
	"context"
	"sort"

	"github.com/perftools/sparsedb-core/pkg/rankio"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

// LocalContextCounts is this rank's locally-observed contribution to each
// context: how many (value, metric-id) pairs this rank's profiles hold for
// it, and how many distinct metric ids appear across them.
type LocalContextCounts struct {
	NumVals   uint64
	NumNZMids uint16
}

// Offsets is the fully negotiated, file-wide layout of cct.db's context-data
// section: every rank computes the identical result from the same inputs.
type Offsets struct {
	CtxIDs []ContextID
	Infos  map[ContextID]wire.CtxInfo
}

// ComputeOffsets negotiates cct.db's per-context byte layout collectively.
// allCtxIDs is the complete, rank-agnostic set of context ids in the
// calling-context tree (every rank passes the same slice); local holds this
// rank's contribution for each id it has any data for.
//
// NumVals is summed across every rank via AllreduceSumVec, since a
// context's total value count is the union of every rank's contribution.
// NumNZMids is taken from rank 0 alone via a single BroadcastVec over every
// context at once, never summed across ranks: the original metric-id
// bucketing this mirrors only ever counted rank 0's view of which metric
// ids a context touches, an asymmetry kept rather than "fixed" into a true
// union. This count sizes each context's byte layout, and RunGroups fails
// with an error for any context whose merged blob differs from that size.
func ComputeOffsets(
	ctx context.Context,
	cohort rankio.Cohort,
	allCtxIDs []ContextID,
	local map[ContextID]LocalContextCounts,
) (Offsets, error) {
	sorted := append([]ContextID(nil), allCtxIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	localVals := make([]uint64, len(sorted))
	for i, id := range sorted {
		localVals[i] = local[id].NumVals
	}

	totalVals := cohort.AllreduceSumVec(ctx, localVals)

	localNZMids := make([]uint64, len(sorted))
	if cohort.Rank() == 0 {
		for i, id := range sorted {
			localNZMids[i] = uint64(local[id].NumNZMids)
		}
	}

	broadcastNZMids := cohort.BroadcastVec(ctx, 0, localNZMids)

	nzMids := make([]uint16, len(sorted))
	for i := range sorted {
		nzMids[i] = uint16(broadcastNZMids[i]) //nolint:gosec
	}

	sizes := make([]ctxSize, len(sorted))
	for i, id := range sorted {
		sizes[i] = ctxSize{id: id, numVals: totalVals[i], numNZMids: nzMids[i]}
	}

	infos := make(map[ContextID]wire.CtxInfo, len(sorted))

	var running uint64

	for _, s := range sizes {
		infos[s.id] = wire.CtxInfo{
			CtxID:     s.id,
			NumVals:   s.numVals,
			NumNZMids: s.numNZMids,
			Offset:    running,
		}
		running += s.byteSize()
	}

	return Offsets{CtxIDs: sorted, Infos: infos}, nil
}
