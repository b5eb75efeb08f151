// Package cctdb implements the transpose engine that turns profile.db's
// per-profile sparse metric blobs into cct.db's per-context transposed
// blobs: every context's (value, profile-index) pairs gathered from across
// every profile that touched it, bucketed by metric id.
package cctdb

import (
	"sort"

	"github.com/perftools/sparsedb-core/pkg/wire"
)

// ContextID identifies a node in the calling-context tree.
type ContextID = uint32

// LoadedProfile is one profile's parsed profile.db contribution: its
// ci-pairs (sorted ascending by context id, sentinel stripped) and the
// mv-pairs they index into.
type LoadedProfile struct {
	ProfIndex uint32
	CIPairs   []wire.CIPair
	MVPairs   []wire.MVPair
}

// ValuesForContext returns ctxID's (value, metric-id) pairs within this
// profile, or nil if the profile never touched that context. CIPairs must
// be sorted ascending for the binary search to be valid.
func (p *LoadedProfile) ValuesForContext(ctxID ContextID) []wire.MVPair {
	i := sort.Search(len(p.CIPairs), func(i int) bool { return p.CIPairs[i].CtxID >= ctxID })
	if i >= len(p.CIPairs) || p.CIPairs[i].CtxID != ctxID {
		return nil
	}

	start := p.CIPairs[i].Index

	var end uint64
	if i+1 < len(p.CIPairs) {
		end = p.CIPairs[i+1].Index
	} else {
		end = uint64(len(p.MVPairs)) //nolint:gosec
	}

	return p.MVPairs[start:end]
}

// ctxSize is one context's contribution to cct.db's context-data section,
// computed once its global value and metric-id counts are known.
type ctxSize struct {
	id        ContextID
	numVals   uint64
	numNZMids uint16
}

func (s ctxSize) byteSize() uint64 {
	return s.numVals*wire.VPPairSize + (uint64(s.numNZMids)+1)*wire.MIPairSize
}
