package cctdb

import "github.com/perftools/sparsedb-core/pkg/wire"

// Group is a contiguous run of context ids processed together by one
// rank's merge pass, small enough that its gathered vp-pairs comfortably
// fit in memory at once.
type Group struct {
	CtxIDs []ContextID
}

// PlanGroups partitions offsets' contexts, in ascending id order, into
// contiguous groups whose total byte size never exceeds capBytes (a single
// context larger than capBytes still gets its own, oversized group rather
// than being split). capBytes is typically a fraction of a configured
// ceiling divided across the ranks that will process groups concurrently,
// so that no single rank's working set dominates memory.
func PlanGroups(offsets Offsets, capBytes uint64) []Group {
	if capBytes == 0 {
		capBytes = 1
	}

	var groups []Group

	var cur []ContextID

	var curSize uint64

	flush := func() {
		if len(cur) > 0 {
			groups = append(groups, Group{CtxIDs: cur})
			cur = nil
			curSize = 0
		}
	}

	for _, id := range offsets.CtxIDs {
		info := offsets.Infos[id]
		size := info.NumVals*wire.VPPairSize + (uint64(info.NumNZMids)+1)*wire.MIPairSize

		if len(cur) > 0 && curSize+size > capBytes {
			flush()
		}

		cur = append(cur, id)
		curSize += size
	}

	flush()

	return groups
}
