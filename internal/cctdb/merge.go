package cctdb

import (
	"container/heap"
	"sort"

	"github.com/perftools/sparsedb-core/pkg/wire"
)

// heapEntry tracks one profile's remaining, metric-id-sorted pairs for the
// context currently being merged.
type heapEntry struct {
	profIndex uint32
	pairs     []wire.MVPair
	pos       int
}

// ctxHeap is a min-heap over the profiles contributing to one context,
// ordered by (metric id, profile index) so popping it in order yields
// cct.db's canonical per-context layout: values grouped by metric id, and
// within a metric id, ordered by ascending profile index.
type ctxHeap []*heapEntry

func (h ctxHeap) Len() int { return len(h) }

func (h ctxHeap) Less(i, j int) bool {
	a, b := h[i].pairs[h[i].pos], h[j].pairs[h[j].pos]
	if a.MetricID != b.MetricID {
		return a.MetricID < b.MetricID
	}

	return h[i].profIndex < h[j].profIndex
}

func (h ctxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *ctxHeap) Push(x any) { *h = append(*h, x.(*heapEntry)) } //nolint:forcetypeassert

func (h *ctxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// mergeContext gathers ctxID's values across every profile that touched it
// and produces cct.db's per-context transposed blob: vp-pairs grouped by
// metric id, followed by the mi-pairs table indexing into them, terminated
// by the LastMidEnd sentinel.
func mergeContext(ctxID ContextID, profiles []*LoadedProfile) (vp []wire.VPPair, mi []wire.MIPair) {
	h := &ctxHeap{}
	heap.Init(h)

	for _, p := range profiles {
		pairs := p.ValuesForContext(ctxID)
		if len(pairs) == 0 {
			continue
		}

		sorted := append([]wire.MVPair(nil), pairs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].MetricID < sorted[j].MetricID })

		heap.Push(h, &heapEntry{profIndex: p.ProfIndex, pairs: sorted})
	}

	var (
		idx        uint64
		curMetric  uint16
		haveMetric bool
	)

	for h.Len() > 0 {
		e := (*h)[0]
		pair := e.pairs[e.pos]

		if !haveMetric || pair.MetricID != curMetric {
			mi = append(mi, wire.MIPair{MetricID: pair.MetricID, StartOffset: idx})
			curMetric = pair.MetricID
			haveMetric = true
		}

		vp = append(vp, wire.VPPair{Value: pair.Value, ProfIndex: e.profIndex})
		idx++

		e.pos++
		if e.pos >= len(e.pairs) {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}

	mi = append(mi, wire.MIPair{MetricID: wire.LastMidEnd, StartOffset: idx})

	return vp, mi
}

// encodeContextBlob renders vp and mi as cct.db's on-disk bytes for one context.
func encodeContextBlob(vp []wire.VPPair, mi []wire.MIPair) []byte {
	buf := make([]byte, 0, len(vp)*wire.VPPairSize+len(mi)*wire.MIPairSize)

	for _, p := range vp {
		buf = p.Encode(buf)
	}

	for _, p := range mi {
		buf = p.Encode(buf)
	}

	return buf
}
