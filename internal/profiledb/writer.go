package profiledb

import (
	"context"
	"fmt"

	"github.com/perftools/sparsedb-core/internal/outbuf"
	"github.com/perftools/sparsedb-core/pkg/rankio"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

// stagedProfile is one profile formatted in memory, waiting for the
// cohort-wide layout negotiation that determines where its bytes ultimately
// land in the file.
type stagedProfile struct {
	profIndex  uint32
	idTuple    []wire.IDTupleElem
	data       []byte
	numVals    uint64
	numNZCtxs  uint32
}

// Writer formats each local thread's accumulated values in memory, then
// negotiates profile.db's section layout with the rest of the cohort
// before writing anything to disk — the data and id-tuple sections can
// only be positioned once every rank's total byte counts are known.
type Writer struct {
	cohort rankio.Cohort

	staged []stagedProfile
}

// New creates an empty Writer.
func New(cohort rankio.Cohort) *Writer {
	return &Writer{cohort: cohort}
}

// AddThread formats one thread's accumulated values and stages it for
// writing.
func (w *Writer) AddThread(attrs ThreadAttrs, accums Accumulators) {
	w.stage(attrs.ProfIndex, attrs.IDTuple, accums)
}

// AddSummary formats the rank-0 summary profile's pre-aggregated values
// (the caller combines every thread's accumulators under whatever
// statistic the metric defines) under the reserved summary index. Only
// rank 0 may call this.
func (w *Writer) AddSummary(accums Accumulators) error {
	if w.cohort.Rank() != 0 {
		return fmt.Errorf("profiledb: AddSummary called on rank %d, want rank 0", w.cohort.Rank())
	}

	w.stage(SummaryProfileIndex, nil, accums)

	return nil
}

func (w *Writer) stage(profIndex uint32, idTuple []wire.IDTupleElem, accums Accumulators) {
	data, numVals, numNZCtxs := Format(accums)

	w.staged = append(w.staged, stagedProfile{
		profIndex: profIndex,
		idTuple:   idTuple,
		data:      data,
		numVals:   numVals,
		numNZCtxs: numNZCtxs,
	})
}

// Layout is profile.db's negotiated, file-wide section layout.
type Layout struct {
	NumProfiles     uint32
	ProfInfoSecPtr  uint64
	ProfInfoSecSize uint64
	IDTuplesSecPtr  uint64
	IDTuplesSecSize uint64
	DataSecPtr      uint64

	MyProfileBase uint64
	MyIDTupleBase uint64
}

// Header renders l as a ProfileDBHeader. The data section has no fixed
// size recorded in the header; it runs from DataSecPtr to the footer.
func (l Layout) Header() wire.ProfileDBHeader {
	return wire.ProfileDBHeader{
		NumProfiles:     l.NumProfiles,
		ProfInfoSecPtr:  l.ProfInfoSecPtr,
		ProfInfoSecSize: l.ProfInfoSecSize,
		IDTuplesSecPtr:  l.IDTuplesSecPtr,
		IDTuplesSecSize: l.IDTuplesSecSize,
	}
}

// LocalDataBytes returns the total size, in bytes, of every staged
// profile's data block on this rank.
func (w *Writer) LocalDataBytes() uint64 {
	var total uint64
	for _, p := range w.staged {
		total += uint64(len(p.data))
	}

	return total
}

// NegotiateLayout computes profile.db's section layout collectively from
// every rank's staged profiles: the total profile count and total id-tuple
// byte size, an exclusive prefix sum locating this rank's own prof-info
// rows within the shared prof-info section, and another locating this
// rank's id-tuple bytes within the shared id-tuples section.
func (w *Writer) NegotiateLayout(ctx context.Context, headerSize uint64) Layout {
	localProfiles := uint64(len(w.staged))

	var localIDTupleBytes uint64
	for _, p := range w.staged {
		localIDTupleBytes += wire.SizeofIDTuple(len(p.idTuple))
	}

	totalProfiles := w.cohort.AllreduceSum(ctx, localProfiles)
	totalIDTupleBytes := w.cohort.AllreduceSum(ctx, localIDTupleBytes)
	myProfileBase := w.cohort.Exscan(ctx, localProfiles)
	myIDTupleBase := w.cohort.Exscan(ctx, localIDTupleBytes)

	profInfoSecPtr := headerSize
	profInfoSecSize := totalProfiles * wire.ProfInfoSize
	idTuplesSecPtr := profInfoSecPtr + profInfoSecSize
	dataSecPtr := idTuplesSecPtr + totalIDTupleBytes

	return Layout{
		NumProfiles:     uint32(totalProfiles), //nolint:gosec
		ProfInfoSecPtr:  profInfoSecPtr,
		ProfInfoSecSize: profInfoSecSize,
		IDTuplesSecPtr:  idTuplesSecPtr,
		IDTuplesSecSize: totalIDTupleBytes,
		DataSecPtr:      dataSecPtr,
		MyProfileBase:   myProfileBase,
		MyIDTupleBase:   myIDTupleBase,
	}
}

// Flush writes every staged profile's data and id-tuple bytes through
// dataOut/idTupleOut (which callers must construct with SharedCounters
// based at layout.DataSecPtr and layout.IDTuplesSecPtr respectively) and
// returns each profile's fully-resolved ProfInfo record, in staging order.
func (w *Writer) Flush(ctx context.Context, dataOut, idTupleOut *outbuf.DoubleBuffer) ([]wire.ProfInfo, error) {
	type resolved struct {
		info    wire.ProfInfo
		dataRef *outbuf.PatchRef
		idRef   *outbuf.PatchRef
	}

	results := make([]resolved, len(w.staged))

	for i, p := range w.staged {
		dataRef, err := dataOut.Append(ctx, p.data)
		if err != nil {
			return nil, fmt.Errorf("profiledb: append data block for profile %d: %w", p.profIndex, err)
		}

		buf := wire.EncodeIDTuple(make([]byte, 0, wire.SizeofIDTuple(len(p.idTuple))), p.idTuple)

		idRef, err := idTupleOut.Append(ctx, buf)
		if err != nil {
			return nil, fmt.Errorf("profiledb: append id-tuple for profile %d: %w", p.profIndex, err)
		}

		results[i] = resolved{
			info: wire.ProfInfo{
				NumVals:   p.numVals,
				NumNZCtxs: p.numNZCtxs,
			},
			dataRef: dataRef,
			idRef:   idRef,
		}
	}

	if err := dataOut.Flush(ctx); err != nil {
		return nil, fmt.Errorf("profiledb: flush data buffer: %w", err)
	}

	if err := idTupleOut.Flush(ctx); err != nil {
		return nil, fmt.Errorf("profiledb: flush id-tuple buffer: %w", err)
	}

	infos := make([]wire.ProfInfo, len(results))

	for i, r := range results {
		info := r.info
		info.Offset = r.dataRef.MustOffset()
		info.IDTuplePtr = r.idRef.MustOffset()
		infos[i] = info
	}

	return infos, nil
}
