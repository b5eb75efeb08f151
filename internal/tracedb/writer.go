package tracedb

import (
	"context"
	"fmt"
	"io"

	"github.com/perftools/sparsedb-core/internal/outbuf"
	"github.com/perftools/sparsedb-core/pkg/rankio"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

// Writer coordinates trace.db's layout across the cohort and appends each
// local thread's sample blob as soon as it finishes, writing that thread's
// trace-header record immediately rather than deferring it — unlike
// profile.db's ProfInfo records, which all wait for profiledb's Writer.Flush, a
// thread's header only needs its own blob's offset, known the instant that
// blob's buffer flushes.
type Writer struct {
	cohort rankio.Cohort
	file   io.WriterAt
	out    *outbuf.DoubleBuffer

	headerSecPtr uint64
	myHeaderBase uint64
	localIdx     uint64

	localBytesWritten uint64
	sawTimestamps     bool
	localMinTS        uint64
	localMaxTS        uint64
}

// Layout is trace.db's negotiated, file-wide section layout.
type Layout struct {
	HeaderSecPtr uint64
	TotalThreads uint64
	MyHeaderBase uint64
}

// NegotiateLayout assigns this rank's threads a contiguous run of header
// slots via an exclusive prefix sum over each rank's local thread count.
// This is a deliberate reduction from the original's calcStartEnd/assignHdrs,
// which also reserves each thread's [pStart, pEnd) byte window in the
// sample-blob section ahead of time. Here only the header slots are
// reserved; each thread's sample blob itself is appended through
// outbuf.DoubleBuffer's shared counter, and FinalizeThread reads back
// whatever offset that append actually landed at rather than writing into a
// pre-reserved window. That's safe because a thread's Rewind is resolved
// in memory before its one append — there is never a second writer racing
// to reclaim discarded bytes the way a pre-reserved window would need to
// tolerate.
func NegotiateLayout(ctx context.Context, cohort rankio.Cohort, localThreadCount int, fileHeaderSize uint64) Layout {
	total := cohort.AllreduceSum(ctx, uint64(localThreadCount)) //nolint:gosec
	base := cohort.Exscan(ctx, uint64(localThreadCount))        //nolint:gosec

	return Layout{
		HeaderSecPtr: fileHeaderSize + wire.TraceSectionHeaderSize,
		TotalThreads: total,
		MyHeaderBase: base,
	}
}

// NewWriter creates a Writer appending sample blobs to out and writing
// trace-header records directly to file, using the section layout l.
func NewWriter(cohort rankio.Cohort, file io.WriterAt, out *outbuf.DoubleBuffer, l Layout) *Writer {
	return &Writer{cohort: cohort, file: file, out: out, headerSecPtr: l.HeaderSecPtr, myHeaderBase: l.MyHeaderBase}
}

// FinalizeThread flushes tt's sample blob, writes its trace-header record
// at this thread's assigned slot, and folds its timestamp range into the
// file-wide min/max this Writer tracks for the section header.
func (w *Writer) FinalizeThread(ctx context.Context, profIndex uint32, tt *ThreadTrace) error {
	data := tt.Encode()

	ref, err := w.out.Append(ctx, data)
	if err != nil {
		return fmt.Errorf("tracedb: append sample blob for profile %d: %w", profIndex, err)
	}

	if err := w.out.Flush(ctx); err != nil {
		return fmt.Errorf("tracedb: flush sample blob for profile %d: %w", profIndex, err)
	}

	pStart := ref.MustOffset()
	pEnd := pStart + uint64(len(data))

	hdr := wire.TraceHeader{ProfIndex: profIndex, PStart: pStart, PEnd: pEnd}
	slot := w.headerSecPtr + (w.myHeaderBase+w.localIdx)*wire.TraceHeaderSize
	w.localIdx++
	w.localBytesWritten += uint64(len(data))

	if minTS, maxTS, ok := tt.MinMaxTimestamp(); ok {
		if !w.sawTimestamps || minTS < w.localMinTS {
			w.localMinTS = minTS
		}

		if !w.sawTimestamps || maxTS > w.localMaxTS {
			w.localMaxTS = maxTS
		}

		w.sawTimestamps = true
	}

	if _, err := w.file.WriteAt(hdr.Encode(nil), int64(slot)); err != nil { //nolint:gosec
		return fmt.Errorf("tracedb: write trace-header for profile %d: %w", profIndex, err)
	}

	return nil
}

// Finalize writes trace.db's file header and ctx-trace section header from
// rank 0, then — after an explicit barrier confirming every rank's sample
// blobs and trace-headers have landed — writes the trailing footer from
// the cohort's highest-ranked member. The original omitted this barrier
// before its footer write, risking a footer landing before a slower rank's
// last flush; this Writer always waits for the whole cohort first.
func (w *Writer) Finalize(ctx context.Context, l Layout, fileHeaderSize uint64) error {
	totalBytes := w.cohort.AllreduceSum(ctx, w.localBytesWritten)

	localMin, localMax := w.localMinTS, w.localMaxTS
	if !w.sawTimestamps {
		localMin, localMax = ^uint64(0), 0
	}

	globalMin := reduceExtreme(ctx, w.cohort, localMin, true)
	globalMax := reduceExtreme(ctx, w.cohort, localMax, false)

	dataSecPtr := l.HeaderSecPtr + l.TotalThreads*wire.TraceHeaderSize

	if w.cohort.Rank() == 0 {
		fileHdr := wire.TraceFileHeader{SzCtxTraces: dataSecPtr - fileHeaderSize, PCtxTraces: fileHeaderSize}
		if _, err := w.file.WriteAt(fileHdr.Encode(nil), 0); err != nil {
			return fmt.Errorf("tracedb: write file header: %w", err)
		}

		secHdr := wire.TraceSectionHeader{
			PTraces:      l.HeaderSecPtr,
			NTraces:      uint32(l.TotalThreads), //nolint:gosec
			MinTimestamp: globalMin,
			MaxTimestamp: globalMax,
		}
		if _, err := w.file.WriteAt(secHdr.Encode(nil), int64(fileHeaderSize)); err != nil { //nolint:gosec
			return fmt.Errorf("tracedb: write section header: %w", err)
		}
	}

	w.cohort.Barrier(ctx)

	if w.cohort.Rank() == w.cohort.Size()-1 {
		footerOffset := dataSecPtr + totalBytes
		if _, err := w.file.WriteAt(wire.EncodeTraceDBFooter(nil), int64(footerOffset)); err != nil { //nolint:gosec
			return fmt.Errorf("tracedb: write footer: %w", err)
		}
	}

	return nil
}

// reduceExtreme folds a per-rank uint64 into a cohort-wide min or max using
// only the AllreduceSum/Broadcast primitives Cohort exposes: each rank
// broadcasts its candidate in turn and every rank keeps the best seen.
func reduceExtreme(ctx context.Context, cohort rankio.Cohort, local uint64, min bool) uint64 {
	best := local

	for root := 0; root < cohort.Size(); root++ {
		v := cohort.Broadcast(ctx, root, local)

		if min {
			if v < best {
				best = v
			}
		} else if v > best {
			best = v
		}
	}

	return best
}
