package assembler

import (
	"context"
	"fmt"
	"io"

	"github.com/perftools/sparsedb-core/internal/cctdb"
	"github.com/perftools/sparsedb-core/internal/outbuf"
	"github.com/perftools/sparsedb-core/internal/profiledb"
	"github.com/perftools/sparsedb-core/internal/tracedb"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

// RandomAccessFile is what Write needs from each output file: ordinary
// positioned writes, plus the ability to read back what every rank in the
// cohort has written once a barrier confirms it has landed. cct.db's
// transpose needs every rank's profile.db contributions, not just this
// rank's own, and reading the shared file after a barrier substitutes for
// an explicit all-gather the Cohort interface doesn't otherwise provide.
type RandomAccessFile interface {
	io.WriterAt
	io.ReaderAt
}

type metricsSink struct {
	ctx  context.Context
	file string
	m    interface {
		RecordBytesWritten(ctx context.Context, file string, n int64)
		RecordFlush(ctx context.Context, file string)
	}
}

func (s metricsSink) RecordFlush(n int) {
	if s.m == nil {
		return
	}

	s.m.RecordBytesWritten(s.ctx, s.file, int64(n))
	s.m.RecordFlush(s.ctx, s.file)
}

func (a *Assembler) sink(ctx context.Context, file string) outbuf.Sink {
	if a.cfg.Metrics == nil {
		return nil //nolint:nilnil
	}

	return metricsSink{ctx: ctx, file: file, m: a.cfg.Metrics}
}

func withSink(db *outbuf.DoubleBuffer, s outbuf.Sink) *outbuf.DoubleBuffer {
	if s == nil {
		return db
	}

	return db.WithSink(s)
}

// Write finalizes and flushes profile.db, cct.db, and trace.db. Every rank
// in the cohort must call Write, and all three files' underlying storage
// must be visible to every rank (a shared filesystem, not per-rank local
// disks) since cct.db's transpose reads back profile.db's contents from
// ranks other than its own.
func (a *Assembler) Write(ctx context.Context) error {
	a.mu.Lock()
	if !a.wavefrontDone {
		a.mu.Unlock()

		return fmt.Errorf("assembler: Write called before WavefrontComplete")
	}

	threads := make([]*threadState, 0, len(a.threads))
	for _, ts := range a.threads {
		threads = append(threads, ts)
	}

	a.mu.Unlock()

	profileFile, ok := a.cfg.Files.Profile.(RandomAccessFile)
	if !ok {
		return fmt.Errorf("assembler: profile.db file must support reads back for cct.db's transpose")
	}

	globalInfos, _, threadGlobalIndex, err := a.writeProfileDB(ctx, profileFile, threads)
	if err != nil {
		return err
	}

	if err := a.writeCCTDB(ctx, profileFile, globalInfos); err != nil {
		return err
	}

	return a.writeTraceDB(ctx, threads, threadGlobalIndex)
}

// writeProfileDB also returns threadGlobalIndex, mapping each thread's
// bookkeeping profIndex to its position within the global prof-info array —
// the format no longer stores a profile index in ProfInfo itself, so every
// other file that needs to name a profile (cct.db's VPPair, trace.db's
// TraceHeader) must use this same array position instead.
func (a *Assembler) writeProfileDB(
	ctx context.Context,
	profileFile RandomAccessFile,
	threads []*threadState,
) ([]wire.ProfInfo, profiledb.Layout, map[uint32]uint64, error) {
	cohort := a.cfg.Cohort
	pw := profiledb.New(cohort)

	localPos := uint64(0)

	if cohort.Rank() == 0 {
		summary := summarize(threads)
		if err := pw.AddSummary(summary); err != nil {
			return nil, profiledb.Layout{}, nil, fmt.Errorf("assembler: build summary profile: %w", err)
		}

		localPos++
	}

	threadGlobalIndex := make(map[uint32]uint64, len(threads))

	for _, ts := range threads {
		pw.AddThread(profiledb.ThreadAttrs{ProfIndex: ts.profIndex, IDTuple: ts.idTuple}, ts.accum)
		threadGlobalIndex[ts.profIndex] = localPos
		localPos++
	}

	layout := pw.NegotiateLayout(ctx, wire.ProfileDBHeaderSize)

	for profIndex, pos := range threadGlobalIndex {
		threadGlobalIndex[profIndex] = layout.MyProfileBase + pos
	}

	dataOut := withSink(outbuf.New(profileFile, cohort.NewSharedCounter(ctx, "profiledb-data", layout.DataSecPtr),
		a.cfg.BufferSizeBytes), a.sink(ctx, "profile.db"))
	idOut := withSink(outbuf.New(profileFile, cohort.NewSharedCounter(ctx, "profiledb-idtuples", layout.IDTuplesSecPtr),
		a.cfg.BufferSizeBytes), a.sink(ctx, "profile.db"))

	infos, err := pw.Flush(ctx, dataOut, idOut)
	if err != nil {
		return nil, profiledb.Layout{}, nil, err
	}

	for i, info := range infos {
		slot := layout.ProfInfoSecPtr + (layout.MyProfileBase+uint64(i))*wire.ProfInfoSize //nolint:gosec
		if _, err := profileFile.WriteAt(info.Encode(nil), int64(slot)); err != nil {       //nolint:gosec
			return nil, profiledb.Layout{}, nil, fmt.Errorf("assembler: write prof-info record: %w", err)
		}
	}

	if cohort.Rank() == 0 {
		if _, err := profileFile.WriteAt(layout.Header().Encode(nil), 0); err != nil {
			return nil, profiledb.Layout{}, nil, fmt.Errorf("assembler: write profile.db header: %w", err)
		}
	}

	totalDataBytes := cohort.AllreduceSum(ctx, pw.LocalDataBytes())

	cohort.Barrier(ctx)

	if cohort.Rank() == cohort.Size()-1 {
		footerOffset := layout.DataSecPtr + totalDataBytes
		if _, err := profileFile.WriteAt(wire.EncodeProfileDBFooter(nil), int64(footerOffset)); err != nil { //nolint:gosec
			return nil, profiledb.Layout{}, nil, fmt.Errorf("assembler: write profile.db footer: %w", err)
		}
	}

	cohort.Barrier(ctx)

	globalInfos, err := readBackProfInfos(profileFile, layout)
	if err != nil {
		return nil, profiledb.Layout{}, nil, err
	}

	return globalInfos, layout, threadGlobalIndex, nil
}

func readBackProfInfos(profileFile RandomAccessFile, layout profiledb.Layout) ([]wire.ProfInfo, error) {
	buf := make([]byte, layout.ProfInfoSecSize)

	if _, err := profileFile.ReadAt(buf, int64(layout.ProfInfoSecPtr)); err != nil && err != io.EOF { //nolint:gosec,errorlint
		return nil, fmt.Errorf("assembler: read back prof-info section: %w", err)
	}

	infos := make([]wire.ProfInfo, 0, layout.NumProfiles)

	for off := 0; off+wire.ProfInfoSize <= len(buf); off += wire.ProfInfoSize {
		info, err := wire.DecodeProfInfo(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("assembler: decode prof-info record: %w", err)
		}

		infos = append(infos, info)
	}

	return infos, nil
}

func summarize(threads []*threadState) profiledb.Accumulators {
	type key struct {
		ctx    cctdb.ContextID
		isLine bool
	}

	agg := make(map[key]map[profiledb.MetricID]profiledb.ScopedValue)

	for _, ts := range threads {
		for _, ca := range ts.accum {
			k := key{ctx: ca.CtxID, isLine: ca.IsLineScope}

			dst, ok := agg[k]
			if !ok {
				dst = make(map[profiledb.MetricID]profiledb.ScopedValue)
				agg[k] = dst
			}

			for mid, sv := range ca.Metrics {
				cur := dst[mid]

				if sv.HasFunction {
					cur.HasFunction = true
					cur.Function += sv.Function
				}

				if sv.HasExecution {
					cur.HasExecution = true
					cur.Execution += sv.Execution
				}

				dst[mid] = cur
			}
		}
	}

	summary := make(profiledb.Accumulators, 0, len(agg))
	for k, metrics := range agg {
		summary = append(summary, profiledb.ContextAccum{
			CtxID:       k.ctx,
			IsLineScope: k.isLine,
			Metrics:     metrics,
		})
	}

	return summary
}

func (a *Assembler) writeCCTDB(ctx context.Context, profileFile RandomAccessFile, globalInfos []wire.ProfInfo) error {
	cohort := a.cfg.Cohort

	raw := make([]cctdb.RawProfile, 0, len(globalInfos))

	for i, info := range globalInfos {
		// The rank-0 summary profile is not transposed into cct.db; only
		// thread profiles contribute values there.
		if uint32(i) == profiledb.SummaryProfileIndex { //nolint:gosec
			continue
		}

		rawLen := info.NumVals*wire.MVPairSize + (uint64(info.NumNZCtxs)+1)*wire.CIPairSize
		buf := make([]byte, rawLen)

		if _, err := profileFile.ReadAt(buf, int64(info.Offset)); err != nil && err != io.EOF { //nolint:gosec,errorlint
			return fmt.Errorf("assembler: read profile %d data block: %w", i, err)
		}

		raw = append(raw, cctdb.RawProfile{ProfIndex: uint32(i), Data: buf, NumVals: info.NumVals}) //nolint:gosec
	}

	parsed, err := cctdb.ParseProfiles(raw, a.cfg.ParseWorkers)
	if err != nil {
		return err
	}

	profiles := make([]*cctdb.LoadedProfile, len(parsed))
	for i := range parsed {
		profiles[i] = &parsed[i]
	}

	var all profiledb.Accumulators

	a.mu.Lock()
	for _, ts := range a.threads {
		all = append(all, ts.accum...)
	}
	a.mu.Unlock()

	localCounts := profiledb.ContextCounts(all)

	cctCounts := make(map[cctdb.ContextID]cctdb.LocalContextCounts, len(localCounts))
	for id, c := range localCounts {
		cctCounts[id] = cctdb.LocalContextCounts{NumVals: c.NumVals, NumNZMids: c.NumNZMids}
	}

	offsets, err := cctdb.ComputeOffsets(ctx, cohort, a.cfg.AllContextIDs, cctCounts)
	if err != nil {
		return err
	}

	groups := cctdb.PlanGroups(offsets, a.cfg.GroupSizeCapBytes)

	ctxInfoSecPtr := uint64(wire.CCTDBHeaderSize)
	dataSecPtr := ctxInfoSecPtr + uint64(len(offsets.CtxIDs))*wire.CtxInfoSize

	cctFile, ok := a.cfg.Files.CCT.(RandomAccessFile)
	if !ok {
		return fmt.Errorf("assembler: cct.db file must support io.WriterAt")
	}

	localBytes, err := cctdb.RunGroups(ctx, cohort, groups, profiles, cctFile, dataSecPtr, offsets, a.sink(ctx, "cct.db"))
	if err != nil {
		return err
	}

	return cctdb.Finalize(ctx, cohort, cctFile, offsets, dataSecPtr, ctxInfoSecPtr, localBytes)
}

func (a *Assembler) writeTraceDB(
	ctx context.Context,
	threads []*threadState,
	threadGlobalIndex map[uint32]uint64,
) error {
	cohort := a.cfg.Cohort

	traceFile, ok := a.cfg.Files.Trace.(RandomAccessFile)
	if !ok {
		return fmt.Errorf("assembler: trace.db file must support io.WriterAt")
	}

	layout := tracedb.NegotiateLayout(ctx, cohort, len(threads), wire.TraceFileHeaderSize)
	dataSecPtr := layout.HeaderSecPtr + layout.TotalThreads*wire.TraceHeaderSize

	out := withSink(outbuf.New(traceFile, cohort.NewSharedCounter(ctx, "tracedb-data", dataSecPtr),
		a.cfg.BufferSizeBytes), a.sink(ctx, "trace.db"))

	w := tracedb.NewWriter(cohort, traceFile, out, layout)

	for _, ts := range threads {
		// Threads that recorded no samples still need a degenerate
		// header (pStart = pEnd) so every rank's reserved header slot
		// stays aligned with NegotiateLayout's per-thread count.
		if err := w.FinalizeThread(ctx, uint32(threadGlobalIndex[ts.profIndex]), ts.trace); err != nil { //nolint:gosec
			return err
		}
	}

	return w.Finalize(ctx, layout, wire.TraceFileHeaderSize)
}
