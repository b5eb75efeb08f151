package cctdb

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/perftools/sparsedb-core/internal/outbuf"
	"github.com/perftools/sparsedb-core/pkg/rankio"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

type noopSink struct{}

func (noopSink) RecordFlush(int) {}

// RunGroups drives the dynamic work-sharing loop over groups: every rank in
// the cohort repeatedly claims the next unclaimed group index from a shared
// counter and merges every context in it, until the counter runs past the
// last group. This keeps ranks with larger or slower groups from idling
// while others race ahead, the same reason the original favors dynamic
// claiming over a static round-robin split once group count exceeds the
// cohort size.
//
// Each claimed group is itself subdivided across a bounded worker pool, one
// goroutine per thread-sized sub-range of the group's context IDs, so a
// rank's own cores stay busy merging while other ranks claim groups — the
// across-rank sharing above only decides who merges which group, not how
// many of a rank's threads work on it.
//
// Every context's blob is written at its precomputed offset
// (dataSecPtr + offsets.Infos[ctxID].Offset), never appended: cct.db's
// per-context byte layout is negotiated once, collectively, in
// ComputeOffsets, and is identical on every rank regardless of which rank
// ends up merging which group or in what order groups are claimed. That is
// what makes two independent runs over the same input byte-identical, and
// what lets a reader pread any context's block without waiting on a
// from-scratch scan. Each write's length is checked against the
// precomputed size before it lands; a mismatch is a fatal layout bug, per
// §4.5 Phase D and §7's Fatal taxonomy.
func RunGroups(
	ctx context.Context,
	cohort rankio.Cohort,
	groups []Group,
	profiles []*LoadedProfile,
	file io.WriterAt,
	dataSecPtr uint64,
	offsets Offsets,
	sink outbuf.Sink,
) (localBytesWritten uint64, err error) {
	counter := cohort.NewSharedCounter(ctx, "cctdb-groups", 0)

	if sink == nil {
		sink = noopSink{}
	}

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	for {
		idx := counter.FetchAdd(ctx, 1)
		if idx >= uint64(len(groups)) { //nolint:gosec
			break
		}

		groupBytes, mergeErr := mergeGroup(groups[idx], profiles, file, dataSecPtr, offsets, sink, workers)
		if mergeErr != nil {
			return 0, mergeErr
		}

		localBytesWritten += groupBytes
	}

	return localBytesWritten, nil
}

// mergeGroup subdivides group.CtxIDs into up to workers thread-sized
// sub-ranges and merges each sub-range concurrently: merging a context (the
// heap walk in mergeContext plus its blob encoding) touches only that
// context's own profile data, and writes land at disjoint, precomputed file
// offsets, so sub-ranges share no mutable state besides the byte-count
// accumulation guarded below.
func mergeGroup(
	group Group,
	profiles []*LoadedProfile,
	file io.WriterAt,
	dataSecPtr uint64,
	offsets Offsets,
	sink outbuf.Sink,
	workers int,
) (uint64, error) {
	n := len(group.CtxIDs)
	if n == 0 {
		return 0, nil
	}

	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		totalBytes uint64
		firstErr   error
	)

	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}

		sub := group.CtxIDs[start:end]

		wg.Add(1)

		go func(sub []ContextID) {
			defer wg.Done()

			for _, ctxID := range sub {
				vp, mi := mergeContext(ctxID, profiles)
				blob := encodeContextBlob(vp, mi)

				info := offsets.Infos[ctxID]
				want := info.NumVals*wire.VPPairSize + (uint64(info.NumNZMids)+1)*wire.MIPairSize

				if uint64(len(blob)) != want {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("cctdb: context %d: precomputed size %d bytes, encoded %d",
							ctxID, want, len(blob))
					}
					mu.Unlock()

					return
				}

				if _, writeErr := file.WriteAt(blob, int64(dataSecPtr+info.Offset)); writeErr != nil { //nolint:gosec
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("cctdb: write context %d blob: %w", ctxID, writeErr)
					}
					mu.Unlock()

					return
				}

				sink.RecordFlush(len(blob))

				mu.Lock()
				totalBytes += uint64(len(blob))
				mu.Unlock()
			}
		}(sub)
	}

	wg.Wait()

	if firstErr != nil {
		return 0, firstErr
	}

	return totalBytes, nil
}
