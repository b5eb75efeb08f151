// Package outbuf implements the double-buffered output writer shared by
// profile.db, cct.db, and trace.db: two in-memory buffers rotate so that
// one can be flushed to disk while the other keeps accepting appends, and
// each append's final absolute file offset — unknown until the buffer's
// write position is claimed from a rank-wide shared counter — is patched
// into caller-owned records once the flush resolves it.
package outbuf

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/perftools/sparsedb-core/pkg/rankio"
)

// PatchRef is a deferred reference to a byte range's absolute file offset,
// unresolved until the buffer holding it flushes.
type PatchRef struct {
	mu    sync.Mutex
	done  bool
	value uint64
}

func (r *PatchRef) resolve(v uint64) {
	r.mu.Lock()
	r.value = v
	r.done = true
	r.mu.Unlock()
}

// Offset returns the resolved absolute file offset and true, or (0, false)
// if the owning buffer has not yet been flushed.
func (r *PatchRef) Offset() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.value, r.done
}

// MustOffset returns the resolved offset, panicking if it is not yet
// resolved. Callers use this only after an explicit Flush, by which point
// every PatchRef handed out before the flush is guaranteed resolved.
func (r *PatchRef) MustOffset() uint64 {
	v, ok := r.Offset()
	if !ok {
		panic("outbuf: PatchRef read before its buffer was flushed")
	}

	return v
}

type pendingPatch struct {
	ref       *PatchRef
	relOffset uint64
}

type buffer struct {
	mu      sync.Mutex
	data    []byte
	patches []pendingPatch
}

// Sink receives the byte count of each flushed buffer, letting
// callers plug in metrics without outbuf depending on the observability package.
type Sink interface {
	RecordFlush(n int)
}

type noopSink struct{}

func (noopSink) RecordFlush(int) {}

// DoubleBuffer is a double-buffered writer for one output file.
type DoubleBuffer struct {
	file      io.WriterAt
	counter   rankio.SharedCounter
	threshold int
	sink      Sink

	mu      sync.Mutex
	cur     int
	buffers [2]*buffer
}

// New creates a DoubleBuffer writing to file, using counter to claim
// absolute write offsets collectively across ranks. threshold is the
// approximate buffer size (in bytes) at which a buffer is flushed.
func New(file io.WriterAt, counter rankio.SharedCounter, threshold int) *DoubleBuffer {
	return &DoubleBuffer{
		file:      file,
		counter:   counter,
		threshold: threshold,
		sink:      noopSink{},
		buffers:   [2]*buffer{{}, {}},
	}
}

// WithSink attaches a metrics sink and returns db for chaining.
func (db *DoubleBuffer) WithSink(sink Sink) *DoubleBuffer {
	db.sink = sink

	return db
}

// Append copies data into the current buffer and returns a PatchRef that
// resolves to data's absolute file offset once its buffer is flushed. If
// appending would push the current buffer past its flush threshold, the
// current buffer is rotated out and flushed first.
func (db *DoubleBuffer) Append(ctx context.Context, data []byte) (*PatchRef, error) {
	for {
		db.mu.Lock()
		idx := db.cur
		buf := db.buffers[idx]
		db.mu.Unlock()

		buf.mu.Lock()

		if len(buf.data) > 0 && len(buf.data)+len(data) >= db.threshold {
			db.mu.Lock()
			if db.cur == idx {
				db.cur = 1 - idx
			}
			db.mu.Unlock()

			flushData := buf.data
			flushPatches := buf.patches
			buf.data = nil
			buf.patches = nil
			buf.mu.Unlock()

			if err := db.flush(ctx, flushData, flushPatches); err != nil {
				return nil, err
			}

			continue
		}

		relOffset := uint64(len(buf.data))
		buf.data = append(buf.data, data...)

		ref := &PatchRef{}
		buf.patches = append(buf.patches, pendingPatch{ref: ref, relOffset: relOffset})
		buf.mu.Unlock()

		return ref, nil
	}
}

// Flush flushes both buffers, resolving every outstanding PatchRef. Callers
// must call Flush before reading any PatchRef handed out by Append.
func (db *DoubleBuffer) Flush(ctx context.Context) error {
	for i := range db.buffers {
		buf := db.buffers[i]

		buf.mu.Lock()
		flushData := buf.data
		flushPatches := buf.patches
		buf.data = nil
		buf.patches = nil
		buf.mu.Unlock()

		if len(flushData) == 0 && len(flushPatches) == 0 {
			continue
		}

		if err := db.flush(ctx, flushData, flushPatches); err != nil {
			return err
		}
	}

	return nil
}

func (db *DoubleBuffer) flush(ctx context.Context, data []byte, patches []pendingPatch) error {
	base := db.counter.FetchAdd(ctx, uint64(len(data)))

	if _, err := db.file.WriteAt(data, int64(base)); err != nil {
		return fmt.Errorf("outbuf: write at %d: %w", base, err)
	}

	for _, p := range patches {
		p.ref.resolve(base + p.relOffset)
	}

	db.sink.RecordFlush(len(data))

	return nil
}
