// Package tracedb implements the trace writer: each thread's timestamped
// context timeline is buffered in memory, resolved against a small
// recently-used cache, and written out as trace.db's per-thread sample
// blob plus a fixed-size trace-header record indexing it.
package tracedb

import (
	"fmt"

	"github.com/perftools/sparsedb-core/pkg/cache"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

// ContextRef is an opaque, thread-local reference to a calling-context tree
// node — typically a call-stack snapshot or some other cheaply-comparable
// handle a caller already has at sample time — that Resolver turns into a
// trace.db context id.
type ContextRef = uint64

// Resolver turns a ContextRef into the context id recorded in trace.db.
type Resolver func(ContextRef) (uint32, error)

// ThreadTrace accumulates one thread's timeline in memory. Most
// consecutive timepoints reuse the same handful of contexts (a tight
// sampling loop rarely moves far in the call tree between samples), so a
// tiny fixed-capacity cache in front of Resolver avoids most lookups.
type ThreadTrace struct {
	resolver Resolver
	cache    *cache.Linear[ContextRef, uint32]
	samples  []wire.TraceSample
}

// NewThreadTrace creates a ThreadTrace resolving unseen context references
// through resolver.
func NewThreadTrace(resolver Resolver) *ThreadTrace {
	return &ThreadTrace{resolver: resolver, cache: cache.NewLinear[ContextRef, uint32](2)}
}

// Timepoint records one (timestamp, context) sample, resolving ref through
// the cache or, on a miss, through the underlying Resolver.
func (t *ThreadTrace) Timepoint(timestampNanos uint64, ref ContextRef) error {
	ctxID, ok := t.cache.Get(ref)
	if !ok {
		var err error

		ctxID, err = t.resolver(ref)
		if err != nil {
			return fmt.Errorf("tracedb: resolve context ref: %w", err)
		}

		t.cache.Put(ref, ctxID)
	}

	t.samples = append(t.samples, wire.TraceSample{TimestampNanos: timestampNanos, CtxID: ctxID})

	return nil
}

// Rewind truncates the timeline back to its first toCount samples, for
// when a caller needs to discard a tentative run of timepoints (e.g. a
// thread that respawned mid-measurement). It resets the logical cursor
// only; the discarded samples' bytes are left in place and simply
// overwritten by whatever is recorded next; there is no need to zero them,
// since Count and Encode only ever look at the first toCount entries.
func (t *ThreadTrace) Rewind(toCount int) {
	t.samples = t.samples[:toCount]
}

// Count returns the number of samples currently recorded.
func (t *ThreadTrace) Count() int { return len(t.samples) }

// Encode renders the recorded samples as trace.db's on-disk bytes.
func (t *ThreadTrace) Encode() []byte {
	buf := make([]byte, 0, len(t.samples)*wire.TraceSampleSize)
	for _, s := range t.samples {
		buf = s.Encode(buf)
	}

	return buf
}

// MinMaxTimestamp returns the timeline's earliest and latest timestamps,
// and false if it has no samples.
func (t *ThreadTrace) MinMaxTimestamp() (minTS, maxTS uint64, ok bool) {
	if len(t.samples) == 0 {
		return 0, 0, false
	}

	minTS, maxTS = t.samples[0].TimestampNanos, t.samples[0].TimestampNanos

	for _, s := range t.samples[1:] {
		if s.TimestampNanos < minTS {
			minTS = s.TimestampNanos
		}

		if s.TimestampNanos > maxTS {
			maxTS = s.TimestampNanos
		}
	}

	return minTS, maxTS, true
}
