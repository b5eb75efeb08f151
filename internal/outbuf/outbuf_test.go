package outbuf_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perftools/sparsedb-core/internal/outbuf"
	"github.com/perftools/sparsedb-core/pkg/rankio"
)

// memFile is a growable in-memory io.WriterAt for tests.
type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	end := int(off) + len(p)
	if end > len(f.data) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}

	copy(f.data[off:], p)

	return len(p), nil
}

func (f *memFile) snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, len(f.data))
	copy(out, f.data)

	return out
}

func TestAppendBelowThresholdUnresolvedUntilFlush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	file := &memFile{}
	cohort := rankio.NewLocalCohort()
	counter := cohort.NewSharedCounter(ctx, "t", 0)

	db := outbuf.New(file, counter, 1024)

	ref, err := db.Append(ctx, []byte("hello"))
	require.NoError(t, err)

	_, resolved := ref.Offset()
	assert.False(t, resolved)

	require.NoError(t, db.Flush(ctx))

	off, resolved := ref.Offset()
	require.True(t, resolved)
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, "hello", string(file.snapshot()))
}

func TestAppendTriggersFlushAtThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	file := &memFile{}
	cohort := rankio.NewLocalCohort()
	counter := cohort.NewSharedCounter(ctx, "t", 0)

	db := outbuf.New(file, counter, 8)

	first, err := db.Append(ctx, []byte("abcd"))
	require.NoError(t, err)

	// This append pushes the buffer to 4+8=12 >= 8, so "abcd" flushes first.
	second, err := db.Append(ctx, []byte("12345678"))
	require.NoError(t, err)

	off, resolved := first.Offset()
	require.True(t, resolved)
	assert.Equal(t, uint64(0), off)

	_, resolved = second.Offset()
	assert.False(t, resolved)

	require.NoError(t, db.Flush(ctx))

	off2, resolved := second.Offset()
	require.True(t, resolved)
	assert.Equal(t, uint64(4), off2)

	assert.Equal(t, "abcd12345678", string(file.snapshot()))
}

func TestConcurrentAppendsGetDistinctOffsets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	file := &memFile{}
	cohort := rankio.NewLocalCohort()
	counter := cohort.NewSharedCounter(ctx, "t", 0)

	db := outbuf.New(file, counter, 4096)

	const n = 50

	refs := make([]*outbuf.PatchRef, n)

	var wg sync.WaitGroup

	for i := range n {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			ref, err := db.Append(ctx, []byte{byte(i)})
			require.NoError(t, err)
			refs[i] = ref
		}(i)
	}

	wg.Wait()
	require.NoError(t, db.Flush(ctx))

	seen := make(map[uint64]bool, n)

	for _, ref := range refs {
		off, ok := ref.Offset()
		require.True(t, ok)
		assert.False(t, seen[off], "offset %d claimed twice", off)
		seen[off] = true
	}
}
