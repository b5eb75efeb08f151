package profiledb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perftools/sparsedb-core/internal/profiledb"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

func decodeBlock(t *testing.T, data []byte, numVals uint64) ([]wire.MVPair, []wire.CIPair) {
	t.Helper()

	mv := make([]wire.MVPair, 0, numVals)
	for i := uint64(0); i < numVals; i++ {
		p, err := wire.DecodeMVPair(data[i*wire.MVPairSize:])
		require.NoError(t, err)
		mv = append(mv, p)
	}

	ciStart := int(numVals) * wire.MVPairSize

	var ci []wire.CIPair
	for off := ciStart; off < len(data); off += wire.CIPairSize {
		p, err := wire.DecodeCIPair(data[off:])
		require.NoError(t, err)
		ci = append(ci, p)

		if p.CtxID == wire.LastNodeEnd {
			break
		}
	}

	return mv, ci
}

func TestFormatNonLineScopeEmitsBothScopeIDsUnderOneContext(t *testing.T) {
	t.Parallel()

	accums := profiledb.Accumulators{
		{
			CtxID: 10,
			Metrics: map[profiledb.MetricID]profiledb.ScopedValue{
				1: {HasFunction: true, Function: 5, HasExecution: true, Execution: 7},
			},
		},
	}

	data, numVals, numNZCtxs := profiledb.Format(accums)
	require.Equal(t, uint64(2), numVals)
	require.Equal(t, uint32(1), numNZCtxs)

	mv, ci := decodeBlock(t, data, numVals)
	require.Len(t, ci, 2) // ctx 10, sentinel

	assert.Equal(t, uint32(10), ci[0].CtxID)
	assert.Equal(t, uint64(0), ci[0].Index)
	assert.Equal(t, wire.LastNodeEnd, ci[1].CtxID)
	assert.Equal(t, uint64(2), ci[1].Index)

	assert.Equal(t, 5.0, mv[0].Value)
	assert.Equal(t, profiledb.FunctionScopeID(1), mv[0].MetricID)
	assert.Equal(t, 7.0, mv[1].Value)
	assert.Equal(t, profiledb.ExecutionScopeID(1), mv[1].MetricID)
	assert.NotEqual(t, mv[0].MetricID, mv[1].MetricID)
}

func TestFormatLineScopeDuplicatesFunctionValueUnderBothScopeIDs(t *testing.T) {
	t.Parallel()

	accums := profiledb.Accumulators{
		{
			CtxID:       20,
			IsLineScope: true,
			Metrics: map[profiledb.MetricID]profiledb.ScopedValue{
				3: {HasFunction: true, Function: 42, HasExecution: true, Execution: 99},
			},
		},
	}

	data, numVals, numNZCtxs := profiledb.Format(accums)
	require.Equal(t, uint64(2), numVals)
	require.Equal(t, uint32(1), numNZCtxs)

	mv, ci := decodeBlock(t, data, numVals)
	require.Len(t, ci, 2)

	assert.Equal(t, uint32(20), ci[0].CtxID)

	// The execution-scope value (99) is never consulted for a line scope:
	// both scope ids read the same function-scope value, within the one
	// context id.
	assert.Equal(t, 42.0, mv[0].Value)
	assert.Equal(t, 42.0, mv[1].Value)
	assert.Equal(t, profiledb.FunctionScopeID(3), mv[0].MetricID)
	assert.Equal(t, profiledb.ExecutionScopeID(3), mv[1].MetricID)
}

func TestFormatContextWithNoContributionGetsNoCIPair(t *testing.T) {
	t.Parallel()

	accums := profiledb.Accumulators{
		{
			CtxID:   1,
			Metrics: map[profiledb.MetricID]profiledb.ScopedValue{},
		},
	}

	data, numVals, numNZCtxs := profiledb.Format(accums)
	assert.Equal(t, uint64(0), numVals)
	assert.Equal(t, uint32(0), numNZCtxs)

	_, ci := decodeBlock(t, data, numVals)
	require.Len(t, ci, 1)
	assert.Equal(t, wire.LastNodeEnd, ci[0].CtxID)
	assert.Equal(t, uint64(0), ci[0].Index)
}

func TestFormatOrdersContextsByAscendingID(t *testing.T) {
	t.Parallel()

	accums := profiledb.Accumulators{
		{CtxID: 50, Metrics: map[profiledb.MetricID]profiledb.ScopedValue{
			1: {HasFunction: true, Function: 1},
		}},
		{CtxID: 5, Metrics: map[profiledb.MetricID]profiledb.ScopedValue{
			1: {HasFunction: true, Function: 2},
		}},
	}

	data, numVals, _ := profiledb.Format(accums)
	_, ci := decodeBlock(t, data, numVals)
	require.Len(t, ci, 3)
	assert.Equal(t, uint32(5), ci[0].CtxID)
	assert.Equal(t, uint32(50), ci[1].CtxID)
}
