package search

import (
	"context"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgmaxValid(t *testing.T) {
	valid := bitset.New(4)

	// nothing legal
	assert.Equal(t, -1, ArgmaxValid([]float32{1, 2, 3, 4}, valid))

	// the highest scoring class is illegal and must lose
	valid.Set(0)
	valid.Set(2)
	assert.Equal(t, 2, ArgmaxValid([]float32{1, 9, 3, 9}, valid))

	// exact tie keeps the lowest class id
	valid.Set(3)
	assert.Equal(t, 2, ArgmaxValid([]float32{1, 9, 3, 3}, valid))
}

// rowFixedScorer is fixedScorer with the per-row fast path.
type rowFixedScorer struct{ fixedScorer }

func (rowFixedScorer) ScoreRow(feat []float32, dst []float32) {
	dst[0], dst[1] = 0.1, 0.2
}

func TestGreedyParseBatchFullPath(t *testing.T) {
	system := newChainSystem()
	engine := &Greedy{System: system, Scorer: fixedScorer{}}
	cache := chainCache(t, 3, 1, 4)

	states, err := engine.ParseBatch(context.Background(), []interface{}{3, 1, 4}, cache)
	require.NoError(t, err)
	require.Len(t, states, 3)
	for i, want := range []int{3, 1, 4} {
		state := states[i].(*chainState)
		assert.True(t, state.Terminal())
		assert.Equal(t, want, state.pos)
		// action 1 outscores action 0 everywhere
		assert.Equal(t, byte('b'), state.GetLastTransition().Kind)
	}
}

func TestGreedyParseBatchFastPath(t *testing.T) {
	goals := []int{2, 5, 1, 3, 4, 2, 6, 1}
	system := newChainSystem()
	engine := &Greedy{System: system, Scorer: rowFixedScorer{}, Workers: 3}
	inputs := make([]interface{}, len(goals))
	for i, g := range goals {
		inputs[i] = g
	}
	cache := chainCache(t, goals...)

	states, err := engine.ParseBatch(context.Background(), inputs, cache)
	require.NoError(t, err)
	for i, g := range goals {
		state := states[i].(*chainState)
		assert.True(t, state.Terminal())
		assert.Equal(t, g, state.pos)
	}
}

// Both execution policies make the same sequence of decisions; only the
// scheduling differs.
func TestGreedyFastAndFullAgree(t *testing.T) {
	goals := []int{4, 2, 5}
	system := newChainSystem()
	inputs := make([]interface{}, len(goals))
	for i, g := range goals {
		inputs[i] = g
	}

	full, err := (&Greedy{System: system, Scorer: fixedScorer{}}).
		ParseBatch(context.Background(), inputs, chainCache(t, goals...))
	require.NoError(t, err)
	fast, err := (&Greedy{System: system, Scorer: rowFixedScorer{}, Workers: 2}).
		ParseBatch(context.Background(), inputs, chainCache(t, goals...))
	require.NoError(t, err)

	for i := range goals {
		assert.Equal(t, full[i].(*chainState).trace, fast[i].(*chainState).trace)
	}
}

func TestGreedyCancellation(t *testing.T) {
	system := newChainSystem()
	engine := &Greedy{System: system, Scorer: fixedScorer{}}
	cache := chainCache(t, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.ParseBatch(ctx, []interface{}{3}, cache)
	assert.ErrorIs(t, err, context.Canceled)
}
