package transition

import (
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SigmoidFreud/spaCy/alg/transition"
	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
)

func TestArcEagerOracleReconstructsGold(t *testing.T) {
	labels := newLabels("det", "nsubj", "dobj", "root")
	system := NewArcEager(labels)

	tests := []struct {
		name   string
		words  []string
		heads  []int
		labels []int
	}{
		{"two tokens", []string{"cats", "sleep"}, []int{1, -1}, []int{1, -1}},
		{"left then right", []string{"the", "cat", "sat"}, []int{1, 2, -1}, []int{0, 1, -1}},
		{"right chain", []string{"eat", "the", "fish"}, []int{-1, 2, 0}, []int{-1, 0, 2}},
		{"nested", []string{"a", "b", "c", "d", "e"}, []int{1, 4, 3, 1, -1}, []int{0, 1, 0, 2, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := sentence(tt.words...)
			gold := nlp.NewGold(tt.heads, tt.labels)
			sequence, err := system.OracleSequence(sent, gold)
			require.NoError(t, err)

			state := system.Initial(sent).(*State)
			for _, id := range sequence {
				system.Apply(state, id)
			}
			assert.True(t, state.Terminal())
			assert.Equal(t, tt.heads, state.Heads())
			assert.Equal(t, tt.labels, state.Labels())
		})
	}
}

func TestArcEagerLegality(t *testing.T) {
	labels := newLabels("dep")
	system := NewArcEager(labels)
	state := system.Initial(sentence("a", "b", "c")).(*State)
	valid := bitset.New(uint(system.Transitions().Len()))
	left, _ := system.transitions.IndexOf(Left, 0)
	right, _ := system.transitions.IndexOf(Right, 0)

	// empty stack: only shift
	system.Legal(state, valid)
	assert.True(t, valid.Test(uint(system.SHIFT)))
	assert.False(t, valid.Test(uint(system.REDUCE)))
	assert.False(t, valid.Test(uint(left)))
	assert.False(t, valid.Test(uint(right)))

	// headless stack top: no reduce
	system.Apply(state, system.SHIFT)
	system.Legal(state, valid)
	assert.True(t, valid.Test(uint(system.SHIFT)))
	assert.False(t, valid.Test(uint(system.REDUCE)))
	assert.True(t, valid.Test(uint(left)))
	assert.True(t, valid.Test(uint(right)))

	// attached stack top: reduce becomes legal, left-arc does not
	system.Apply(state, right) // arc 0->1, stack [0 1], buffer [2]
	system.Legal(state, valid)
	assert.True(t, valid.Test(uint(system.REDUCE)))
	assert.False(t, valid.Test(uint(left)))
}

// Every prefix of the oracle sequence leaves at least one zero-cost
// legal action, and the oracle's own choice always costs zero.
func TestArcEagerOracleZeroCostPath(t *testing.T) {
	labels := newLabels("det", "nsubj")
	system := NewArcEager(labels)
	sent := sentence("the", "cat", "sat", "down")
	gold := nlp.NewGold([]int{1, 2, -1, 2}, []int{0, 1, -1, 0})

	sequence, err := system.OracleSequence(sent, gold)
	require.NoError(t, err)

	state := system.Initial(sent).(*State)
	valid := bitset.New(uint(system.Transitions().Len()))
	costs := make([]float32, system.Transitions().Len())
	for _, id := range sequence {
		system.Legal(state, valid)
		system.Costs(state, gold, valid, costs)
		require.True(t, valid.Test(uint(id)))
		require.Equal(t, float32(0), costs[id], "oracle action must cost zero at %v", state)
		system.Apply(state, id)
	}
	assert.True(t, state.Terminal())
}

func TestArcEagerShiftCost(t *testing.T) {
	labels := newLabels("dep")
	system := NewArcEager(labels)
	// token 1 governs token 0 from the right; shifting 1 past token 0
	// costs the arc, and attaching left is free
	sent := sentence("a", "b")
	gold := nlp.NewGold([]int{1, -1}, []int{0, -1})

	state := system.Initial(sent).(*State)
	system.Apply(state, system.SHIFT) // stack [0], buffer [1]

	valid := bitset.New(uint(system.Transitions().Len()))
	costs := make([]float32, system.Transitions().Len())
	system.Legal(state, valid)
	system.Costs(state, gold, valid, costs)

	left, _ := system.transitions.IndexOf(Left, 0)
	right, _ := system.transitions.IndexOf(Right, 0)
	assert.Equal(t, float32(0), costs[left])
	assert.Equal(t, float32(1), costs[system.SHIFT], "shift loses the arc 1->0")
	assert.Equal(t, float32(1), costs[right], "right arc blocks 0 from attaching to 1")
}

func TestArcEagerLabelMismatchCost(t *testing.T) {
	labels := newLabels("nsubj", "dobj")
	system := NewArcEager(labels)
	sent := sentence("a", "b")
	gold := nlp.NewGold([]int{1, -1}, []int{0, -1})

	state := system.Initial(sent).(*State)
	system.Apply(state, system.SHIFT)

	valid := bitset.New(uint(system.Transitions().Len()))
	costs := make([]float32, system.Transitions().Len())
	system.Legal(state, valid)
	system.Costs(state, gold, valid, costs)

	leftGood, _ := system.transitions.IndexOf(Left, 0)
	leftBad, _ := system.transitions.IndexOf(Left, 1)
	assert.Equal(t, float32(0), costs[leftGood])
	assert.Equal(t, float32(1), costs[leftBad], "right head, wrong relation")
}

func TestArcEagerNonProjectiveUnreachable(t *testing.T) {
	labels := newLabels("dep")
	system := NewArcEager(labels)
	sent := sentence("a", "b", "c", "d")
	gold := nlp.NewGold([]int{-1, 0, 0, 1}, []int{-1, 0, 0, 0})

	_, err := system.OracleSequence(sent, gold)
	require.Error(t, err)
	assert.ErrorIs(t, err, transition.ErrOracleUnreachable)
}

func TestArcEagerAddLabelKeepsIDs(t *testing.T) {
	labels := newLabels("nsubj")
	system := NewArcEager(labels)
	shift := system.SHIFT
	reduce := system.REDUCE
	left, _ := system.transitions.IndexOf(Left, 0)
	before := system.Transitions().Len()

	system.AddLabel("dobj")

	assert.Equal(t, before+2, system.Transitions().Len())
	assert.Equal(t, shift, system.SHIFT)
	assert.Equal(t, reduce, system.REDUCE)
	leftAfter, _ := system.transitions.IndexOf(Left, 0)
	assert.Equal(t, left, leftAfter)
}
