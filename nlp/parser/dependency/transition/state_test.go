package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
	"github.com/SigmoidFreud/spaCy/util"
)

func sentence(words ...string) nlp.Sentence {
	sent := make(nlp.Sentence, len(words))
	for i, w := range words {
		sent[i] = nlp.Token{Word: w, POS: "X"}
	}
	return sent
}

func newLabels(names ...string) *util.EnumSet {
	e := util.NewEnumSet(len(names))
	for _, name := range names {
		e.Add(name)
	}
	return e
}

func TestStateInitialContext(t *testing.T) {
	state := new(State)
	state.Init(sentence("the", "cat", "sat"))

	ctx := make([]int, ContextWidth)
	state.ContextTokens(ctx)

	// empty stack: all stack-derived slots are sentinels
	assert.Equal(t, []int{-1, -1, -1}, ctx[0:3])
	// buffer front
	assert.Equal(t, []int{0, 1, 2}, ctx[3:6])
	// no arcs yet: child and head slots are sentinels
	assert.Equal(t, []int{-1, -1, -1, -1, -1, -1, -1}, ctx[6:13])
}

func TestStateContextChildren(t *testing.T) {
	labels := newLabels("dep")
	system := NewArcEager(labels)
	state := system.Initial(sentence("a", "b", "c", "d")).(*State)

	left, _ := system.transitions.IndexOf(Left, 0)
	right, _ := system.transitions.IndexOf(Right, 0)

	system.Apply(state, system.SHIFT) // stack [0], buffer [1 2 3]
	system.Apply(state, left)         // arc 1->0, stack [], buffer [1 2 3]
	system.Apply(state, system.SHIFT) // stack [1], buffer [2 3]
	system.Apply(state, right)        // arc 1->2, stack [1 2], buffer [3]

	ctx := make([]int, ContextWidth)
	state.ContextTokens(ctx)

	assert.Equal(t, 2, ctx[0], "S0")
	assert.Equal(t, 1, ctx[1], "S1")
	assert.Equal(t, 3, ctx[3], "B0")
	assert.Equal(t, -1, ctx[6], "S0 has no left children")
	assert.Equal(t, 1, ctx[12], "head of S0")
}

func TestStateCopyIndependence(t *testing.T) {
	labels := newLabels("dep")
	system := NewArcEager(labels)
	state := system.Initial(sentence("a", "b", "c")).(*State)
	system.Apply(state, system.SHIFT)

	clone := state.Copy().(*State)
	require.Equal(t, state.Hash(), clone.Hash())

	left, _ := system.transitions.IndexOf(Left, 0)
	system.Apply(clone, left)

	assert.NotEqual(t, state.Hash(), clone.Hash())
	assert.Len(t, state.Arcs(), 0)
	assert.Len(t, clone.Arcs(), 1)
	assert.Equal(t, 1, state.Stack().Size())
	assert.Equal(t, 0, clone.Stack().Size())
}

func TestStateHashLabelSensitive(t *testing.T) {
	labels := newLabels("nsubj", "dobj")
	system := NewArcEager(labels)

	buildWith := func(label int) *State {
		state := system.Initial(sentence("a", "b")).(*State)
		left, _ := system.transitions.IndexOf(Left, label)
		system.Apply(state, system.SHIFT)
		system.Apply(state, left)
		return state
	}

	assert.Equal(t, buildWith(0).Hash(), buildWith(0).Hash())
	assert.NotEqual(t, buildWith(0).Hash(), buildWith(1).Hash())
}

func TestStateSecondGovernorPanics(t *testing.T) {
	state := new(State)
	state.Init(sentence("a", "b", "c"))
	state.AddArc(Arc{Head: 0, Modifier: 1, Relation: 0})
	assert.Panics(t, func() {
		state.AddArc(Arc{Head: 2, Modifier: 1, Relation: 0})
	})
}

func TestStateTerminalShape(t *testing.T) {
	labels := newLabels("dep")

	eager := NewArcEager(labels)
	state := eager.Initial(sentence("a")).(*State)
	assert.False(t, state.Terminal())
	eager.Apply(state, eager.SHIFT)
	assert.True(t, state.Terminal(), "empty buffer terminates arc-eager")

	standard := NewArcStandard(labels)
	state = standard.Initial(sentence("a")).(*State)
	assert.True(t, state.Terminal(), "lone root with an empty stack is final")
}
