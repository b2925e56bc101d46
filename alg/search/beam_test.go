package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SigmoidFreud/spaCy/alg/features"
	"github.com/SigmoidFreud/spaCy/alg/transition"
)

// chainState is a minimal configuration: a cursor over goal positions.
// Its hash covers only the cursor, so hypotheses that reach the same
// position through different action sequences are structurally
// identical and must collapse in the beam.
type chainState struct {
	pos, goal int
	// trace encodes the action history; it enters the hash only when
	// distinct is set, letting tests choose whether converging paths
	// count as the same structure
	trace    uint64
	distinct bool
	last     transition.Transition
	previous transition.Configuration
}

var _ transition.Configuration = &chainState{}

func (c *chainState) Init(input interface{}) {
	c.pos = 0
	c.goal = input.(int)
}

func (c *chainState) Terminal() bool { return c.pos >= c.goal }

func (c *chainState) Copy() transition.Configuration {
	clone := *c
	return &clone
}

func (c *chainState) Len() int { return c.pos }

func (c *chainState) Previous() transition.Configuration     { return c.previous }
func (c *chainState) SetPrevious(p transition.Configuration) { c.previous = p }
func (c *chainState) SetLastTransition(t transition.Transition) {
	c.last = t
}
func (c *chainState) GetLastTransition() transition.Transition { return c.last }

func (c *chainState) ContextWidth() int { return 1 }
func (c *chainState) ContextTokens(dst []int) {
	if c.pos < c.goal {
		dst[0] = c.pos
	} else {
		dst[0] = -1
	}
}

func (c *chainState) Hash() uint64 {
	if c.distinct {
		return c.trace<<8 | uint64(c.pos)
	}
	return uint64(c.pos)
}

func (c *chainState) String() string { return fmt.Sprintf("pos %d/%d", c.pos, c.goal) }

// chainSystem advances the cursor with either of two interchangeable
// actions; the structural result is identical, only the score differs.
type chainSystem struct {
	actions  *transition.Set
	distinct bool
}

var _ transition.System = &chainSystem{}

func newChainSystem() *chainSystem {
	s := &chainSystem{actions: transition.NewSet(2)}
	s.actions.Add('a', transition.NoLabel)
	s.actions.Add('b', transition.NoLabel)
	return s
}

func (s *chainSystem) Apply(c transition.Configuration, t int) {
	state := c.(*chainState)
	state.pos++
	state.trace = state.trace<<2 | uint64(t+1)
	state.SetLastTransition(s.actions.Get(t))
}

func (s *chainSystem) Legal(c transition.Configuration, valid *bitset.BitSet) {
	valid.ClearAll()
	if !c.Terminal() {
		valid.Set(0)
		valid.Set(1)
	}
}

func (s *chainSystem) Costs(c transition.Configuration, gold transition.Gold, valid *bitset.BitSet, costs []float32) {
	for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
		if int(id) == 0 {
			costs[id] = 0
		} else {
			costs[id] = 1
		}
	}
}

func (s *chainSystem) OracleSequence(input interface{}, gold transition.Gold) ([]int, error) {
	sequence := make([]int, input.(int))
	return sequence, nil
}

func (s *chainSystem) Initial(input interface{}) transition.Configuration {
	state := new(chainState)
	state.Init(input)
	state.distinct = s.distinct
	return state
}

func (s *chainSystem) TerminalShape(c transition.Configuration) bool { return c.Terminal() }

func (s *chainSystem) Transitions() *transition.Set { return s.actions }
func (s *chainSystem) Name() string                 { return "Chain" }

// fixedScorer scores every state identically: action 1 above action 0 by
// a constant margin.
type fixedScorer struct{}

func (fixedScorer) NumClasses() int { return 2 }
func (fixedScorer) Score(feats [][]float32) ([][]float32, Backward) {
	scores := make([][]float32, len(feats))
	for i := range scores {
		scores[i] = []float32{0.1, 0.2}
	}
	return scores, nil
}

func chainCache(t *testing.T, goals ...int) *features.Handle {
	t.Helper()
	inputs := make([]interface{}, len(goals))
	for i, goal := range goals {
		inputs[i] = goal
	}
	embed := func(input interface{}) ([][]float32, error) {
		rows := make([][]float32, input.(int))
		for i := range rows {
			rows[i] = []float32{1}
		}
		return rows, nil
	}
	h := features.Build(context.Background(), inputs, intSlice(goals), embed, identitySlot{}, 1)
	require.NoError(t, h.Err())
	return h
}

type identitySlot struct{}

func (identitySlot) Slots() int  { return 1 }
func (identitySlot) Width() int  { return 1 }
func (identitySlot) Pieces() int { return 1 }
func (identitySlot) ProjectSlot(slot int, emb []float32, dst []float32) {
	copy(dst, emb)
}

func intSlice(v []int) []int {
	out := make([]int, len(v))
	copy(out, v)
	return out
}

func TestBeamDeduplicationCollapse(t *testing.T) {
	system := newChainSystem()
	engine := &Engine{System: system, Scorer: fixedScorer{}, Width: 4}
	cache := chainCache(t, 3)

	beams, err := engine.ParseBatch(context.Background(), []interface{}{3}, cache, nil)
	require.NoError(t, err)
	beam := beams[0]

	// both actions produce the same structure every round, so the beam
	// never grows past one hypothesis despite width 4
	assert.Len(t, beam.Hyps, 1)
	best := beam.Best()
	assert.True(t, best.Final)
	assert.InDelta(t, 0.6, float64(best.Score), 1e-6)
	assert.Equal(t, []int{1, 1, 1}, best.History, "the higher-scoring duplicate survives")
}

func TestBeamViolationTracking(t *testing.T) {
	system := newChainSystem()
	engine := &Engine{System: system, Scorer: fixedScorer{}, Width: 1}
	cache := chainCache(t, 3)

	gold := []int{0, 0, 0}
	beams, err := engine.ParseBatch(context.Background(), []interface{}{3}, cache, [][]int{gold})
	require.NoError(t, err)
	beam := beams[0]

	// width 1 keeps only action 1's path; the gold prefix falls out of
	// the beam on the very first step
	assert.Equal(t, 1, beam.ViolationStep)
	require.NotNil(t, beam.ViolationHyp)
	assert.Equal(t, []int{1}, beam.ViolationHyp.History)
}

func TestBeamDensityPruning(t *testing.T) {
	system := newChainSystem()
	system.distinct = true
	valid := bitset.New(2)

	// without a density margin, width 4 keeps both branches
	loose := NewBeam(4, 0, system.Initial(2))
	loose.advance(system, [][]float32{{0.1, 0.2}}, valid)
	assert.Len(t, loose.Hyps, 2)

	// margin 0.25 of best 0.2 keeps only candidates above 0.15
	tight := NewBeam(4, 0.25, system.Initial(2))
	tight.advance(system, [][]float32{{0.1, 0.2}}, valid)
	assert.Len(t, tight.Hyps, 1)
	assert.InDelta(t, 0.2, float64(tight.Best().Score), 1e-6)
}

func TestBeamWidthOneIsDeterministic(t *testing.T) {
	system := newChainSystem()
	engine := &Engine{System: system, Scorer: fixedScorer{}, Width: 1}
	cache := chainCache(t, 5, 5)

	beams, err := engine.ParseBatch(context.Background(), []interface{}{5, 5}, cache, nil)
	require.NoError(t, err)
	assert.Equal(t, beams[0].Best().History, beams[1].Best().History)
}

func TestBeamCancellation(t *testing.T) {
	system := newChainSystem()
	engine := &Engine{System: system, Scorer: fixedScorer{}, Width: 2}
	cache := chainCache(t, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.ParseBatch(ctx, []interface{}{3}, cache, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
