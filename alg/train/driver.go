package train

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bits-and-blooms/bitset"

	"github.com/SigmoidFreud/spaCy/alg/features"
	"github.com/SigmoidFreud/spaCy/alg/search"
	"github.com/SigmoidFreud/spaCy/alg/transition"
)

// Window length bounds: training steps per batch member are balanced by
// splitting long inputs into windows no shorter than MinWindow and no
// longer than MaxWindow transitions.
const (
	MinWindow = 5
	MaxWindow = 50
)

// Example is one training pair.
type Example struct {
	Input  interface{}
	Length int
	Gold   transition.Gold
}

// Result reports one batch update.
type Result struct {
	Loss    float64
	States  int
	Skipped int
}

// Trainer is the greedy training-batch driver: it computes the
// oracle-loss gradient per state per step and hands it to the scorer's
// backward pass. The scorer accumulates its own parameter gradients; the
// optimizer applying them is external.
type Trainer struct {
	System transition.System
	Scorer search.Scorer
	Log    *slog.Logger
}

// windowLength balances step counts across a batch despite variable
// input length: the window is the shortest input's transition budget,
// clamped to [MinWindow, MaxWindow].
func windowLength(examples []Example) int {
	window := MaxWindow
	for _, ex := range examples {
		if ex.Length < window {
			window = ex.Length
		}
	}
	if window < MinWindow {
		window = MinWindow
	}
	return window
}

type trainState struct {
	state     transition.Configuration
	gold      transition.Gold
	base      int
	remaining int
}

// initGoldBatch fast-forwards fresh states along each example's oracle
// sequence to successive window starts. Examples whose gold is
// unreachable are skipped, never fatal.
func (t *Trainer) initGoldBatch(examples []Example, cache *features.Handle, window int) ([]*trainState, int) {
	var (
		states  []*trainState
		skipped int
	)
	for i, ex := range examples {
		sequence, err := t.System.OracleSequence(ex.Input, ex.Gold)
		if err != nil {
			if errors.Is(err, transition.ErrOracleUnreachable) {
				if t.Log != nil {
					t.Log.Warn("skipping unreachable gold", "example", i, "err", err)
				}
				skipped++
				continue
			}
			panic(err)
		}
		base := cache.Offset(i)
		for start := 0; start == 0 || start < len(sequence); start += window {
			state := t.System.Initial(ex.Input)
			if o, ok := state.(search.Offsettable); ok {
				o.SetOffset(base)
			}
			for _, action := range sequence[:min(start, len(sequence))] {
				t.System.Apply(state, action)
			}
			if state.Terminal() {
				break
			}
			states = append(states, &trainState{
				state:     state,
				gold:      ex.Gold,
				base:      base,
				remaining: window,
			})
		}
	}
	return states, skipped
}

// TrainBatch runs one cost-sensitive update over the batch. A batch with
// no usable gold returns a zero Result rather than failing.
func (t *Trainer) TrainBatch(ctx context.Context, examples []Example, cache *features.Handle) (Result, error) {
	window := windowLength(examples)
	states, skipped := t.initGoldBatch(examples, cache, window)
	result := Result{States: len(states), Skipped: skipped}
	if len(states) == 0 {
		return result, nil
	}

	numClasses := t.Scorer.NumClasses()
	valid := bitset.New(uint(numClasses))
	costs := make([]float32, numClasses)
	ctxIDs := make([]int, 0, 16)

	live := states
	for len(live) > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		feats := make([][]float32, len(live))
		for n, ts := range live {
			ctxIDs = ctxIDs[:ts.state.ContextWidth()]
			ts.state.ContextTokens(ctxIDs)
			row := make([]float32, cache.RowWidth())
			cache.SumFeatures(ts.base, ctxIDs, row)
			feats[n] = row
		}
		scores, backward := t.Scorer.Score(feats)

		dScores := make([][]float32, len(live))
		for n, ts := range live {
			dScores[n] = make([]float32, numClasses)
			t.System.Legal(ts.state, valid)
			t.System.Costs(ts.state, ts.gold, valid, costs)
			loss, ok := Gradient(scores[n], costs, valid, dScores[n])
			if !ok {
				ts.remaining = 0
				continue
			}
			result.Loss += loss
			follow := BestAction(scores[n], costs, valid)
			t.System.Apply(ts.state, follow)
			ts.remaining--
		}
		if backward != nil {
			backward(dScores)
		}

		next := live[:0]
		for _, ts := range live {
			if ts.remaining > 0 && !ts.state.Terminal() {
				next = append(next, ts)
			}
		}
		live = next
	}
	return result, nil
}
