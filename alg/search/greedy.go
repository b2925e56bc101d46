package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/SigmoidFreud/spaCy/alg/features"
	"github.com/SigmoidFreud/spaCy/alg/transition"
)

// Offsettable is implemented by configurations that record their row
// placement within the flattened batch feature table.
type Offsettable interface {
	SetOffset(int)
}

// Greedy is the batched single-best engine: every non-final state in the
// batch advances one transition per round, with one scorer call per
// round across the whole live set.
type Greedy struct {
	System  transition.System
	Scorer  Scorer
	Workers int
	Log     *slog.Logger
}

// ParseBatch drives all inputs to final states. cache must be built over
// the same inputs in the same order.
func (g *Greedy) ParseBatch(ctx context.Context, inputs []interface{}, cache *features.Handle) ([]transition.Configuration, error) {
	states := make([]transition.Configuration, len(inputs))
	bases := make([]int, len(inputs))
	for i, input := range inputs {
		states[i] = g.System.Initial(input)
		bases[i] = cache.Offset(i)
		if o, ok := states[i].(Offsettable); ok {
			o.SetOffset(bases[i])
		}
	}
	live := make([]int, 0, len(states))
	for i := range states {
		if !states[i].Terminal() {
			live = append(live, i)
		}
	}

	rowScorer, fastPath := g.Scorer.(RowScorer)
	var round int
	for len(live) > 0 {
		// cooperative interrupt, once per round, never per state
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fastPath {
			g.fastRound(live, states, bases, cache, rowScorer)
		} else {
			g.fullRound(live, states, bases, cache)
		}
		next := live[:0]
		for _, i := range live {
			if !states[i].Terminal() {
				next = append(next, i)
			}
		}
		live = next
		round++
	}
	if g.Log != nil {
		g.Log.Debug("greedy batch done", "inputs", len(inputs), "rounds", round)
	}
	return states, nil
}

// fastRound runs the no-hidden-layer path: each state's step is
// independent of every other state's, so the round partitions the live
// set over a fixed-size worker pool with no shared mutable state beyond
// the read-only cache.
func (g *Greedy) fastRound(live []int, states []transition.Configuration, bases []int, cache *features.Handle, rowScorer RowScorer) {
	workers := g.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(live) {
		workers = len(live)
	}
	chunk := (len(live) + workers - 1) / workers
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > len(live) {
			hi = len(live)
		}
		if lo >= hi {
			break
		}
		part := live[lo:hi]
		eg.Go(func() error {
			numClasses := g.Scorer.NumClasses()
			valid := bitset.New(uint(numClasses))
			scores := make([]float32, numClasses)
			feat := make([]float32, cache.RowWidth())
			ctxIDs := make([]int, 0, 16)
			for _, i := range part {
				state := states[i]
				ctxIDs = ctxIDs[:state.ContextWidth()]
				state.ContextTokens(ctxIDs)
				cache.SumFeatures(bases[i], ctxIDs, feat)
				rowScorer.ScoreRow(feat, scores)
				g.step(state, scores, valid)
			}
			return nil
		})
	}
	// workers never return errors; Wait only joins them
	_ = eg.Wait()
}

// fullRound gathers every live state's features into one batch and makes
// a single scorer call, then applies per-state selections sequentially.
func (g *Greedy) fullRound(live []int, states []transition.Configuration, bases []int, cache *features.Handle) {
	feats := make([][]float32, len(live))
	ctxIDs := make([]int, 0, 16)
	for n, i := range live {
		state := states[i]
		ctxIDs = ctxIDs[:state.ContextWidth()]
		state.ContextTokens(ctxIDs)
		row := make([]float32, cache.RowWidth())
		cache.SumFeatures(bases[i], ctxIDs, row)
		feats[n] = row
	}
	scores, _ := g.Scorer.Score(feats)
	valid := bitset.New(uint(g.Scorer.NumClasses()))
	for n, i := range live {
		g.step(states[i], scores[n], valid)
	}
}

func (g *Greedy) step(state transition.Configuration, scores []float32, valid *bitset.BitSet) {
	g.System.Legal(state, valid)
	best := ArgmaxValid(scores, valid)
	if best < 0 {
		// the transition system contract guarantees a legal action for
		// any non-final state; this is an invariant breach, not a
		// recoverable condition
		panic(fmt.Sprintf("No legal action at non-final state %v", state))
	}
	g.System.Apply(state, best)
}

// ArgmaxValid picks the legal class with strictly highest score; ties
// keep the lowest class id. Returns -1 when no bit is set.
func ArgmaxValid(scores []float32, valid *bitset.BitSet) int {
	best := -1
	var bestScore float32
	for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
		if score := scores[id]; best < 0 || score > bestScore {
			best = int(id)
			bestScore = score
		}
	}
	return best
}
