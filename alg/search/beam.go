package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/SigmoidFreud/spaCy/alg/features"
	"github.com/SigmoidFreud/spaCy/alg/transition"
)

// MaxTransitions bounds a single beam's rounds; a system that fails to
// make progress within it has broken its own termination contract.
const MaxTransitions = 800

// Hypothesis is one scored partial parse within a beam.
type Hypothesis struct {
	State   transition.Configuration
	Score   float32
	History []int
	Final   bool
}

// Beam holds up to Width concurrently tracked hypotheses for one input,
// ranked by cumulative score. It is exclusively owned by the engine
// round driving it and never shared across goroutines.
type Beam struct {
	Width   int
	Density float32
	Hyps    []*Hypothesis
	Done    bool

	// gold bookkeeping for max-violation / early-update training; nil
	// GoldSequence disables it
	GoldSequence  []int
	ViolationStep int
	ViolationHyp  *Hypothesis

	step      int
	goldAlive bool
}

func NewBeam(width int, density float32, initial transition.Configuration) *Beam {
	if width < 1 {
		width = 1
	}
	first := &Hypothesis{State: initial, Final: initial.Terminal()}
	return &Beam{
		Width:         width,
		Density:       density,
		Hyps:          []*Hypothesis{first},
		Done:          first.Final,
		ViolationStep: -1,
		goldAlive:     true,
	}
}

// Best is the 0th-ranked hypothesis; the beam may also be inspected for
// k-best output via Hyps.
func (b *Beam) Best() *Hypothesis {
	if len(b.Hyps) == 0 {
		panic("Can't retrieve best hypothesis from empty beam")
	}
	return b.Hyps[0]
}

type candidate struct {
	parent *Hypothesis
	class  int // -1 carries a finalized hypothesis through unchanged
	score  float32
}

// advance expands every non-final hypothesis with its legal actions,
// ranks the candidate pool, and retains at most Width survivors after
// density pruning and structural deduplication. scores[i] must hold the
// per-class scores of Hyps[i] (nil rows for finalized hypotheses, which
// are excluded from scoring but still compete for beam slots).
func (b *Beam) advance(system transition.System, scores [][]float32, valid *bitset.BitSet) {
	if b.Done {
		return
	}
	candidates := make([]candidate, 0, len(b.Hyps)*4)
	for i, hyp := range b.Hyps {
		if hyp.Final {
			candidates = append(candidates, candidate{parent: hyp, class: -1, score: hyp.Score})
			continue
		}
		system.Legal(hyp.State, valid)
		any := false
		for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
			candidates = append(candidates, candidate{
				parent: hyp,
				class:  int(id),
				score:  hyp.Score + scores[i][id],
			})
			any = true
		}
		if !any {
			panic(fmt.Sprintf("No legal action at non-final state %v", hyp.State))
		}
	}
	// stable: score ties resolve to hypothesis rank, then lowest class id
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var threshold float32
	usesThreshold := b.Density > 0 && len(candidates) > 0
	if usesThreshold {
		best := candidates[0].score
		threshold = best - b.Density*float32(math.Abs(float64(best)))
	}

	survivors := make([]*Hypothesis, 0, b.Width)
	seen := make(map[uint64]struct{}, b.Width)
	for _, cand := range candidates {
		if len(survivors) == b.Width {
			break
		}
		if usesThreshold && cand.score < threshold {
			break
		}
		next := cand.parent
		if cand.class >= 0 {
			state := cand.parent.State.Copy()
			system.Apply(state, cand.class)
			history := make([]int, len(cand.parent.History), len(cand.parent.History)+1)
			copy(history, cand.parent.History)
			next = &Hypothesis{
				State:   state,
				Score:   cand.score,
				History: append(history, cand.class),
				Final:   state.Terminal(),
			}
		}
		// structurally identical states are the same hypothesis; the
		// ranking order guarantees the first one seen scores highest
		h := next.State.Hash()
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		survivors = append(survivors, next)
	}
	b.Hyps = survivors
	b.step++

	b.Done = true
	for _, hyp := range b.Hyps {
		if !hyp.Final {
			b.Done = false
			break
		}
	}
	b.trackGold()
}

// trackGold records the violation point: the first step at which no
// surviving hypothesis is a prefix of the gold action sequence. The
// update rule consuming it is external to the engine.
func (b *Beam) trackGold() {
	if b.GoldSequence == nil || !b.goldAlive {
		return
	}
	for _, hyp := range b.Hyps {
		if isPrefix(hyp.History, b.GoldSequence) {
			return
		}
	}
	b.goldAlive = false
	b.ViolationStep = b.step
	if len(b.Hyps) > 0 {
		b.ViolationHyp = b.Hyps[0]
	}
}

func isPrefix(history, gold []int) bool {
	if len(history) > len(gold) {
		return false
	}
	for i, t := range history {
		if gold[i] != t {
			return false
		}
	}
	return true
}

// Engine drives beam search over a batch: each round gathers the context
// of every live hypothesis across every beam, makes one scorer call, and
// advances each beam independently.
type Engine struct {
	System  transition.System
	Scorer  Scorer
	Width   int
	Density float32
	Log     *slog.Logger
}

// ParseBatch runs every input's beam to completion and returns the beams;
// Best() of each is the parse result. golds, when non-nil, supplies the
// oracle sequences enabling violation tracking (training mode).
func (e *Engine) ParseBatch(ctx context.Context, inputs []interface{}, cache *features.Handle, golds [][]int) ([]*Beam, error) {
	beams := make([]*Beam, len(inputs))
	bases := make([]int, len(inputs))
	for i, input := range inputs {
		initial := e.System.Initial(input)
		if o, ok := initial.(Offsettable); ok {
			o.SetOffset(cache.Offset(i))
		}
		beams[i] = NewBeam(e.Width, e.Density, initial)
		if golds != nil {
			beams[i].GoldSequence = golds[i]
		}
		bases[i] = cache.Offset(i)
	}

	numClasses := e.Scorer.NumClasses()
	valid := bitset.New(uint(numClasses))
	ctxIDs := make([]int, 0, 16)
	var round int
	for {
		allDone := true
		for _, beam := range beams {
			if !beam.Done {
				allDone = false
				break
			}
		}
		if allDone {
			break
		}
		if round > MaxTransitions {
			panic(fmt.Sprintf("Beam search did not terminate within %d rounds", MaxTransitions))
		}
		// cooperative interrupt, once per round
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// gather every live hypothesis across all beams into one batch
		type rowRef struct{ beam, hyp int }
		refs := make([]rowRef, 0, len(beams)*e.Width)
		feats := make([][]float32, 0, len(beams)*e.Width)
		for bi, beam := range beams {
			if beam.Done {
				continue
			}
			for hi, hyp := range beam.Hyps {
				if hyp.Final {
					continue
				}
				ctxIDs = ctxIDs[:hyp.State.ContextWidth()]
				hyp.State.ContextTokens(ctxIDs)
				row := make([]float32, cache.RowWidth())
				cache.SumFeatures(bases[bi], ctxIDs, row)
				refs = append(refs, rowRef{bi, hi})
				feats = append(feats, row)
			}
		}
		scored, _ := e.Scorer.Score(feats)

		perBeam := make(map[int][][]float32, len(beams))
		for bi, beam := range beams {
			if beam.Done {
				continue
			}
			perBeam[bi] = make([][]float32, len(beam.Hyps))
		}
		for n, ref := range refs {
			perBeam[ref.beam][ref.hyp] = scored[n]
		}
		for bi, beam := range beams {
			if beam.Done {
				continue
			}
			beam.advance(e.System, perBeam[bi], valid)
		}
		round++
	}
	if e.Log != nil {
		e.Log.Debug("beam batch done", "inputs", len(inputs), "width", e.Width, "rounds", round)
	}
	return beams, nil
}
