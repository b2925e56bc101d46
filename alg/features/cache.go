// Package features implements the per-batch precompute cache: every
// token's contribution to every context slot is computed once per batch,
// so a search step assembles a state's input vector by summing cached
// rows instead of re-running the embedding for each step of each state.
package features

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// EmbedFunc produces the per-token embedding matrix of one input. It is
// the tok2vec collaborator's forward pass; its architecture is not this
// package's concern.
type EmbedFunc func(input interface{}) ([][]float32, error)

// SlotProjector maps a token embedding to its cached row for one context
// slot. Scorers with slot-specific first-layer weights fold them in here;
// Width is the projected width O and Pieces the maxout piece count P, so
// a cached row is O*P wide.
type SlotProjector interface {
	Slots() int
	Width() int
	Pieces() int
	ProjectSlot(slot int, emb []float32, dst []float32)
}

// Handle is the read-only precomputed table for one batch. It is safe
// for concurrent readers once built; all mutation happens inside Build's
// background fill, and every accessor waits for that fill exactly once.
type Handle struct {
	slots, width, pieces int

	offsets []int
	lengths []int

	table [][]float32 // row per (input-token): slots * width * pieces
	embs  [][]float32 // raw embedding per token, retained for training

	done chan struct{}
	once sync.Once
	err  error
}

// Build starts the batch precompute and returns immediately; the table
// fills asynchronously and readers block on first use. Embedding calls
// run one goroutine per input, bounded by workers.
func Build(ctx context.Context, inputs []interface{}, lengths []int, embed EmbedFunc, proj SlotProjector, workers int) *Handle {
	if len(inputs) != len(lengths) {
		panic(fmt.Sprintf("Got %d inputs but %d lengths", len(inputs), len(lengths)))
	}
	if workers < 1 {
		workers = 1
	}
	h := &Handle{
		slots:   proj.Slots(),
		width:   proj.Width(),
		pieces:  proj.Pieces(),
		offsets: make([]int, len(inputs)),
		lengths: make([]int, len(inputs)),
		done:    make(chan struct{}),
	}
	var total int
	for i, n := range lengths {
		h.offsets[i] = total
		h.lengths[i] = n
		total += n
	}
	h.table = make([][]float32, total)
	h.embs = make([][]float32, total)

	go func() {
		defer close(h.done)
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range inputs {
			i := i
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return err
				}
				emb, err := embed(inputs[i])
				if err != nil {
					return fmt.Errorf("embedding input %d: %w", i, err)
				}
				if len(emb) != h.lengths[i] {
					return fmt.Errorf("embedding input %d: got %d rows for %d tokens", i, len(emb), h.lengths[i])
				}
				rowLen := h.slots * h.width * h.pieces
				base := h.offsets[i]
				for t, tokEmb := range emb {
					row := make([]float32, rowLen)
					for f := 0; f < h.slots; f++ {
						proj.ProjectSlot(f, tokEmb, row[f*h.width*h.pieces:(f+1)*h.width*h.pieces])
					}
					h.table[base+t] = row
					h.embs[base+t] = tokEmb
				}
				return nil
			})
		}
		h.err = g.Wait()
	}()
	return h
}

// wait blocks until the background fill completes; evaluated lazily,
// once, memoized.
func (h *Handle) wait() error {
	h.once.Do(func() {
		<-h.done
	})
	return h.err
}

func (h *Handle) Err() error {
	return h.wait()
}

// Offset returns the flat row offset of input i's first token.
func (h *Handle) Offset(i int) int {
	return h.offsets[i]
}

func (h *Handle) Width() int {
	return h.width
}

func (h *Handle) Pieces() int {
	return h.pieces
}

// RowWidth is the width of a summed feature vector: O*P.
func (h *Handle) RowWidth() int {
	return h.width * h.pieces
}

// SumFeatures writes into dst the elementwise sum, over every context
// slot, of the cached row of the token occupying that slot. A negative
// slot id contributes zero. base is the owning input's Offset.
func (h *Handle) SumFeatures(base int, ctx []int, dst []float32) {
	if err := h.wait(); err != nil {
		panic(fmt.Sprintf("Using feature cache that failed to build: %v", err))
	}
	if len(ctx) != h.slots {
		panic(fmt.Sprintf("Got %d context ids for %d slots", len(ctx), h.slots))
	}
	op := h.width * h.pieces
	if len(dst) < op {
		panic(fmt.Sprintf("Feature buffer too small: %d < %d", len(dst), op))
	}
	for i := 0; i < op; i++ {
		dst[i] = 0
	}
	for f, tok := range ctx {
		if tok < 0 {
			continue
		}
		row := h.table[base+tok]
		slice := row[f*op : (f+1)*op]
		for i, v := range slice {
			dst[i] += v
		}
	}
}

// Embedding returns the raw retained embedding of a token row; training
// uses it to push gradients into scorer parameters.
func (h *Handle) Embedding(base, tok int) []float32 {
	if err := h.wait(); err != nil {
		panic(fmt.Sprintf("Using feature cache that failed to build: %v", err))
	}
	return h.embs[base+tok]
}

// MaxPieces collapses a summed O*P vector to width O by taking, per
// output unit, the maximum piece (maxout reduction).
func MaxPieces(sum []float32, pieces int, dst []float32) {
	if pieces <= 1 {
		copy(dst, sum)
		return
	}
	width := len(sum) / pieces
	if len(dst) < width {
		panic(fmt.Sprintf("Reduction buffer too small: %d < %d", len(dst), width))
	}
	for o := 0; o < width; o++ {
		best := sum[o*pieces]
		for p := 1; p < pieces; p++ {
			if v := sum[o*pieces+p]; v > best {
				best = v
			}
		}
		dst[o] = best
	}
}
