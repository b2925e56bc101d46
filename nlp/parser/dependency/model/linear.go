// Package model provides a linear scorer collaborator for the search
// engines. The engines only require the Score/backward capability; any
// other conforming architecture can replace this one.
package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"

	"github.com/SigmoidFreud/spaCy/alg/features"
	"github.com/SigmoidFreud/spaCy/alg/search"
)

// Linear scores a state by a single affine map over its assembled
// feature vector: scores = W*x + b, with x the slot-concatenated context
// embedding. Backward accumulates parameter gradients internally; an
// external optimizer applies them via Update.
type Linear struct {
	Slots, Dim, Classes int
	W                   [][]float32 // [class][Slots*Dim]
	B                   []float32

	dW [][]float32
	dB []float32
}

var _ search.Scorer = &Linear{}

func NewLinear(slots, dim, classes int, seed int64) *Linear {
	rng := rand.New(rand.NewSource(seed))
	m := &Linear{
		Slots:   slots,
		Dim:     dim,
		Classes: classes,
		W:       make([][]float32, classes),
		B:       make([]float32, classes),
		dW:      make([][]float32, classes),
		dB:      make([]float32, classes),
	}
	width := slots * dim
	scale := float32(1.0 / float32(width))
	for c := 0; c < classes; c++ {
		m.W[c] = make([]float32, width)
		m.dW[c] = make([]float32, width)
		for k := range m.W[c] {
			m.W[c][k] = (rng.Float32()*2 - 1) * scale
		}
	}
	return m
}

func (m *Linear) NumClasses() int {
	return m.Classes
}

// Projector returns the slot projection the feature cache precomputes
// with on the training path: the identity embedding placed in its slot's
// block, so summation concatenates the context.
func (m *Linear) Projector() features.SlotProjector {
	return BlockProjector{NumSlots: m.Slots, Dim: m.Dim}
}

func (m *Linear) Score(feats [][]float32) ([][]float32, search.Backward) {
	scores := make([][]float32, len(feats))
	for n, x := range feats {
		row := make([]float32, m.Classes)
		for c := 0; c < m.Classes; c++ {
			row[c] = m.B[c] + dot(m.W[c], x)
		}
		scores[n] = row
	}
	backward := func(dScores [][]float32) [][]float32 {
		if len(dScores) != len(feats) {
			panic(fmt.Sprintf("Got %d gradient rows for %d scored rows", len(dScores), len(feats)))
		}
		dFeats := make([][]float32, len(feats))
		for n, x := range feats {
			dx := make([]float32, len(x))
			for c, g := range dScores[n] {
				if g == 0 {
					continue
				}
				m.dB[c] += g
				wc, dwc := m.W[c], m.dW[c]
				for k, xv := range x {
					dwc[k] += g * xv
					dx[k] += g * wc[k]
				}
			}
			dFeats[n] = dx
		}
		return dFeats
	}
	return scores, backward
}

// Update applies and clears the accumulated gradients.
func (m *Linear) Update(lr float32) {
	for c := 0; c < m.Classes; c++ {
		m.B[c] -= lr * m.dB[c]
		m.dB[c] = 0
		wc, dwc := m.W[c], m.dW[c]
		for k := range wc {
			wc[k] -= lr * dwc[k]
			dwc[k] = 0
		}
	}
}

// Folded returns the no-hidden-layer inference pair: a projector with
// the class weights folded in, so a cached row is already a per-class
// partial score, and a scorer whose remaining work is a bias add. This
// is the fast path the batched greedy engine parallelizes.
func (m *Linear) Folded() (features.SlotProjector, search.Scorer) {
	return &foldedProjector{m}, &foldedScorer{m}
}

type foldedProjector struct {
	m *Linear
}

func (p *foldedProjector) Slots() int  { return p.m.Slots }
func (p *foldedProjector) Width() int  { return p.m.Classes }
func (p *foldedProjector) Pieces() int { return 1 }

func (p *foldedProjector) ProjectSlot(slot int, emb []float32, dst []float32) {
	d := p.m.Dim
	for c := 0; c < p.m.Classes; c++ {
		dst[c] = dot(p.m.W[c][slot*d:(slot+1)*d], emb)
	}
}

type foldedScorer struct {
	m *Linear
}

var _ search.Scorer = &foldedScorer{}
var _ search.RowScorer = &foldedScorer{}

func (s *foldedScorer) NumClasses() int {
	return s.m.Classes
}

func (s *foldedScorer) Score(feats [][]float32) ([][]float32, search.Backward) {
	scores := make([][]float32, len(feats))
	for n, x := range feats {
		row := make([]float32, s.m.Classes)
		s.ScoreRow(x, row)
		scores[n] = row
	}
	return scores, nil
}

func (s *foldedScorer) ScoreRow(feat []float32, dst []float32) {
	for c := 0; c < s.m.Classes; c++ {
		dst[c] = feat[c] + s.m.B[c]
	}
}

// BlockProjector places a token's embedding in its context slot's block,
// leaving the rest zero; summing rows concatenates the context.
type BlockProjector struct {
	NumSlots, Dim int
}

var _ features.SlotProjector = BlockProjector{}

func (p BlockProjector) Slots() int  { return p.NumSlots }
func (p BlockProjector) Width() int  { return p.NumSlots * p.Dim }
func (p BlockProjector) Pieces() int { return 1 }

func (p BlockProjector) ProjectSlot(slot int, emb []float32, dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst[slot*p.Dim:(slot+1)*p.Dim], emb)
}

func dot(a, b []float32) float32 {
	var sum float32
	for i, v := range a {
		sum += v * b[i]
	}
	return sum
}

type linearBlob struct {
	Slots, Dim, Classes int
	W                   [][]float32
	B                   []float32
}

// Save reduces the model to an opaque blob; the byte layout is owned
// here, not by the engines.
func (m *Linear) Save() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(linearBlob{m.Slots, m.Dim, m.Classes, m.W, m.B})
	return buf.Bytes(), err
}

func Load(data []byte) (*Linear, error) {
	var blob linearBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return nil, err
	}
	m := &Linear{
		Slots:   blob.Slots,
		Dim:     blob.Dim,
		Classes: blob.Classes,
		W:       blob.W,
		B:       blob.B,
		dW:      make([][]float32, blob.Classes),
		dB:      make([]float32, blob.Classes),
	}
	for c := range m.dW {
		m.dW[c] = make([]float32, blob.Slots*blob.Dim)
	}
	return m, nil
}
