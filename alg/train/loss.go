// Package train computes cost-sensitive training losses for transition
// scorers and drives windowed batch training over oracle sequences.
package train

import (
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Gradient computes the cost-sensitive multi-label loss gradient of one
// state's raw score vector and writes it into dst.
//
// best is the legal action with minimal cost, ties broken by highest
// score; guess is the legal action with highest score regardless of
// cost. Z is the softmax partition over all legal actions relative to
// guess's score, gZ the partition over actions whose cost ties the
// minimum, relative to best's score. Minimal-cost classes receive
// exp(s)/Z - exp(s)/gZ, pushing probability mass within the
// gold-equivalent set; all other legal classes receive exp(s)/Z. Illegal
// classes get exactly zero. Multiple simultaneous minimal-cost actions
// are supported; this is not a single-label softmax.
//
// The returned loss is the negative log-probability mass of the
// minimal-cost set. ok is false when no class is legal (degenerate
// input), in which case dst is untouched and the caller should treat the
// example as a no-op.
func Gradient(scores, costs []float32, valid *bitset.BitSet, dst []float32) (loss float64, ok bool) {
	guess, best := -1, -1
	var minCost float32
	for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
		i := int(id)
		if guess < 0 || scores[i] > scores[guess] {
			guess = i
		}
		if best < 0 || costs[i] < minCost || (costs[i] == minCost && scores[i] > scores[best]) {
			best = i
			minCost = costs[i]
		}
	}
	if guess < 0 {
		return 0, false
	}

	var z, gZ float64
	for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
		i := int(id)
		z += math.Exp(float64(scores[i] - scores[guess]))
		if costs[i] <= minCost {
			gZ += math.Exp(float64(scores[i] - scores[best]))
		}
	}

	var goldMass float64
	for i := range dst {
		dst[i] = 0
	}
	for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
		i := int(id)
		prob := math.Exp(float64(scores[i]-scores[guess])) / z
		if costs[i] <= minCost {
			dst[i] = float32(prob - math.Exp(float64(scores[i]-scores[best]))/gZ)
			goldMass += prob
		} else {
			dst[i] = float32(prob)
		}
	}
	if goldMass <= 0 {
		goldMass = math.SmallestNonzeroFloat64
	}
	return -math.Log(goldMass), true
}

// BestAction is the dynamic oracle's follow action: minimal cost among
// legal classes, ties broken by highest score, then lowest class id.
// Returns -1 when nothing is legal.
func BestAction(scores, costs []float32, valid *bitset.BitSet) int {
	best := -1
	var minCost float32
	for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
		i := int(id)
		if best < 0 || costs[i] < minCost || (costs[i] == minCost && scores[i] > scores[best]) {
			best = i
			minCost = costs[i]
		}
	}
	return best
}
