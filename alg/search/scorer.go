package search

// Backward propagates score-space gradients back to feature space; it is
// the training half of the scorer collaborator.
type Backward func(dScores [][]float32) [][]float32

// Scorer maps a batch of assembled feature vectors to per-action-class
// score vectors. Any architecture conforms; the engines only require
// this capability.
type Scorer interface {
	NumClasses() int
	Score(feats [][]float32) ([][]float32, Backward)
}

// RowScorer marks a scorer with no nonlinear hidden stage: one state's
// step depends only on its own feature row, so the batched greedy engine
// may run per-state steps fully in parallel against read-only caches.
type RowScorer interface {
	ScoreRow(feat []float32, dst []float32)
}
