package model

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/SigmoidFreud/spaCy/alg/features"
	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
)

// HashEmbed is a deterministic stand-in for the tok2vec collaborator: a
// token's embedding is derived from the hash of its surface form and
// part of speech. It carries no trained parameters and therefore no
// backward pass; a real tok2vec slots in behind the same EmbedFunc.
type HashEmbed struct {
	Dim int
}

func (h HashEmbed) EmbedFunc() features.EmbedFunc {
	return func(input interface{}) ([][]float32, error) {
		sent, ok := input.(nlp.Sentence)
		if !ok {
			return nil, fmt.Errorf("embedding non-sentence input %T", input)
		}
		emb := make([][]float32, len(sent))
		for i, tok := range sent {
			emb[i] = h.embed(tok.Word + "\x00" + tok.POS)
		}
		return emb, nil
	}
}

func (h HashEmbed) embed(key string) []float32 {
	row := make([]float32, h.Dim)
	state := xxhash.Sum64String(key)
	for i := range row {
		// splitmix-style stream off the token hash
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		row[i] = float32(int64(z>>11))/float32(1<<52) - 1.0
	}
	return row
}
