package types

import (
	"fmt"

	"github.com/SigmoidFreud/spaCy/util"
)

// DepRel is a dependency relation label.
type DepRel string

const RootLabel = DepRel("ROOT")

type Token struct {
	Word string
	POS  string
}

type Sentence []Token

func (s Sentence) Tokens() []string {
	retval := make([]string, len(s))
	for i, t := range s {
		retval[i] = t.Word
	}
	return retval
}

// DependencyGold is the reference structure used only during training:
// Heads[i] is the gold governor of token i (-1 for a root), Labels[i]
// the enum id of the arc's relation.
type DependencyGold struct {
	Heads  []int
	Labels []int
}

func NewGold(heads []int, labels []int) *DependencyGold {
	if len(heads) != len(labels) {
		panic(fmt.Sprintf("Got %d heads but %d labels", len(heads), len(labels)))
	}
	for i, h := range heads {
		if h < -1 || h >= len(heads) || h == i {
			panic(fmt.Sprintf("Gold head %d of token %d out of range", h, i))
		}
	}
	return &DependencyGold{Heads: heads, Labels: labels}
}

func (g *DependencyGold) Len() int {
	return len(g.Heads)
}

// NumArcs counts the non-root attachments the gold annotation carries.
func (g *DependencyGold) NumArcs() int {
	var n int
	for _, h := range g.Heads {
		if h >= 0 {
			n++
		}
	}
	return n
}

// HasArc tests for gold arc head -> modifier.
func (g *DependencyGold) HasArc(head, modifier int) bool {
	return modifier >= 0 && modifier < len(g.Heads) && g.Heads[modifier] == head
}

// EnumLabels maps relation names to ids through enum, in order of first
// appearance. The enumeration is append-only across a corpus.
func EnumLabels(names []DepRel, enum *util.EnumSet) []int {
	labels := make([]int, len(names))
	for i, name := range names {
		labels[i], _ = enum.Add(string(name))
	}
	return labels
}
