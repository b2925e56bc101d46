package transition

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/SigmoidFreud/spaCy/alg/transition"
	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
	"github.com/SigmoidFreud/spaCy/util"
)

// Action kinds shared by the dependency systems.
const (
	Shift  = 'S'
	Reduce = 'D'
	Left   = 'L'
	Right  = 'R'
)

// ArcEager is the arc-eager transition system:
//
//	SH     (S,    b|B, A) => (S|b, B,    A)
//	RE     (S|s,  B,   A) => (S,   B,    A)                 if: s has a head
//	LA-r   (S|s,  b|B, A) => (S,   b|B,  A+{(b,r,s)})       if: s has no head
//	RA-r   (S|s,  b|B, A) => (S|s|b, B,  A+{(s,r,b)})
//
// Costs follow the Goldberg-Nivre dynamic oracle: the cost of an action
// is the number of gold arcs it makes unreachable, plus one for a gold
// attachment built with the wrong relation.
type ArcEager struct {
	Labels        *util.EnumSet
	transitions   *transition.Set
	SHIFT, REDUCE int
}

var _ transition.System = &ArcEager{}

func NewArcEager(labels *util.EnumSet) *ArcEager {
	a := &ArcEager{
		Labels:      labels,
		transitions: transition.NewSet(2 + 2*labels.Len()),
	}
	a.SHIFT = a.transitions.Add(Shift, transition.NoLabel)
	a.REDUCE = a.transitions.Add(Reduce, transition.NoLabel)
	for l := 0; l < labels.Len(); l++ {
		a.transitions.Add(Left, l)
		a.transitions.Add(Right, l)
	}
	return a
}

// AddLabel registers the attachment actions of a new relation. Existing
// class ids are unaffected.
func (a *ArcEager) AddLabel(label string) {
	l, _ := a.Labels.Add(label)
	a.transitions.Add(Left, l)
	a.transitions.Add(Right, l)
}

func (a *ArcEager) Transitions() *transition.Set {
	return a.transitions
}

func (a *ArcEager) Name() string {
	return "Arc Eager"
}

func (a *ArcEager) Initial(input interface{}) transition.Configuration {
	state := new(State)
	state.Init(input)
	state.TerminalBuffer = 0
	state.TerminalStack = -1
	return state
}

func (a *ArcEager) TerminalShape(c transition.Configuration) bool {
	state := c.(*State)
	return state.BufferSize() == 0
}

func (a *ArcEager) Apply(c transition.Configuration, t int) {
	state, ok := c.(*State)
	if !ok {
		panic("Got wrong configuration type")
	}
	trans := a.transitions.Get(t)
	switch trans.Kind {
	case Shift:
		b, bExists := state.BufferPop()
		if !bExists {
			panic("Can't shift, buffer is empty")
		}
		state.Stack().Push(b)
	case Reduce:
		s, sExists := state.Stack().Pop()
		if !sExists {
			panic("Can't reduce, stack is empty")
		}
		if !state.HasHead(s) {
			panic(fmt.Sprintf("Can't reduce %d without a head", s))
		}
	case Left:
		s, sExists := state.Stack().Pop()
		b, bExists := state.BufferPeek(0)
		if !(sExists && bExists) {
			panic(fmt.Sprintf("Can't LA, stack and/or buffer are/is empty: %v", state))
		}
		state.AddArc(Arc{Head: b, Modifier: s, Relation: trans.Label})
	case Right:
		s, sExists := state.Stack().Peek()
		b, bExists := state.BufferPop()
		if !(sExists && bExists) {
			panic("Can't RA, stack and/or buffer are/is empty")
		}
		state.AddArc(Arc{Head: s, Modifier: b, Relation: trans.Label})
		state.Stack().Push(b)
	default:
		panic(fmt.Sprintf("Unknown transition kind %c", trans.Kind))
	}
	state.SetLastTransition(trans)
	state.IncrementStep()
}

func (a *ArcEager) Legal(c transition.Configuration, valid *bitset.BitSet) {
	state, ok := c.(*State)
	if !ok {
		panic("Got wrong configuration type")
	}
	valid.ClearAll()
	if state.Terminal() {
		return
	}
	s0, sExists := state.Stack().Peek()
	bufferNonEmpty := state.BufferSize() > 0
	if bufferNonEmpty {
		valid.Set(uint(a.SHIFT))
	}
	if sExists && state.HasHead(s0) {
		valid.Set(uint(a.REDUCE))
	}
	for id := 0; id < a.transitions.Len(); id++ {
		switch a.transitions.Get(id).Kind {
		case Left:
			if sExists && bufferNonEmpty && !state.HasHead(s0) {
				valid.Set(uint(id))
			}
		case Right:
			if sExists && bufferNonEmpty {
				valid.Set(uint(id))
			}
		}
	}
}

func (a *ArcEager) Costs(c transition.Configuration, gold transition.Gold, valid *bitset.BitSet, costs []float32) {
	state, ok := c.(*State)
	if !ok {
		panic("Got wrong configuration type")
	}
	g, ok := gold.(*nlp.DependencyGold)
	if !ok {
		panic("Gold is not a dependency annotation")
	}
	if len(costs) < a.transitions.Len() {
		panic(fmt.Sprintf("Cost buffer too small: %d < %d", len(costs), a.transitions.Len()))
	}
	// legality guarantees the stack/buffer items each case touches exist
	s0, _ := state.Stack().Peek()
	b0, _ := state.BufferPeek(0)
	for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
		trans := a.transitions.Get(int(id))
		var cost float32
		switch trans.Kind {
		case Shift:
			cost = a.pushCost(state, g, b0)
			if headOf(g, b0) >= 0 && inStack(state, headOf(g, b0)) {
				cost++
			}
		case Reduce:
			cost = a.popCost(state, g, s0)
		case Left:
			// deps of s0 in the buffer are lost; its gold head is lost
			// unless it is b0, in which case only a label mismatch costs
			for i := 0; i < state.BufferSize(); i++ {
				k, _ := state.BufferPeek(i)
				if headOf(g, k) == s0 {
					cost++
				}
			}
			if h := headOf(g, s0); h == b0 {
				if g.Labels[s0] != trans.Label {
					cost++
				}
			} else if h >= 0 && inBuffer(state, h) {
				cost++
			}
		case Right:
			cost = a.pushCost(state, g, b0)
			if h := headOf(g, b0); h == s0 {
				if g.Labels[b0] != trans.Label {
					cost++
				}
			} else if h >= 0 && (inBuffer(state, h) || (inStack(state, h) && h != s0)) {
				cost++
			}
		}
		costs[id] = cost
	}
}

// pushCost counts the gold dependents of b waiting headless in the stack;
// once b is pushed they can never attach to it.
func (a *ArcEager) pushCost(state *State, g *nlp.DependencyGold, b int) float32 {
	var cost float32
	for i := 0; i < state.Stack().Size(); i++ {
		k, _ := state.Stack().Index(i)
		if headOf(g, k) == b && !state.HasHead(k) {
			cost++
		}
	}
	return cost
}

// popCost counts the gold arcs between s and the buffer; popping s loses
// all of them.
func (a *ArcEager) popCost(state *State, g *nlp.DependencyGold, s int) float32 {
	var cost float32
	for i := 0; i < state.BufferSize(); i++ {
		k, _ := state.BufferPeek(i)
		if headOf(g, k) == s {
			cost++
		}
	}
	if !state.HasHead(s) {
		if h := headOf(g, s); h >= 0 && inBuffer(state, h) {
			cost++
		}
	}
	return cost
}

func (a *ArcEager) OracleSequence(input interface{}, gold transition.Gold) ([]int, error) {
	g, ok := gold.(*nlp.DependencyGold)
	if !ok {
		panic("Gold is not a dependency annotation")
	}
	state := a.Initial(input).(*State)
	valid := bitset.New(uint(a.transitions.Len()))
	costs := make([]float32, a.transitions.Len())
	sequence := make([]int, 0, 2*len(state.Sent))
	for !state.Terminal() {
		a.Legal(state, valid)
		a.Costs(state, g, valid, costs)
		next := -1
		var nextKind byte
		for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
			if costs[id] != 0 {
				continue
			}
			kind := a.transitions.Get(int(id)).Kind
			if next < 0 || kindPrecedes(kind, nextKind) {
				next = int(id)
				nextKind = kind
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("%w: %s at %v", transition.ErrOracleUnreachable, a.Name(), state)
		}
		a.Apply(state, next)
		sequence = append(sequence, next)
	}
	if len(state.Arcs()) != g.NumArcs() {
		return nil, fmt.Errorf("%w: %s built %d of %d arcs", transition.ErrOracleUnreachable, a.Name(), len(state.Arcs()), g.NumArcs())
	}
	return sequence, nil
}

// kindPrecedes orders the canonical oracle's zero-cost preference:
// attach before reducing, reduce before shifting.
func kindPrecedes(kind, other byte) bool {
	rank := func(k byte) int {
		switch k {
		case Left:
			return 0
		case Right:
			return 1
		case Reduce:
			return 2
		default:
			return 3
		}
	}
	return rank(kind) < rank(other)
}

func headOf(g *nlp.DependencyGold, tok int) int {
	if tok < 0 || tok >= len(g.Heads) {
		return -1
	}
	return g.Heads[tok]
}

func inStack(state *State, tok int) bool {
	for i := 0; i < state.Stack().Size(); i++ {
		if k, _ := state.Stack().Index(i); k == tok {
			return true
		}
	}
	return false
}

func inBuffer(state *State, tok int) bool {
	for i := 0; i < state.BufferSize(); i++ {
		if k, _ := state.BufferPeek(i); k == tok {
			return true
		}
	}
	return false
}
