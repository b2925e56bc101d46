package transition

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/SigmoidFreud/spaCy/alg/transition"
	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
	"github.com/SigmoidFreud/spaCy/util"
)

// ArcStandard is the arc-standard transition system:
//
//	LA-r   (S|s, b|B, A) => (S,   b|B, A+{(b,r,s)})
//	RA-r   (S|s, b|B, A) => (S,   s|B, A+{(s,r,b)})
//	SH     (S,   b|B, A) => (S|b, B,   A)
//
// A right attachment returns the head to the buffer front; the parse is
// complete when the stack is empty and only the root remains unconsumed.
// Shifting the last buffer token onto a non-empty stack would strand the
// stack, so legality forbids it.
type ArcStandard struct {
	Labels      *util.EnumSet
	transitions *transition.Set
	SHIFT       int
}

var _ transition.System = &ArcStandard{}

func NewArcStandard(labels *util.EnumSet) *ArcStandard {
	a := &ArcStandard{
		Labels:      labels,
		transitions: transition.NewSet(1 + 2*labels.Len()),
	}
	a.SHIFT = a.transitions.Add(Shift, transition.NoLabel)
	for l := 0; l < labels.Len(); l++ {
		a.transitions.Add(Left, l)
		a.transitions.Add(Right, l)
	}
	return a
}

func (a *ArcStandard) AddLabel(label string) {
	l, _ := a.Labels.Add(label)
	a.transitions.Add(Left, l)
	a.transitions.Add(Right, l)
}

func (a *ArcStandard) Transitions() *transition.Set {
	return a.transitions
}

func (a *ArcStandard) Name() string {
	return "Arc Standard"
}

func (a *ArcStandard) Initial(input interface{}) transition.Configuration {
	state := new(State)
	state.Init(input)
	state.TerminalBuffer = 1
	state.TerminalStack = 0
	return state
}

func (a *ArcStandard) TerminalShape(c transition.Configuration) bool {
	state := c.(*State)
	return state.Stack().Size() == 0 && state.BufferSize() == 1
}

func (a *ArcStandard) Apply(c transition.Configuration, t int) {
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
	case Left:
		s, sExists := state.Stack().Pop()
		b, bExists := state.BufferPeek(0)
		if !(sExists && bExists) {
			panic(fmt.Sprintf("Can't LA, stack and/or buffer are/is empty: %v", state))
		}
		state.AddArc(Arc{Head: b, Modifier: s, Relation: trans.Label})
	case Right:
		s, sExists := state.Stack().Pop()
		b, bExists := state.BufferPop()
		if !(sExists && bExists) {
			panic("Can't RA, stack and/or buffer are/is empty")
		}
		state.AddArc(Arc{Head: s, Modifier: b, Relation: trans.Label})
		state.BufferPushFront(s)
	default:
		panic(fmt.Sprintf("Unknown transition kind %c", trans.Kind))
	}
	state.SetLastTransition(trans)
	state.IncrementStep()
}

func (a *ArcStandard) Legal(c transition.Configuration, valid *bitset.BitSet) {
	state, ok := c.(*State)
	if !ok {
		panic("Got wrong configuration type")
	}
	valid.ClearAll()
	if state.Terminal() {
		return
	}
	stackNonEmpty := state.Stack().Size() > 0
	bufferSize := state.BufferSize()
	if bufferSize > 1 || (bufferSize == 1 && !stackNonEmpty) {
		valid.Set(uint(a.SHIFT))
	}
	if stackNonEmpty && bufferSize > 0 {
		for id := 0; id < a.transitions.Len(); id++ {
			if kind := a.transitions.Get(id).Kind; kind == Left || kind == Right {
				valid.Set(uint(id))
			}
		}
	}
}

// decision is the static oracle: left-attach when the buffer front governs
// the stack top, right-attach when the stack top governs a buffer front
// whose dependents are all collected, shift otherwise. Returns -1 when no
// decision applies.
func (a *ArcStandard) decision(state *State, g *nlp.DependencyGold) int {
	s0, sExists := state.Stack().Peek()
	b0, bExists := state.BufferPeek(0)
	if !bExists {
		return -1
	}
	if sExists {
		if headOf(g, s0) == b0 {
			id, exists := a.transitions.IndexOf(Left, g.Labels[s0])
			if !exists {
				panic(fmt.Sprintf("Gold relation %d has no left-arc action", g.Labels[s0]))
			}
			return id
		}
		if headOf(g, b0) == s0 && a.depsAttached(state, g, b0) {
			id, exists := a.transitions.IndexOf(Right, g.Labels[b0])
			if !exists {
				panic(fmt.Sprintf("Gold relation %d has no right-arc action", g.Labels[b0]))
			}
			return id
		}
	}
	return a.SHIFT
}

// depsAttached reports whether every gold dependent of head already has
// its arc in the state.
func (a *ArcStandard) depsAttached(state *State, g *nlp.DependencyGold, head int) bool {
	for k := range g.Heads {
		if g.Heads[k] == head && !state.HasHead(k) {
			return false
		}
	}
	return true
}

// Costs for arc-standard are defined against the static oracle: the
// oracle's decision costs zero, every other legal action one. Dynamic
// oracle training should use the arc-eager system, which decomposes cost
// over arbitrary states.
func (a *ArcStandard) Costs(c transition.Configuration, gold transition.Gold, valid *bitset.BitSet, costs []float32) {
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
	oracle := a.decision(state, g)
	for id, e := valid.NextSet(0); e; id, e = valid.NextSet(id + 1) {
		if int(id) == oracle {
			costs[id] = 0
		} else {
			costs[id] = 1
		}
	}
}

func (a *ArcStandard) OracleSequence(input interface{}, gold transition.Gold) ([]int, error) {
	g, ok := gold.(*nlp.DependencyGold)
	if !ok {
		panic("Gold is not a dependency annotation")
	}
	state := a.Initial(input).(*State)
	valid := bitset.New(uint(a.transitions.Len()))
	sequence := make([]int, 0, 2*len(state.Sent))
	for !state.Terminal() {
		next := a.decision(state, g)
		a.Legal(state, valid)
		if next < 0 || !valid.Test(uint(next)) {
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
