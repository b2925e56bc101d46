package transition

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/SigmoidFreud/spaCy/alg"
	"github.com/SigmoidFreud/spaCy/alg/transition"
	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
)

// ContextWidth is the fixed number of token slots a scorer consumes per
// state: S0..S2, B0..B2, the two leftmost and two rightmost children of
// S0, the two leftmost children of B0, and the head of S0.
const ContextWidth = 13

// NoHead marks an unattached token.
const NoHead = -1

type Arc struct {
	Head     int
	Modifier int
	Relation int
}

func (a Arc) String() string {
	return fmt.Sprintf("(%d,%d,%d)", a.Head, a.Relation, a.Modifier)
}

// State is one partial dependency hypothesis over one sentence: a stack
// of token indices, the unconsumed buffer, and the arc set produced so
// far. It is exclusively owned by the search engine driving it and is
// mutated in place; beam search clones before branching.
type State struct {
	Sent  nlp.Sentence
	stack alg.Stack
	// buffer holds the indices of unconsumed tokens front-first; the
	// arc-standard system re-enqueues a stack token at the front, so the
	// buffer is a full sequence rather than a bare cursor.
	buffer []int
	arcs   []Arc
	heads  []int

	// Offset places this state's rows within a flattened batch buffer.
	Offset int
	step   int

	// terminal shape, configured by the owning transition system;
	// -1 means the dimension does not constrain termination
	TerminalBuffer int
	TerminalStack  int

	last     transition.Transition
	previous *State
}

var _ transition.Configuration = &State{}

func (s *State) Init(input interface{}) {
	sent, ok := input.(nlp.Sentence)
	if !ok {
		panic("Got a non-sentence input")
	}
	n := len(sent)
	s.Sent = sent
	s.stack = alg.NewStackArray(n)
	s.buffer = make([]int, n)
	for i := 0; i < n; i++ {
		s.buffer[i] = i
	}
	s.arcs = make([]Arc, 0, n)
	s.heads = make([]int, n)
	for i := range s.heads {
		s.heads[i] = NoHead
	}
	s.step = 0
	s.last = transition.Transition{Label: transition.NoLabel}
	s.previous = nil
}

func (s *State) Stack() alg.Stack {
	return s.stack
}

func (s *State) SetOffset(offset int) {
	s.Offset = offset
}

func (s *State) BufferSize() int {
	return len(s.buffer)
}

// BufferPeek returns the i-th unconsumed token from the buffer front.
func (s *State) BufferPeek(i int) (int, bool) {
	if i < 0 || i >= len(s.buffer) {
		return 0, false
	}
	return s.buffer[i], true
}

func (s *State) BufferPop() (int, bool) {
	if len(s.buffer) == 0 {
		return 0, false
	}
	retval := s.buffer[0]
	s.buffer = s.buffer[1:]
	return retval, true
}

// BufferPushFront re-enqueues a token at the buffer front (arc-standard
// returns the stack top to the buffer after a right attachment).
func (s *State) BufferPushFront(tok int) {
	s.assertIndex(tok)
	newBuffer := make([]int, 0, len(s.buffer)+1)
	newBuffer = append(newBuffer, tok)
	s.buffer = append(newBuffer, s.buffer...)
}

func (s *State) Head(tok int) int {
	s.assertIndex(tok)
	return s.heads[tok]
}

func (s *State) HasHead(tok int) bool {
	return s.Head(tok) != NoHead
}

func (s *State) Arcs() []Arc {
	return s.arcs
}

// AddArc records head -> modifier. A token acquiring a second governor is
// a programming error in the transition system.
func (s *State) AddArc(arc Arc) {
	s.assertIndex(arc.Head)
	s.assertIndex(arc.Modifier)
	if s.heads[arc.Modifier] != NoHead {
		panic(fmt.Sprintf("Token %d already has head %d, got arc %v", arc.Modifier, s.heads[arc.Modifier], arc))
	}
	s.heads[arc.Modifier] = arc.Head
	s.arcs = append(s.arcs, arc)
}

func (s *State) assertIndex(tok int) {
	if tok < 0 || tok >= len(s.Sent) {
		panic(fmt.Sprintf("Token index %d out of range [0,%d)", tok, len(s.Sent)))
	}
}

// Terminal tests the owning system's terminal shape.
func (s *State) Terminal() bool {
	return (s.TerminalBuffer < 0 || len(s.buffer) == s.TerminalBuffer) &&
		(s.TerminalStack < 0 || s.stack.Size() == s.TerminalStack)
}

func (s *State) Copy() transition.Configuration {
	newState := &State{
		Sent:           s.Sent,
		stack:          s.stack.Copy(),
		buffer:         make([]int, len(s.buffer)),
		arcs:           make([]Arc, len(s.arcs), cap(s.arcs)),
		heads:          make([]int, len(s.heads)),
		Offset:         s.Offset,
		step:           s.step,
		TerminalBuffer: s.TerminalBuffer,
		TerminalStack:  s.TerminalStack,
		last:           s.last,
		previous:       s.previous,
	}
	copy(newState.buffer, s.buffer)
	copy(newState.arcs, s.arcs)
	copy(newState.heads, s.heads)
	return newState
}

// Len is the number of transitions applied so far.
func (s *State) Len() int {
	return s.step
}

func (s *State) IncrementStep() {
	s.step++
}

func (s *State) Previous() transition.Configuration {
	if s.previous == nil {
		return nil
	}
	return s.previous
}

func (s *State) SetPrevious(c transition.Configuration) {
	if c == nil {
		s.previous = nil
		return
	}
	s.previous = c.(*State)
}

func (s *State) SetLastTransition(t transition.Transition) {
	s.last = t
}

func (s *State) GetLastTransition() transition.Transition {
	return s.last
}

func (s *State) ContextWidth() int {
	return ContextWidth
}

// ContextTokens fills dst with the scorer's fixed-width context. Empty
// slots get the sentinel -1.
func (s *State) ContextTokens(dst []int) {
	if len(dst) < ContextWidth {
		panic(fmt.Sprintf("Context buffer too small: %d < %d", len(dst), ContextWidth))
	}
	for i := 0; i < ContextWidth; i++ {
		dst[i] = -1
	}
	for i := 0; i < 3; i++ {
		if tok, exists := s.stack.Index(i); exists {
			dst[i] = tok
		}
		if tok, exists := s.BufferPeek(i); exists {
			dst[3+i] = tok
		}
	}
	if s0, exists := s.stack.Peek(); exists {
		l1, l2 := s.leftmostChildren(s0)
		r1, r2 := s.rightmostChildren(s0)
		dst[6], dst[7], dst[8], dst[9] = l1, l2, r1, r2
		dst[12] = s.heads[s0]
	}
	if b0, exists := s.BufferPeek(0); exists {
		l1, l2 := s.leftmostChildren(b0)
		dst[10], dst[11] = l1, l2
	}
}

func (s *State) leftmostChildren(head int) (int, int) {
	first, second := -1, -1
	for _, arc := range s.arcs {
		if arc.Head != head || arc.Modifier >= head {
			continue
		}
		if first == -1 || arc.Modifier < first {
			second = first
			first = arc.Modifier
		} else if second == -1 || arc.Modifier < second {
			second = arc.Modifier
		}
	}
	return first, second
}

func (s *State) rightmostChildren(head int) (int, int) {
	first, second := -1, -1
	for _, arc := range s.arcs {
		if arc.Head != head || arc.Modifier <= head {
			continue
		}
		if first == -1 || arc.Modifier > first {
			second = first
			first = arc.Modifier
		} else if second == -1 || arc.Modifier > second {
			second = arc.Modifier
		}
	}
	return first, second
}

// Hash is a deterministic digest of structural content (stack, buffer,
// arc set), used only for beam deduplication.
func (s *State) Hash() uint64 {
	var (
		digest xxhash.Digest
		word   [8]byte
	)
	digest.Reset()
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(word[:], uint64(v))
		digest.Write(word[:])
	}
	writeInt(s.stack.Size())
	for i := s.stack.Size() - 1; i >= 0; i-- {
		tok, _ := s.stack.Index(i)
		writeInt(tok)
	}
	writeInt(len(s.buffer))
	for _, tok := range s.buffer {
		writeInt(tok)
	}
	// arcs are digested in modifier order; a modifier has at most one
	// head, so this is a canonical ordering of the arc set
	for mod, head := range s.heads {
		if head != NoHead {
			writeInt(mod)
			writeInt(head)
			writeInt(s.labelOf(mod))
		}
	}
	return digest.Sum64()
}

func (s *State) labelOf(modifier int) int {
	for _, arc := range s.arcs {
		if arc.Modifier == modifier {
			return arc.Relation
		}
	}
	return transition.NoLabel
}

func (s *State) String() string {
	stackStr := make([]string, 0, s.stack.Size())
	for i := s.stack.Size() - 1; i >= 0; i-- {
		tok, _ := s.stack.Index(i)
		stackStr = append(stackStr, fmt.Sprintf("%d", tok))
	}
	arcStr := make([]string, len(s.arcs))
	for i, arc := range s.arcs {
		arcStr[i] = arc.String()
	}
	return fmt.Sprintf("[%s] | %v | {%s}", strings.Join(stackStr, " "), s.buffer, strings.Join(arcStr, " "))
}

// Heads returns the produced governor of every token (NoHead when
// unattached); used to extract the parse once a state is final.
func (s *State) Heads() []int {
	retval := make([]int, len(s.heads))
	copy(retval, s.heads)
	return retval
}

// Labels returns the produced relation of every token, NoLabel when
// unattached.
func (s *State) Labels() []int {
	retval := make([]int, len(s.heads))
	for i := range retval {
		retval[i] = transition.NoLabel
	}
	for _, arc := range s.arcs {
		retval[arc.Modifier] = arc.Relation
	}
	return retval
}
