package transition

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/SigmoidFreud/spaCy/util"
)

// ErrOracleUnreachable is returned by System.OracleSequence when the gold
// annotation cannot be produced by any action sequence the system can
// express (e.g. non-projective gold arcs under a projective system).
var ErrOracleUnreachable = errors.New("gold structure not reachable by transition system")

// NoLabel marks a transition that carries no label component.
const NoLabel = -1

// Transition is one named, optionally labeled, operation of a transition
// system. ID is the dense class id used to index score vectors.
type Transition struct {
	Kind  byte
	Label int
	ID    int
}

func (t Transition) Equal(other Transition) bool {
	return t.Kind == other.Kind && t.Label == other.Label
}

func (t Transition) String() string {
	if t.Label == NoLabel {
		return string(t.Kind)
	}
	return fmt.Sprintf("%c-%d", t.Kind, t.Label)
}

// Set is the append-only catalogue of a system's actions. A (kind, label)
// pair maps to exactly one class id; adding a label allocates new ids at
// the end without invalidating ids handed out before.
type Set struct {
	enum    *util.EnumSet
	actions []Transition
}

func NewSet(capacity int) *Set {
	return &Set{
		enum:    util.NewEnumSet(capacity),
		actions: make([]Transition, 0, capacity),
	}
}

func (s *Set) Add(kind byte, label int) int {
	name := Transition{kind, label, 0}.String()
	id, isNew := s.enum.Add(name)
	if isNew {
		s.actions = append(s.actions, Transition{kind, label, id})
	}
	return id
}

func (s *Set) Get(id int) Transition {
	if id < 0 || id >= len(s.actions) {
		panic(fmt.Sprintf("Unknown transition class %d (have %d)", id, len(s.actions)))
	}
	return s.actions[id]
}

func (s *Set) IndexOf(kind byte, label int) (int, bool) {
	return s.enum.IndexOf(Transition{kind, label, 0}.String())
}

func (s *Set) Len() int {
	return len(s.actions)
}

// Configuration is one partial hypothesis over one input. Implementations
// are mutated in place by System.Apply; beam search clones before
// branching so no two hypotheses alias mutable substructure.
type Configuration interface {
	Init(interface{})
	Terminal() bool

	Copy() Configuration
	Len() int

	Previous() Configuration
	SetPrevious(Configuration)
	SetLastTransition(Transition)
	GetLastTransition() Transition

	// ContextTokens fills dst with the fixed-width token-slot context the
	// scorer consumes; the sentinel -1 marks an empty slot.
	ContextTokens(dst []int)
	ContextWidth() int

	// Hash is a pure function of structural content, used only for
	// hypothesis deduplication, never for score ordering.
	Hash() uint64

	String() string
}

// Gold is an opaque reference annotation; each system casts it to the
// concrete gold type it trains against.
type Gold interface{}

// System is the fixed catalogue of actions plus their legality, cost,
// oracle and effect functions over a Configuration implementation.
type System interface {
	// Apply effects class id t on c, mutating it in place.
	Apply(c Configuration, t int)

	// Legal sets bit i iff class i is structurally valid from c. It must
	// not allocate; the caller owns and reuses the bitset.
	Legal(c Configuration, valid *bitset.BitSet)

	// Costs fills costs[i] with the structural divergence of taking class
	// i from c against gold, for every legal class. Illegal classes are
	// not candidates: their entries are unspecified and must be excluded
	// from comparison via the legality bitset.
	Costs(c Configuration, gold Gold, valid *bitset.BitSet, costs []float32)

	// OracleSequence derives the canonical action sequence reconstructing
	// gold from Initial(input), or ErrOracleUnreachable.
	OracleSequence(input interface{}, gold Gold) ([]int, error)

	Initial(input interface{}) Configuration
	TerminalShape(c Configuration) bool

	Transitions() *Set
	Name() string
}
