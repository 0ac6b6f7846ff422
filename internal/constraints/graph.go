// Package constraints implements the shared constraint graph: an interned,
// append-only DAG of boolean decision nodes used for both type-narrowing
// predicates and control-flow visibility.
//
// Nodes live in an arena indexed by dense integer IDs; structurally equal
// composites intern to the same ID, so graph size tracks the number of
// distinct predicate combinations actually reachable rather than the
// combinatorial product of all branches. A Graph is confined to the
// single-threaded builder of one file while it grows; after the build it is
// immutable and safe for concurrent reads.
package constraints

import (
	"fmt"
	"strings"
)

// ID identifies a constraint node within one Graph. IDs are only meaningful
// for the lifetime of the build pass that produced them.
type ID int32

// Terminal IDs, identical across all graphs.
const (
	// AlwaysFalse is the unsatisfiable constraint: a binding carrying it is
	// never live (e.g. code after an unconditional return).
	AlwaysFalse ID = 0
	// AlwaysTrue is the trivially satisfied constraint.
	AlwaysTrue ID = 1
	// Ambiguous marks visibility that cannot be pinned to a predicate
	// (loop bodies, exception handlers). It is never provably false and
	// never definitely true.
	Ambiguous ID = 2
)

const numTerminals = 3

type op uint8

const (
	opTerminal op = iota
	opAtom
	opAnd
	opOr
	opNot
)

// PredicateKind classifies an atomic test.
type PredicateKind uint8

const (
	// PredTruthy is the truthiness of an arbitrary expression (`if x:`).
	PredTruthy PredicateKind = iota
	// PredInstance is an `isinstance(subject, Class)` test.
	PredInstance
	// PredIsNone is a `subject is None` identity test.
	PredIsNone
	// PredPattern is "subject matched this case clause's pattern".
	PredPattern
)

var predicateKindNames = [...]string{
	PredTruthy:   "truthy",
	PredInstance: "isinstance",
	PredIsNone:   "is-none",
	PredPattern:  "pattern",
}

func (k PredicateKind) String() string {
	if int(k) < len(predicateKindNames) {
		return predicateKindNames[k]
	}
	return "unknown"
}

// Predicate describes one atomic branch test. Key must be stable across
// structurally identical occurrences of the same test within one file so
// that repeated guards intern to a single atom.
type Predicate struct {
	Kind PredicateKind
	// Subject is the tested name, when the test refines a single name
	// (isinstance, is-none, pattern). Empty for opaque truthiness tests.
	Subject string
	// Key dedups the predicate: typically the source byte range of the
	// test expression, or a pattern fingerprint for match clauses.
	Key string
	// Node is the AST offset of the test, kept for diagnostics.
	Node uint32
}

type node struct {
	op      op
	negated bool // atoms only
	pred    int32
	lhs     ID
	rhs     ID
}

type internKey struct {
	op      op
	negated bool
	pred    int32
	lhs     ID
	rhs     ID
}

// Graph is the arena of constraint nodes plus the intern table.
type Graph struct {
	nodes  []node
	preds  []Predicate
	intern map[internKey]ID
	atomIx map[string]int32 // Predicate.Key → index into preds
}

// NewGraph returns a graph holding only the three terminals.
func NewGraph() *Graph {
	g := &Graph{
		nodes:  make([]node, numTerminals, 64),
		intern: make(map[internKey]ID),
		atomIx: make(map[string]int32),
	}
	for i := range g.nodes {
		g.nodes[i] = node{op: opTerminal}
	}
	return g
}

// Len reports the number of nodes, terminals included.
func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) add(k internKey) ID {
	if id, ok := g.intern[k]; ok {
		return id
	}
	id := ID(len(g.nodes))
	g.nodes = append(g.nodes, node{op: k.op, negated: k.negated, pred: k.pred, lhs: k.lhs, rhs: k.rhs})
	g.intern[k] = id
	return id
}

// Atomic interns the atom for pred with the given polarity. Equal predicates
// with equal polarity always yield equal IDs within one graph.
func (g *Graph) Atomic(pred Predicate, negated bool) ID {
	ix, ok := g.atomIx[pred.Key]
	if !ok {
		ix = int32(len(g.preds))
		g.preds = append(g.preds, pred)
		g.atomIx[pred.Key] = ix
	}
	return g.add(internKey{op: opAtom, negated: negated, pred: ix})
}

// And interns the conjunction of a and b, simplifying algebraically:
// absorbing/identity terminals, idempotence, complements, and canonical
// operand ordering so And(a,b) == And(b,a).
func (g *Graph) And(a, b ID) ID {
	switch {
	case a == AlwaysFalse || b == AlwaysFalse:
		return AlwaysFalse
	case a == AlwaysTrue:
		return b
	case b == AlwaysTrue:
		return a
	case a == b:
		return a
	case a == Ambiguous || b == Ambiguous:
		// Conjoining with ambiguity stays ambiguous: the other operand
		// cannot make an unknowable path knowable.
		return Ambiguous
	case g.complementary(a, b):
		return AlwaysFalse
	}
	if b < a {
		a, b = b, a
	}
	return g.add(internKey{op: opAnd, lhs: a, rhs: b})
}

// Or interns the disjunction of a and b under the same algebra as And.
func (g *Graph) Or(a, b ID) ID {
	switch {
	case a == AlwaysTrue || b == AlwaysTrue:
		return AlwaysTrue
	case a == AlwaysFalse:
		return b
	case b == AlwaysFalse:
		return a
	case a == b:
		return a
	case a == Ambiguous || b == Ambiguous:
		return Ambiguous
	case g.complementary(a, b):
		return AlwaysTrue
	}
	if b < a {
		a, b = b, a
	}
	return g.add(internKey{op: opOr, lhs: a, rhs: b})
}

// Not interns the negation of a. Double negation cancels; negating an atom
// flips its polarity rather than stacking a Not node.
func (g *Graph) Not(a ID) ID {
	switch a {
	case AlwaysTrue:
		return AlwaysFalse
	case AlwaysFalse:
		return AlwaysTrue
	case Ambiguous:
		return Ambiguous
	}
	n := g.nodes[a]
	switch n.op {
	case opAtom:
		return g.add(internKey{op: opAtom, negated: !n.negated, pred: n.pred})
	case opNot:
		return n.lhs
	}
	return g.add(internKey{op: opNot, lhs: a})
}

// complementary reports whether a and b are the two polarities of one atom.
func (g *Graph) complementary(a, b ID) bool {
	na, nb := g.nodes[a], g.nodes[b]
	if na.op == opAtom && nb.op == opAtom {
		return na.pred == nb.pred && na.negated != nb.negated
	}
	if na.op == opNot && nb.op != opNot {
		return na.lhs == b
	}
	if nb.op == opNot && na.op != opNot {
		return nb.lhs == a
	}
	return false
}

// tautAtomLimit caps the atom count for exhaustive evaluation. Beyond it,
// Taut answers conservatively; in practice a single name's joined
// visibility involves a handful of branch predicates.
const tautAtomLimit = 12

// Taut reports whether id is true under every assignment of its atoms: the
// exactness backstop behind "definitely bound" answers where the local
// rewrite rules cannot see that a set of branch paths is exhaustive.
// Expressions containing the Ambiguous terminal are never tautologies.
func (g *Graph) Taut(id ID) bool {
	if id == AlwaysTrue {
		return true
	}
	if id == AlwaysFalse || id == Ambiguous {
		return false
	}
	atoms := make(map[int32]int)
	var collect func(ID) bool
	collect = func(id ID) bool {
		if id == Ambiguous {
			return false
		}
		if id < numTerminals {
			return true
		}
		n := g.nodes[id]
		switch n.op {
		case opAtom:
			if _, ok := atoms[n.pred]; !ok {
				atoms[n.pred] = len(atoms)
			}
			return true
		case opNot:
			return collect(n.lhs)
		default:
			return collect(n.lhs) && collect(n.rhs)
		}
	}
	if !collect(id) || len(atoms) > tautAtomLimit {
		return false
	}

	var eval func(ID, uint32) bool
	eval = func(id ID, assign uint32) bool {
		switch id {
		case AlwaysTrue:
			return true
		case AlwaysFalse:
			return false
		}
		n := g.nodes[id]
		switch n.op {
		case opAtom:
			v := assign&(1<<atoms[n.pred]) != 0
			if n.negated {
				return !v
			}
			return v
		case opAnd:
			return eval(n.lhs, assign) && eval(n.rhs, assign)
		case opOr:
			return eval(n.lhs, assign) || eval(n.rhs, assign)
		default:
			return !eval(n.lhs, assign)
		}
	}
	for assign := uint32(0); assign < 1<<len(atoms); assign++ {
		if !eval(id, assign) {
			return false
		}
	}
	return true
}

// IsAlwaysFalse reports whether id is provably unsatisfiable.
func (g *Graph) IsAlwaysFalse(id ID) bool { return id == AlwaysFalse }

// IsAlwaysTrue reports whether id is trivially satisfied.
func (g *Graph) IsAlwaysTrue(id ID) bool { return id == AlwaysTrue }

// IsAmbiguous reports whether id is the ambiguous visibility value.
func (g *Graph) IsAmbiguous(id ID) bool { return id == Ambiguous }

// PredicateOf returns the predicate behind an atom, and whether id is one.
func (g *Graph) PredicateOf(id ID) (Predicate, bool) {
	if id < numTerminals || int(id) >= len(g.nodes) {
		return Predicate{}, false
	}
	n := g.nodes[id]
	if n.op != opAtom {
		return Predicate{}, false
	}
	return g.preds[n.pred], true
}

// String renders id for diagnostics and debug output.
func (g *Graph) String(id ID) string {
	var sb strings.Builder
	g.render(&sb, id)
	return sb.String()
}

func (g *Graph) render(sb *strings.Builder, id ID) {
	switch id {
	case AlwaysFalse:
		sb.WriteString("false")
		return
	case AlwaysTrue:
		sb.WriteString("true")
		return
	case Ambiguous:
		sb.WriteString("ambiguous")
		return
	}
	if int(id) >= len(g.nodes) {
		fmt.Fprintf(sb, "<invalid %d>", id)
		return
	}
	n := g.nodes[id]
	switch n.op {
	case opAtom:
		p := g.preds[n.pred]
		if n.negated {
			sb.WriteString("not(")
		}
		if p.Subject != "" {
			fmt.Fprintf(sb, "%s(%s)", p.Kind, p.Subject)
		} else {
			fmt.Fprintf(sb, "%s@%s", p.Kind, p.Key)
		}
		if n.negated {
			sb.WriteByte(')')
		}
	case opAnd:
		sb.WriteByte('(')
		g.render(sb, n.lhs)
		sb.WriteString(" and ")
		g.render(sb, n.rhs)
		sb.WriteByte(')')
	case opOr:
		sb.WriteByte('(')
		g.render(sb, n.lhs)
		sb.WriteString(" or ")
		g.render(sb, n.rhs)
		sb.WriteByte(')')
	case opNot:
		sb.WriteString("not(")
		g.render(sb, n.lhs)
		sb.WriteByte(')')
	}
}

// Operands returns the operator name and operand IDs of a composite node,
// for export and debugging. Atoms and terminals return empty operands.
func (g *Graph) Operands(id ID) (kind string, lhs, rhs ID) {
	if int(id) >= len(g.nodes) {
		return "invalid", 0, 0
	}
	n := g.nodes[id]
	switch n.op {
	case opTerminal:
		return "terminal", 0, 0
	case opAtom:
		return "atom", 0, 0
	case opAnd:
		return "and", n.lhs, n.rhs
	case opOr:
		return "or", n.lhs, n.rhs
	default:
		return "not", n.lhs, 0
	}
}
