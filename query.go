package taproot

import (
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/taproot/internal/python"
)

// QueryBuilder answers position-based questions against one snapshot. All
// lines and columns are 0-based byte positions, matching tree-sitter
// points; presentation layers convert at their own edge.
type QueryBuilder struct {
	snap *Snapshot
}

// Location is a source position range.
type Location struct {
	File      string
	StartLine uint32
	StartCol  uint32
	EndLine   uint32
	EndCol    uint32
}

// Resolution is one reachable definition of a name at a use site, with its
// constraints rendered for display.
type Resolution struct {
	Name       string
	Kind       string
	Location   Location
	Visibility string
	Narrowing  string
	Ambiguous  bool
	// PossiblyUnbound marks the sentinel entry: under Visibility the name
	// has no binding at all.
	PossiblyUnbound bool
}

// UnboundUse is a use whose resolution includes the unbound sentinel.
type UnboundUse struct {
	Name     string
	Location Location
}

func (q *QueryBuilder) location(ix *Index, path string, start, end uint32) Location {
	sl, sc := ix.Lines.Position(start)
	el, ec := ix.Lines.Position(end)
	return Location{File: path, StartLine: sl, StartCol: sc, EndLine: el, EndCol: ec}
}

// identifierAt returns the identifier node covering (line, col), or nil.
func identifierAt(ix *Index, line, col uint32) *sitter.Node {
	pt := sitter.Point{Row: line, Column: col}
	n := ix.Tree.RootNode().NamedDescendantForPointRange(pt, pt)
	for n != nil && n.Type() != python.KindIdentifier {
		// Tolerate a hit on the surrounding expression when the cursor
		// sits at an edge token.
		if n.NamedChildCount() == 1 {
			n = n.NamedChild(0)
			continue
		}
		return nil
	}
	return n
}

// ResolveAt resolves the name under the cursor: every binding that can
// reach it, each with the branch constraint under which it applies, plus
// the unbound sentinel when no combination of bindings covers all paths.
func (q *QueryBuilder) ResolveAt(file string, line, col uint32) ([]Resolution, error) {
	ix, err := q.snap.Index(file)
	if err != nil {
		return nil, fmt.Errorf("resolve at: %w", err)
	}
	node := identifierAt(ix, line, col)
	if node == nil {
		return nil, nil
	}
	name := node.Content(ix.Source)
	scope := ix.ScopeAt(node.StartByte())

	var out []Resolution
	for _, r := range ix.Resolve(scope, name, node.StartByte()) {
		res := Resolution{
			Name:            name,
			Kind:            r.Binding.Kind.String(),
			Visibility:      ix.Graph.String(r.Visibility),
			Narrowing:       ix.Graph.String(r.Narrowing),
			Ambiguous:       r.Binding.Ambiguous,
			PossiblyUnbound: r.PossiblyUnbound(),
		}
		if r.Binding.Node != nil {
			res.Location = q.location(ix, file, r.Binding.Node.StartByte(), r.Binding.Node.EndByte())
		}
		out = append(out, res)
	}
	return out, nil
}

// DefinitionAt is go-to-definition: the locations of the concrete bindings
// that can reach the use, sentinel excluded.
func (q *QueryBuilder) DefinitionAt(file string, line, col uint32) ([]Location, error) {
	res, err := q.ResolveAt(file, line, col)
	if err != nil {
		return nil, fmt.Errorf("definition at: %w", err)
	}
	var locs []Location
	for _, r := range res {
		if !r.PossiblyUnbound {
			locs = append(locs, r.Location)
		}
	}
	return locs, nil
}

// ScopeAt returns the innermost scope containing the position.
func (q *QueryBuilder) ScopeAt(file string, line, col uint32) (*Scope, error) {
	ix, err := q.snap.Index(file)
	if err != nil {
		return nil, fmt.Errorf("scope at: %w", err)
	}
	return ix.Scope(ix.ScopeAt(ix.Lines.Offset(line, col))), nil
}

// BindingsAt lists the bindings of the scope containing the position, in
// binding order, unbound sentinels excluded.
func (q *QueryBuilder) BindingsAt(file string, line, col uint32) ([]*Binding, error) {
	ix, err := q.snap.Index(file)
	if err != nil {
		return nil, fmt.Errorf("bindings at: %w", err)
	}
	return ix.BindingsIn(ix.ScopeAt(ix.Lines.Offset(line, col))), nil
}

// Diagnostics returns the analysis findings for file, ordered by position.
func (q *QueryBuilder) Diagnostics(file string) ([]Diagnostic, error) {
	ix, err := q.snap.Index(file)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	return ix.Diagnostics(), nil
}

// PossiblyUnbound scans every name use in file and reports those whose
// resolution includes the unbound sentinel: reachable code paths on which
// the name would raise at run time.
func (q *QueryBuilder) PossiblyUnbound(file string) ([]UnboundUse, error) {
	ix, err := q.snap.Index(file)
	if err != nil {
		return nil, fmt.Errorf("possibly unbound: %w", err)
	}

	var out []UnboundUse
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == python.KindIdentifier {
			if !isNameUse(n) {
				return
			}
			scope := ix.ScopeAt(n.StartByte())
			for _, r := range ix.Resolve(scope, n.Content(ix.Source), n.StartByte()) {
				if r.PossiblyUnbound() {
					out = append(out, UnboundUse{
						Name:     n.Content(ix.Source),
						Location: q.location(ix, file, n.StartByte(), n.EndByte()),
					})
					break
				}
			}
			return
		}
		for _, c := range python.NamedChildren(n) {
			walk(c)
		}
	}
	walk(ix.Tree.RootNode())

	sort.Slice(out, func(i, j int) bool {
		if out[i].Location.StartLine != out[j].Location.StartLine {
			return out[i].Location.StartLine < out[j].Location.StartLine
		}
		return out[i].Location.StartCol < out[j].Location.StartCol
	})
	return out, nil
}

// isNameUse filters identifiers that are not plain name loads: attribute
// and keyword-argument names, import paths, parameter declarations, and
// definition names.
func isNameUse(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return true
	}
	switch parent.Type() {
	case python.KindAttribute:
		obj := parent.ChildByFieldName("object")
		return obj != nil && obj.StartByte() == n.StartByte()
	case "keyword_argument":
		v := parent.ChildByFieldName("value")
		return v != nil && v.StartByte() == n.StartByte()
	case "dotted_name", "aliased_import", "relative_import",
		"parameters", "lambda_parameters", "default_parameter",
		"typed_parameter", "typed_default_parameter",
		"global_statement", "nonlocal_statement":
		return false
	case python.KindFunctionDef, python.KindClassDef:
		name := parent.ChildByFieldName("name")
		return name == nil || name.StartByte() != n.StartByte()
	case "keyword_pattern":
		return false
	}
	return true
}
