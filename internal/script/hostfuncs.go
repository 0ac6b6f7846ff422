package script

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unsafe"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"

	taproot "github.com/jward/taproot"
	"github.com/jward/taproot/internal/python"
)

// sourceStore tracks source bytes for each tree parsed by parse_src.
// node_text and ts_query need to recover the source from a Node, but
// smacker/go-tree-sitter does not expose Node.Tree(); entries are keyed by
// root node pointer, recovered at lookup time by walking up Parent().
type sourceStore struct {
	mu      sync.RWMutex
	sources map[uintptr][]byte
}

func newSourceStore() *sourceStore {
	return &sourceStore{sources: make(map[uintptr][]byte)}
}

func (s *sourceStore) store(tree *sitter.Tree, src []byte) {
	key := uintptr(unsafe.Pointer(tree.RootNode()))
	s.mu.Lock()
	s.sources[key] = src
	s.mu.Unlock()
}

func rootOf(node *sitter.Node) *sitter.Node {
	for node.Parent() != nil {
		node = node.Parent()
	}
	return node
}

func (s *sourceStore) sourceForNode(node *sitter.Node) ([]byte, bool) {
	key := uintptr(unsafe.Pointer(rootOf(node)))
	s.mu.RLock()
	src, ok := s.sources[key]
	s.mu.RUnlock()
	return src, ok
}

// makeParseSrcFn creates "parse_src" — raw tree-sitter access for syntax
// work the index does not cover.
//
// parse_src(source) → *sitter.Tree
func makeParseSrcFn(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("parse_src", 1, len(args))
		}
		srcStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("parse_src: source must be a string, got %s", args[0].Type())
		}

		src := []byte(srcStr.Value())
		tree, err := python.NewParser().Parse(ctx, src)
		if err != nil {
			return object.Errorf("parse_src: %v", err)
		}
		ss.store(tree, src)

		proxy, err := object.NewProxy(tree)
		if err != nil {
			return object.Errorf("parse_src: proxy error: %v", err)
		}
		return proxy
	})
}

// makeNodeTextFn creates "node_text".
//
// node_text(node) → string
//
// Exists because Risor's proxy system cannot convert strings to []byte
// for node.Content([]byte).
func makeNodeTextFn(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("node_text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_text", 1, len(args))
		}
		node, errObj := nodeArg("node_text", args[0])
		if errObj != nil {
			return errObj
		}
		src, found := ss.sourceForNode(node)
		if !found {
			return object.Errorf("node_text: no source found for node's tree")
		}
		return object.NewString(node.Content(src))
	})
}

// makeTSQueryFn creates "ts_query" — tree-sitter pattern matching.
//
// ts_query(pattern, node) → []map[string]Node
func makeTSQueryFn(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("ts_query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("ts_query", 2, len(args))
		}
		patternStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("ts_query: pattern must be a string, got %s", args[0].Type())
		}
		node, errObj := nodeArg("ts_query", args[1])
		if errObj != nil {
			return errObj
		}
		src, found := ss.sourceForNode(node)
		if !found {
			return object.Errorf("ts_query: no source found for node's tree")
		}

		q, err := sitter.NewQuery([]byte(patternStr.Value()), python.Language())
		if err != nil {
			return object.Errorf("ts_query: invalid pattern: %v", err)
		}
		defer q.Close()

		cursor := sitter.NewQueryCursor()
		defer cursor.Close()
		cursor.Exec(q, node)

		results := []object.Object{}
		for {
			match, ok := cursor.NextMatch()
			if !ok {
				break
			}
			match = cursor.FilterPredicates(match, src)

			matchMap := make(map[string]object.Object)
			for _, capture := range match.Captures {
				name := q.CaptureNameForId(capture.Index)
				nodeP, err := object.NewProxy(capture.Node)
				if err != nil {
					return object.Errorf("ts_query: proxy error for capture %q: %v", name, err)
				}
				matchMap[name] = nodeP
			}
			results = append(results, object.NewMap(matchMap))
		}
		return object.NewList(results)
	})
}

// makeNodeChildFn creates "node_child" — safe wrapper for ChildByFieldName
// that returns Risor nil instead of a proxied Go nil pointer.
//
// node_child(node, fieldName) → Node or nil
func makeNodeChildFn() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("node_child", 2, len(args))
		}
		node, errObj := nodeArg("node_child", args[0])
		if errObj != nil {
			return errObj
		}
		fieldStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("node_child: field must be a string, got %s", args[1].Type())
		}

		child := node.ChildByFieldName(fieldStr.Value())
		if child == nil {
			return object.Nil
		}
		p, err := object.NewProxy(child)
		if err != nil {
			return object.Errorf("node_child: proxy error: %v", err)
		}
		return p
	})
}

func nodeArg(fn string, arg object.Object) (*sitter.Node, object.Object) {
	proxy, ok := arg.(*object.Proxy)
	if !ok {
		return nil, object.Errorf("%s: expected proxy (Node), got %s", fn, arg.Type())
	}
	node, ok := proxy.Interface().(*sitter.Node)
	if !ok {
		return nil, object.Errorf("%s: expected *sitter.Node, got %T", fn, proxy.Interface())
	}
	return node, nil
}

// makeEmitFn creates "emit" — script output, one line per call, values
// space-separated in their Risor string form.
func makeEmitFn(w io.Writer) *object.Builtin {
	return object.NewBuiltin("emit", func(ctx context.Context, args ...object.Object) object.Object {
		parts := make([]string, len(args))
		for i, a := range args {
			if s, ok := a.(*object.String); ok {
				parts[i] = s.Value()
				continue
			}
			parts[i] = a.Inspect()
		}
		fmt.Fprintln(w, strings.Join(parts, " "))
		return object.Nil
	})
}

// makeFilesFn creates "files".
//
// files() → []string
func makeFilesFn(snap *taproot.Snapshot) *object.Builtin {
	return object.NewBuiltin("files", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("files", 0, len(args))
		}
		out := []object.Object{}
		for _, path := range snap.Files() {
			out = append(out, object.NewString(path))
		}
		return object.NewList(out)
	})
}

// makeSourceFn creates "source".
//
// source(file) → string
func makeSourceFn(snap *taproot.Snapshot) *object.Builtin {
	return object.NewBuiltin("source", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("source", 1, len(args))
		}
		file, errObj := stringArg("source", args[0])
		if errObj != nil {
			return errObj
		}
		src, ok := snap.Source(file)
		if !ok {
			return object.Errorf("source: unknown file %q", file)
		}
		return object.NewString(string(src))
	})
}

// makeResolveFn creates "resolve".
//
// resolve(file, line, col) → []map — one entry per reachable binding, with
// visibility and narrowing rendered as constraint strings, plus the
// unbound sentinel when coverage is incomplete.
func makeResolveFn(snap *taproot.Snapshot) *object.Builtin {
	return object.NewBuiltin("resolve", func(ctx context.Context, args ...object.Object) object.Object {
		file, line, col, errObj := positionArgs("resolve", args)
		if errObj != nil {
			return errObj
		}
		res, err := snap.Query().ResolveAt(file, line, col)
		if err != nil {
			return object.Errorf("resolve: %v", err)
		}
		out := []object.Object{}
		for _, r := range res {
			out = append(out, resolutionMap(r))
		}
		return object.NewList(out)
	})
}

// makeDefinitionsFn creates "definitions".
//
// definitions(file, line, col) → []map of locations
func makeDefinitionsFn(snap *taproot.Snapshot) *object.Builtin {
	return object.NewBuiltin("definitions", func(ctx context.Context, args ...object.Object) object.Object {
		file, line, col, errObj := positionArgs("definitions", args)
		if errObj != nil {
			return errObj
		}
		locs, err := snap.Query().DefinitionAt(file, line, col)
		if err != nil {
			return object.Errorf("definitions: %v", err)
		}
		out := []object.Object{}
		for _, l := range locs {
			out = append(out, locationMap(l))
		}
		return object.NewList(out)
	})
}

// makeScopesFn creates "scopes".
//
// scopes(file) → []map — the full scope tree in preorder, ids usable with
// bindings_in.
func makeScopesFn(snap *taproot.Snapshot) *object.Builtin {
	return object.NewBuiltin("scopes", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("scopes", 1, len(args))
		}
		file, errObj := stringArg("scopes", args[0])
		if errObj != nil {
			return errObj
		}
		ix, err := snap.Index(file)
		if err != nil {
			return object.Errorf("scopes: %v", err)
		}

		out := []object.Object{}
		for _, s := range ix.Scopes {
			sl, _ := ix.Lines.Position(s.Start)
			el, _ := ix.Lines.Position(s.End)
			names := []object.Object{}
			for _, n := range s.Names {
				names = append(names, object.NewString(n))
			}
			out = append(out, object.NewMap(map[string]object.Object{
				"id":         object.NewInt(int64(s.ID)),
				"kind":       object.NewString(s.Kind.String()),
				"parent":     object.NewInt(int64(s.Parent)),
				"start_line": object.NewInt(int64(sl)),
				"end_line":   object.NewInt(int64(el)),
				"names":      object.NewList(names),
			}))
		}
		return object.NewList(out)
	})
}

// makeBindingsInFn creates "bindings_in".
//
// bindings_in(file, scope_id) → []map in binding order
func makeBindingsInFn(snap *taproot.Snapshot) *object.Builtin {
	return object.NewBuiltin("bindings_in", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("bindings_in", 2, len(args))
		}
		file, errObj := stringArg("bindings_in", args[0])
		if errObj != nil {
			return errObj
		}
		sid, err := toInt64(args[1])
		if err != nil {
			return object.Errorf("bindings_in: scope_id: %v", err)
		}
		ix, err := snap.Index(file)
		if err != nil {
			return object.Errorf("bindings_in: %v", err)
		}
		if sid < 0 || int(sid) >= len(ix.Scopes) {
			return object.Errorf("bindings_in: no scope %d in %s", sid, file)
		}

		out := []object.Object{}
		for _, b := range ix.BindingsIn(taproot.ScopeID(sid)) {
			line, col := ix.Lines.Position(b.Start)
			out = append(out, object.NewMap(map[string]object.Object{
				"id":          object.NewInt(int64(b.ID)),
				"name":        object.NewString(b.Name),
				"kind":        object.NewString(b.Kind.String()),
				"line":        object.NewInt(int64(line)),
				"col":         object.NewInt(int64(col)),
				"ambiguous":   object.NewBool(b.Ambiguous),
				"unreachable": object.NewBool(b.Unreachable),
				"visibility":  object.NewString(ix.Graph.String(b.Visibility)),
			}))
		}
		return object.NewList(out)
	})
}

// makeNarrowingOfFn creates "narrowing_of".
//
// narrowing_of(file, binding_id) → string
func makeNarrowingOfFn(snap *taproot.Snapshot) *object.Builtin {
	return object.NewBuiltin("narrowing_of", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("narrowing_of", 2, len(args))
		}
		file, errObj := stringArg("narrowing_of", args[0])
		if errObj != nil {
			return errObj
		}
		bid, err := toInt64(args[1])
		if err != nil {
			return object.Errorf("narrowing_of: binding_id: %v", err)
		}
		ix, err := snap.Index(file)
		if err != nil {
			return object.Errorf("narrowing_of: %v", err)
		}
		if bid < 0 || int(bid) >= len(ix.Bindings) {
			return object.Errorf("narrowing_of: no binding %d in %s", bid, file)
		}
		return object.NewString(ix.Graph.String(ix.NarrowingOf(taproot.BindingID(bid))))
	})
}

// makeDiagnosticsFn creates "diagnostics".
//
// diagnostics(file) → []map
func makeDiagnosticsFn(snap *taproot.Snapshot) *object.Builtin {
	return object.NewBuiltin("diagnostics", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("diagnostics", 1, len(args))
		}
		file, errObj := stringArg("diagnostics", args[0])
		if errObj != nil {
			return errObj
		}
		ix, err := snap.Index(file)
		if err != nil {
			return object.Errorf("diagnostics: %v", err)
		}

		out := []object.Object{}
		for _, d := range ix.Diagnostics() {
			line, col := ix.Lines.Position(d.Start)
			out = append(out, object.NewMap(map[string]object.Object{
				"kind":    object.NewString(d.Kind),
				"message": object.NewString(d.Message),
				"line":    object.NewInt(int64(line)),
				"col":     object.NewInt(int64(col)),
			}))
		}
		return object.NewList(out)
	})
}

// makePossiblyUnboundFn creates "possibly_unbound".
//
// possibly_unbound(file) → []map of uses with an unbound path
func makePossiblyUnboundFn(snap *taproot.Snapshot) *object.Builtin {
	return object.NewBuiltin("possibly_unbound", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("possibly_unbound", 1, len(args))
		}
		file, errObj := stringArg("possibly_unbound", args[0])
		if errObj != nil {
			return errObj
		}
		uses, err := snap.Query().PossiblyUnbound(file)
		if err != nil {
			return object.Errorf("possibly_unbound: %v", err)
		}
		out := []object.Object{}
		for _, u := range uses {
			out = append(out, object.NewMap(map[string]object.Object{
				"name":     object.NewString(u.Name),
				"location": locationMap(u.Location),
			}))
		}
		return object.NewList(out)
	})
}

func resolutionMap(r taproot.Resolution) *object.Map {
	return object.NewMap(map[string]object.Object{
		"name":             object.NewString(r.Name),
		"kind":             object.NewString(r.Kind),
		"visibility":       object.NewString(r.Visibility),
		"narrowing":        object.NewString(r.Narrowing),
		"ambiguous":        object.NewBool(r.Ambiguous),
		"possibly_unbound": object.NewBool(r.PossiblyUnbound),
		"location":         locationMap(r.Location),
	})
}

func locationMap(l taproot.Location) *object.Map {
	return object.NewMap(map[string]object.Object{
		"file":       object.NewString(l.File),
		"start_line": object.NewInt(int64(l.StartLine)),
		"start_col":  object.NewInt(int64(l.StartCol)),
		"end_line":   object.NewInt(int64(l.EndLine)),
		"end_col":    object.NewInt(int64(l.EndCol)),
	})
}

func stringArg(fn string, arg object.Object) (string, object.Object) {
	s, ok := arg.(*object.String)
	if !ok {
		return "", object.Errorf("%s: expected string, got %s", fn, arg.Type())
	}
	return s.Value(), nil
}

func positionArgs(fn string, args []object.Object) (file string, line, col uint32, errObj object.Object) {
	if len(args) != 3 {
		return "", 0, 0, object.NewArgsError(fn, 3, len(args))
	}
	file, errObj = stringArg(fn, args[0])
	if errObj != nil {
		return "", 0, 0, errObj
	}
	l, err := toInt64(args[1])
	if err != nil {
		return "", 0, 0, object.Errorf("%s: line: %v", fn, err)
	}
	c, err := toInt64(args[2])
	if err != nil {
		return "", 0, 0, object.Errorf("%s: col: %v", fn, err)
	}
	return file, uint32(l), uint32(c), nil
}

func toInt64(obj object.Object) (int64, error) {
	if i, ok := obj.(*object.Int); ok {
		return i.Value(), nil
	}
	if f, ok := obj.(*object.Float); ok {
		return int64(f.Value()), nil
	}
	return 0, fmt.Errorf("expected int, got %s", obj.Type())
}

// logObject provides log.info/warn/error methods for scripts.
type logObject struct {
	prefix string
}

func (l *logObject) Info(msg string) {
	fmt.Printf("[%s] INFO: %s\n", l.prefix, msg)
}

func (l *logObject) Warn(msg string) {
	fmt.Printf("[%s] WARN: %s\n", l.prefix, msg)
}

func (l *logObject) Error(msg string) {
	fmt.Printf("[%s] ERROR: %s\n", l.prefix, msg)
}
