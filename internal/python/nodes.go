package python

import sitter "github.com/smacker/go-tree-sitter"

// Node kinds the builder dispatches on. Kept as named constants so a grammar
// bump is a one-file change.
const (
	KindModule          = "module"
	KindBlock           = "block"
	KindExprStatement   = "expression_statement"
	KindAssignment      = "assignment"
	KindAugAssignment   = "augmented_assignment"
	KindNamedExpr       = "named_expression"
	KindIf              = "if_statement"
	KindElifClause      = "elif_clause"
	KindElseClause      = "else_clause"
	KindWhile           = "while_statement"
	KindFor             = "for_statement"
	KindTry             = "try_statement"
	KindExceptClause    = "except_clause"
	KindExceptGroup     = "except_group_clause"
	KindFinallyClause   = "finally_clause"
	KindWith            = "with_statement"
	KindWithClause      = "with_clause"
	KindWithItem        = "with_item"
	KindMatch           = "match_statement"
	KindCaseClause      = "case_clause"
	KindCasePattern     = "case_pattern"
	KindFunctionDef     = "function_definition"
	KindClassDef        = "class_definition"
	KindDecoratedDef    = "decorated_definition"
	KindLambda          = "lambda"
	KindParameters      = "parameters"
	KindLambdaParams    = "lambda_parameters"
	KindGlobal          = "global_statement"
	KindNonlocal        = "nonlocal_statement"
	KindImport          = "import_statement"
	KindImportFrom      = "import_from_statement"
	KindReturn          = "return_statement"
	KindRaise           = "raise_statement"
	KindBreak           = "break_statement"
	KindContinue        = "continue_statement"
	KindIdentifier      = "identifier"
	KindBoolOp          = "boolean_operator"
	KindNotOp           = "not_operator"
	KindConditionalExpr = "conditional_expression"
	KindCall            = "call"
	KindComparison      = "comparison_operator"
	KindAttribute       = "attribute"
	KindSubscript       = "subscript"
	KindListComp        = "list_comprehension"
	KindSetComp         = "set_comprehension"
	KindDictComp        = "dictionary_comprehension"
	KindGeneratorExp    = "generator_expression"
	KindForInClause     = "for_in_clause"
	KindIfClause        = "if_clause"
	KindTypeParameter   = "type_parameter"
	KindAsPattern       = "as_pattern"
	KindError           = "ERROR"
)

// IsTerminator reports whether kind unconditionally ends the current path.
func IsTerminator(kind string) bool {
	switch kind {
	case KindReturn, KindRaise, KindBreak, KindContinue:
		return true
	}
	return false
}

// IsComprehension reports whether kind introduces a comprehension scope.
func IsComprehension(kind string) bool {
	switch kind {
	case KindListComp, KindSetComp, KindDictComp, KindGeneratorExp:
		return true
	}
	return false
}

// NamedChildren returns the named children of n in order.
func NamedChildren(n *sitter.Node) []*sitter.Node {
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// BindingTargets collects the identifier nodes that an assignment target
// binds. Tuple/list destructuring and starred targets recurse; attribute and
// subscript stores mutate an object rather than binding a name and are
// skipped. A nil result means the target shape binds nothing.
func BindingTargets(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case KindIdentifier:
		return []*sitter.Node{n}
	case KindAttribute, KindSubscript:
		return nil
	case "tuple_pattern", "list_pattern", "pattern_list", "expression_list",
		"tuple", "list", "list_splat_pattern", "parenthesized_expression":
		var out []*sitter.Node
		for _, c := range NamedChildren(n) {
			out = append(out, BindingTargets(c)...)
		}
		return out
	case KindAsPattern:
		// `with f() as x` wraps the alias; bind the alias side.
		if alias := n.ChildByFieldName("alias"); alias != nil {
			return BindingTargets(alias)
		}
		return BindingTargets(n.NamedChild(int(n.NamedChildCount()) - 1))
	case "as_pattern_target":
		var out []*sitter.Node
		for _, c := range NamedChildren(n) {
			out = append(out, BindingTargets(c)...)
		}
		return out
	}
	return nil
}

// PatternCaptures collects capture identifiers introduced by a match-case
// pattern. The supported set covers capture patterns, as-patterns, and the
// positional/keyword arms of class, sequence and mapping patterns. ok is
// false when the pattern contains a shape outside that set (e.g. OR-patterns
// with diverging captures); callers fall back to ambiguous visibility.
func PatternCaptures(n *sitter.Node) (captures []*sitter.Node, ok bool) {
	ok = true
	var walk func(p *sitter.Node)
	walk = func(p *sitter.Node) {
		if p == nil || !ok {
			return
		}
		switch p.Type() {
		case KindIdentifier:
			captures = append(captures, p)
		case "dotted_name":
			// Class name in a class pattern, not a capture.
		case "union_pattern":
			// OR-patterns may bind differently per alternative; out of
			// the supported precision set.
			ok = false
		case "string", "integer", "float", "true", "false", "none",
			"concatenated_string", "unary_operator", "attribute":
			// Literal and value patterns bind nothing.
		case KindAsPattern:
			for _, c := range NamedChildren(p) {
				walk(c)
			}
		case "class_pattern":
			for _, c := range NamedChildren(p) {
				if c.Type() == "dotted_name" {
					continue
				}
				walk(c)
			}
		default:
			for _, c := range NamedChildren(p) {
				walk(c)
			}
		}
	}
	walk(n)
	if !ok {
		return nil, false
	}
	return captures, true
}
