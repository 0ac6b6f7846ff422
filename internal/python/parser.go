// Package python adapts the tree-sitter Python grammar for the semantic
// indexer. It owns parsing, offset↔line/column conversion, and the node-kind
// classification helpers the scope builder relies on. The rest of the module
// treats the produced tree as an immutable external artifact.
package python

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Parser wraps a tree-sitter parser configured for Python. A Parser is not
// safe for concurrent use; create one per worker.
type Parser struct {
	inner *sitter.Parser
}

// NewParser returns a parser for the Python grammar.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{inner: p}
}

// Parse produces the concrete syntax tree for src. Tree-sitter always yields
// a tree, recovering from syntax errors with ERROR nodes; callers degrade
// around those rather than failing the file.
func (p *Parser) Parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	tree, err := p.inner.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("python: parse: %w", err)
	}
	return tree, nil
}

// Language returns the grammar, for callers that build their own parsers
// or tree-sitter queries.
func Language() *sitter.Language {
	return python.GetLanguage()
}
