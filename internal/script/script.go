// Package script embeds a Risor VM for ad-hoc analysis over a snapshot of
// the semantic index. Scripts get host functions that resolve names, list
// scopes and bindings, and render constraints, plus raw tree-sitter access
// for syntax-level work the index does not cover.
package script

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	taproot "github.com/jward/taproot"
)

// Runtime embeds a Risor VM bound to one snapshot. A Runtime is only as
// fresh as its snapshot; callers re-create it after edits.
type Runtime struct {
	snap       *taproot.Snapshot
	scriptsDir string
	fsys       fs.FS
	out        io.Writer
	sources    *sourceStore
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts from an fs.FS instead of from disk, and
// points the Risor importer at it for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithOutput redirects emit() output. Defaults to os.Stdout.
func WithOutput(w io.Writer) RuntimeOption {
	return func(r *Runtime) {
		if w != nil {
			r.out = w
		}
	}
}

// NewRuntime creates a Runtime over snap, loading scripts relative to
// scriptsDir.
func NewRuntime(snap *taproot.Snapshot, scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		snap:       snap,
		scriptsDir: scriptsDir,
		out:        os.Stdout,
		sources:    newSourceStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source directly with all standard globals plus
// any extra globals. Useful for testing without script files.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) error {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	_, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return fmt.Errorf("script %s: %w", label, err)
	}
	return nil
}

// buildImporter returns a Risor importer for the Runtime's script source,
// or nil when neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// buildGlobals constructs the full set of globals exposed to scripts.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"parse_src":  makeParseSrcFn(r.sources),
		"node_text":  makeNodeTextFn(r.sources),
		"node_child": makeNodeChildFn(),
		"ts_query":   makeTSQueryFn(r.sources),
		"emit":       makeEmitFn(r.out),
		"log":        mustProxy(&logObject{prefix: "taproot"}),
	}

	// Index host functions need a snapshot (nil during some tests).
	if r.snap != nil {
		globals["files"] = makeFilesFn(r.snap)
		globals["source"] = makeSourceFn(r.snap)
		globals["resolve"] = makeResolveFn(r.snap)
		globals["definitions"] = makeDefinitionsFn(r.snap)
		globals["scopes"] = makeScopesFn(r.snap)
		globals["bindings_in"] = makeBindingsInFn(r.snap)
		globals["narrowing_of"] = makeNarrowingOfFn(r.snap)
		globals["diagnostics"] = makeDiagnosticsFn(r.snap)
		globals["possibly_unbound"] = makePossiblyUnboundFn(r.snap)
	}

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("script: proxy error: %v", err))
	}
	return p
}
