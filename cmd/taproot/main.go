package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	taproot "github.com/jward/taproot"
)

var (
	flagFormat  string
	flagWorkers int
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "taproot",
	Short:         "Flow-sensitive semantic indexing for Python",
	Long:          "Taproot builds an in-memory semantic index of Python source (scopes, bindings, branch constraints) and answers position-based questions about it. Line and column arguments are 1-based.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		applyConfig()
		return validateFormat(flagFormat)
	},
	// No Run — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "", "output format: json|text (default json)")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "parallel indexing workers (default GOMAXPROCS)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default .taproot.yaml in the target directory)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(definitionCmd)
	rootCmd.AddCommand(unboundCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(runCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a directory of Python files and report what was built",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("index", err)
	}

	engine := newEngine()
	if err := engine.IndexDirectory(context.Background(), targetDir); err != nil {
		return outputError("index", err)
	}

	snap := engine.Snapshot()
	defer snap.Close()

	files := make([]CLIFile, 0, len(snap.Files()))
	for _, path := range snap.Files() {
		ix, err := snap.Index(path)
		if err != nil {
			return outputError("index", err)
		}
		rel, relErr := filepath.Rel(targetDir, path)
		if relErr != nil {
			rel = path
		}
		files = append(files, CLIFile{
			Path:        rel,
			Scopes:      len(ix.Scopes),
			Bindings:    len(ix.Bindings),
			Diagnostics: len(ix.Diagnostics()),
		})
	}

	fmt.Fprintf(os.Stderr, "Indexed %d files in %s\n",
		len(files), time.Since(start).Round(time.Millisecond))

	return outputResult(CLIResult{
		Command: "index",
		Results: files,
	})
}

// newEngine builds an Engine from the active flags and config.
func newEngine() *taproot.Engine {
	var opts []taproot.Option
	if flagWorkers > 0 {
		opts = append(opts, taproot.WithWorkers(flagWorkers))
	}
	return taproot.New(opts...)
}

// engineForFile indexes a single file and returns the engine plus the
// absolute path the file is registered under.
func engineForFile(ctx context.Context, file string) (*taproot.Engine, string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, "", fmt.Errorf("resolving path %q: %w", file, err)
	}
	engine := newEngine()
	if err := engine.IndexFiles(ctx, []string{abs}); err != nil {
		return nil, "", err
	}
	return engine, abs, nil
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}
