package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/taproot/internal/export"
)

var flagExportDB string

var exportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Dump the index of a directory to a SQLite database",
	Long:  "Indexes the target directory and writes its scopes, bindings, constraints and diagnostics to a SQLite file for offline inspection. The engine itself never reads the dump back.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&flagExportDB, "db", "", "database path (default: .taproot/index.db relative to repo root)")
}

func runExport(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("export", err)
	}

	dbPath := flagExportDB
	if dbPath == "" {
		dbPath = filepath.Join(findRepoRoot(targetDir), ".taproot", "index.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return outputError("export", fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err))
	}

	ctx := context.Background()
	engine := newEngine()
	if err := engine.IndexDirectory(ctx, targetDir); err != nil {
		return outputError("export", err)
	}

	snap := engine.Snapshot()
	defer snap.Close()

	if err := export.Export(ctx, snap, dbPath); err != nil {
		return outputError("export", err)
	}

	fmt.Fprintf(os.Stderr, "Exported %d files to %s in %s\n",
		len(snap.Files()), dbPath, time.Since(start).Round(time.Millisecond))
	return nil
}
