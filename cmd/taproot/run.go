package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/taproot/internal/script"
)

var flagRunDir string

var runCmd = &cobra.Command{
	Use:   "run <script.risor>",
	Short: "Run an analysis script against the index",
	Long:  "Indexes the target directory, then executes a Risor script with host functions over the snapshot (resolve, scopes, bindings_in, possibly_unbound, ...). Script output goes to stdout via emit().",
	Args:  cobra.ExactArgs(1),
	RunE:  runScript,
}

func init() {
	runCmd.Flags().StringVar(&flagRunDir, "dir", ".", "directory to index before running the script")
}

func runScript(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir([]string{flagRunDir})
	if err != nil {
		return outputError("run", err)
	}

	ctx := context.Background()
	engine := newEngine()
	if err := engine.IndexDirectory(ctx, targetDir); err != nil {
		return outputError("run", err)
	}

	snap := engine.Snapshot()
	defer snap.Close()

	scriptPath, err := filepath.Abs(args[0])
	if err != nil {
		return outputError("run", err)
	}

	rt := script.NewRuntime(snap, filepath.Dir(scriptPath))
	if err := rt.RunScript(ctx, scriptPath, map[string]any{
		"target_dir": targetDir,
	}); err != nil {
		return outputError("run", err)
	}
	return nil
}
