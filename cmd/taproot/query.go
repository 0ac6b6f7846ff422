package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	taproot "github.com/jward/taproot"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <file> <line> <col>",
	Short: "Resolve the name at a position to its reachable bindings",
	Long:  "Prints every binding that can reach the use, each with the branch constraint under which it applies, plus an unbound entry when no combination of bindings covers all paths.",
	Args:  cobra.ExactArgs(3),
	RunE:  runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return outputError("resolve", err)
	}

	engine, path, err := engineForFile(context.Background(), args[0])
	if err != nil {
		return outputError("resolve", err)
	}
	snap := engine.Snapshot()
	defer snap.Close()

	res, err := snap.Query().ResolveAt(path, line, col)
	if err != nil {
		return outputError("resolve", err)
	}

	out := make([]CLIResolution, 0, len(res))
	for _, r := range res {
		out = append(out, resolutionToCLI(args[0], r))
	}
	return outputResult(CLIResult{
		Command: "resolve",
		Results: out,
	})
}

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <line> <col>",
	Short: "Find the definitions of the name at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runDefinition,
}

func runDefinition(cmd *cobra.Command, args []string) error {
	line, col, err := parsePosition(args[1], args[2])
	if err != nil {
		return outputError("definition", err)
	}

	engine, path, err := engineForFile(context.Background(), args[0])
	if err != nil {
		return outputError("definition", err)
	}
	snap := engine.Snapshot()
	defer snap.Close()

	locs, err := snap.Query().DefinitionAt(path, line, col)
	if err != nil {
		return outputError("definition", err)
	}

	out := make([]CLILocation, 0, len(locs))
	for _, l := range locs {
		out = append(out, locationToCLI(args[0], l))
	}
	return outputResult(CLIResult{
		Command: "definition",
		Results: out,
	})
}

var unboundCmd = &cobra.Command{
	Use:   "unbound <file>",
	Short: "List uses that may be unbound on some reachable path",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnbound,
}

func runUnbound(cmd *cobra.Command, args []string) error {
	engine, path, err := engineForFile(context.Background(), args[0])
	if err != nil {
		return outputError("unbound", err)
	}
	snap := engine.Snapshot()
	defer snap.Close()

	uses, err := snap.Query().PossiblyUnbound(path)
	if err != nil {
		return outputError("unbound", err)
	}

	out := make([]CLIUnbound, 0, len(uses))
	for _, u := range uses {
		out = append(out, CLIUnbound{
			Name:     u.Name,
			Location: locationToCLI(args[0], u.Location),
		})
	}
	return outputResult(CLIResult{
		Command: "unbound",
		Results: out,
	})
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <file>",
	Short: "Print the analysis findings for a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagnostics,
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	engine, path, err := engineForFile(context.Background(), args[0])
	if err != nil {
		return outputError("diagnostics", err)
	}
	snap := engine.Snapshot()
	defer snap.Close()

	diags, err := snap.Query().Diagnostics(path)
	if err != nil {
		return outputError("diagnostics", err)
	}

	ix, err := snap.Index(path)
	if err != nil {
		return outputError("diagnostics", err)
	}

	out := make([]CLIDiagnostic, 0, len(diags))
	for _, d := range diags {
		line, col := ix.Lines.Position(d.Start)
		out = append(out, CLIDiagnostic{
			Kind:    d.Kind,
			Message: d.Message,
			File:    args[0],
			Line:    int(line + 1),
			Col:     int(col + 1),
		})
	}
	return outputResult(CLIResult{
		Command: "diagnostics",
		Results: out,
	})
}

// parsePosition converts 1-based CLI line/col arguments to the 0-based
// positions the query layer uses.
func parsePosition(lineArg, colArg string) (line, col uint32, err error) {
	l, err := strconv.Atoi(lineArg)
	if err != nil || l < 1 {
		return 0, 0, fmt.Errorf("invalid line %q: must be a positive integer", lineArg)
	}
	c, err := strconv.Atoi(colArg)
	if err != nil || c < 1 {
		return 0, 0, fmt.Errorf("invalid col %q: must be a positive integer", colArg)
	}
	return uint32(l - 1), uint32(c - 1), nil
}

func resolutionToCLI(file string, r taproot.Resolution) CLIResolution {
	return CLIResolution{
		Name:            r.Name,
		Kind:            r.Kind,
		Visibility:      r.Visibility,
		Narrowing:       r.Narrowing,
		Ambiguous:       r.Ambiguous,
		PossiblyUnbound: r.PossiblyUnbound,
		Location:        locationToCLI(file, r.Location),
	}
}

func locationToCLI(file string, l taproot.Location) CLILocation {
	return CLILocation{
		File:      file,
		StartLine: int(l.StartLine) + 1,
		StartCol:  int(l.StartCol) + 1,
		EndLine:   int(l.EndLine) + 1,
		EndCol:    int(l.EndCol) + 1,
	}
}
