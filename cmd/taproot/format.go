package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so
// RunE can propagate it to Cobra. In JSON mode the error is written to
// stdout as a CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// outputResultText dispatches to the appropriate text formatter based on
// the result type. It writes to os.Stdout.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case []CLIResolution:
		formatResolutionsText(w, v)
	case []CLILocation:
		formatLocationsText(w, v)
	case []CLIUnbound:
		formatUnboundText(w, v)
	case []CLIDiagnostic:
		formatDiagnosticsText(w, v)
	case []CLIFile:
		formatFilesText(w, v)
	case nil:
		// No output for nil results.
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// formatResolutionsText formats resolutions as aligned columns. The
// unbound sentinel shows "-" for its location.
func formatResolutionsText(w io.Writer, res []CLIResolution) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tWHERE\tVISIBILITY\tNARROWING")
	for _, r := range res {
		where := fmt.Sprintf("%d:%d", r.Location.StartLine, r.Location.StartCol)
		if r.PossiblyUnbound {
			where = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.Kind, where, r.Visibility, r.Narrowing)
	}
	tw.Flush()
}

// formatLocationsText formats locations as "file:line:col" lines.
func formatLocationsText(w io.Writer, locs []CLILocation) {
	for _, loc := range locs {
		fmt.Fprintf(w, "%s:%d:%d\n", loc.File, loc.StartLine, loc.StartCol)
	}
}

func formatUnboundText(w io.Writer, uses []CLIUnbound) {
	for _, u := range uses {
		fmt.Fprintf(w, "%s:%d:%d: %s may be unbound\n",
			u.Location.File, u.Location.StartLine, u.Location.StartCol, u.Name)
	}
}

func formatDiagnosticsText(w io.Writer, diags []CLIDiagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s:%d:%d: %s: %s\n", d.File, d.Line, d.Col, d.Kind, d.Message)
	}
}

func formatFilesText(w io.Writer, files []CLIFile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSCOPES\tBINDINGS\tDIAGNOSTICS")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", f.Path, f.Scopes, f.Bindings, f.Diagnostics)
	}
	tw.Flush()
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
