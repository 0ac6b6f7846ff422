package main

// CLIResult is the top-level JSON envelope for all query commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLILocation is a 1-based source position range.
type CLILocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// CLIResolution is one reachable binding for a name use.
type CLIResolution struct {
	Name            string      `json:"name"`
	Kind            string      `json:"kind"`
	Visibility      string      `json:"visibility"`
	Narrowing       string      `json:"narrowing,omitempty"`
	Ambiguous       bool        `json:"ambiguous"`
	PossiblyUnbound bool        `json:"possibly_unbound"`
	Location        CLILocation `json:"location"`
}

// CLIUnbound is a use with at least one unbound path.
type CLIUnbound struct {
	Name     string      `json:"name"`
	Location CLILocation `json:"location"`
}

// CLIDiagnostic is an analysis finding.
type CLIDiagnostic struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Col     int    `json:"col"`
}

// CLIFile is a per-file index summary.
type CLIFile struct {
	Path        string `json:"path"`
	Scopes      int    `json:"scopes"`
	Bindings    int    `json:"bindings"`
	Diagnostics int    `json:"diagnostics"`
}
