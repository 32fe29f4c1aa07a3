package prosody

import (
	"fmt"
	"strings"
)

// ConfigurationError reports bad or inconsistent parameters. It is raised
// before any heavy computation starts.
type ConfigurationError struct {
	Stage State
	Field string // Configuration key, e.g. "dct.size"; empty when several are involved
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration (%s): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("invalid configuration %s (%s): %v", e.Field, e.Stage, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ExternalToolError reports a failed or misbehaving decomposer or pitch
// extractor, including malformed output
type ExternalToolError struct {
	Stage State
	Tool  string
	Err   error
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("%s failed during %s: %v", e.Tool, e.Stage, e.Err)
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// AlignmentError reports streams that still disagree on their frame count
// after reconciliation. It always indicates a bug in the pipeline.
type AlignmentError struct {
	Stage  State
	Frames map[string]int // Frame count per stream
}

func (e *AlignmentError) Error() string {
	var b strings.Builder
	for _, name := range streamOrder {
		if n, ok := e.Frames[name]; ok {
			if b.Len() > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%d", name, n)
		}
	}
	return fmt.Sprintf("streams disagree on frame count after %s: %s", e.Stage, b.String())
}

// IOError reports a waveform read or output write failure
type IOError struct {
	Stage State
	Op    string // "read" or "write"
	Path  string
	Err   error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed during %s: %v", e.Op, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s failed during %s: %v", e.Op, e.Path, e.Stage, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
