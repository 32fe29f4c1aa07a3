// Package output serializes a prosody feature matrix to MATLAB, Kaldi
// archive or YAML files.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/sonido-prosody/kaldi"
	"github.com/RyanBlaney/sonido-prosody/logging"
	"github.com/RyanBlaney/sonido-prosody/prosody"
	"github.com/RyanBlaney/sonido-prosody/prosody/config"
)

// Metadata describes the run that produced a feature matrix
type Metadata struct {
	Source string         // Input waveform path
	Key    string         // Utterance id; derived from Source when empty
	Config *config.Config // Optional; selected values are written alongside the features
}

// UtteranceKey returns Key, or an id derived from Source
func (m Metadata) UtteranceKey() string {
	if m.Key != "" {
		return m.Key
	}
	return kaldi.UtteranceID(m.Source)
}

// Writer serializes one feature matrix
type Writer interface {
	Write(w io.Writer, fm *prosody.FeatureMatrix, meta Metadata) error
}

// NewWriter returns the writer for a format name
func NewWriter(format string) (Writer, error) {
	switch strings.ToLower(format) {
	case "", config.FormatMAT:
		return &MATWriter{}, nil
	case config.FormatArk:
		return &ArkWriter{}, nil
	case config.FormatYAML, "yml":
		return &YAMLWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (valid: mat, ark, yaml)", format)
	}
}

// FormatFromPath infers a format from the file extension, falling back to
// fallback for unknown extensions
func FormatFromPath(path, fallback string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mat":
		return config.FormatMAT
	case ".ark":
		return config.FormatArk
	case ".yaml", ".yml":
		return config.FormatYAML
	default:
		return fallback
	}
}

// DefaultPath returns the input path with its extension replaced by the
// format's extension
func DefaultPath(input, format string) string {
	ext := "." + format
	if format == "" {
		ext = "." + config.FormatMAT
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ext
}

// fileMode is applied to written files, which os.CreateTemp creates as 0600
const fileMode = 0o644

// WriteFile writes fm to path through a temporary file in the same
// directory, so an interrupted or failed write leaves nothing behind
func WriteFile(path string, writer Writer, fm *prosody.FeatureMatrix, meta Metadata) (err error) {
	logger := logging.WithFields(logging.Fields{
		"component": "output",
		"function":  "WriteFile",
		"path":      path,
	})

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary output file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = writer.Write(tmp, fm, meta); err != nil {
		return fmt.Errorf("failed to serialize features: %w", err)
	}
	if err = tmp.Chmod(fileMode); err != nil {
		return fmt.Errorf("failed to set output permissions: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}

	logger.Debug("Wrote features", logging.Fields{
		"frames":  fm.NumFrames(),
		"columns": fm.NumColumns(),
	})
	return nil
}

// rows copies the feature matrix into a row slice
func rows(fm *prosody.FeatureMatrix) [][]float64 {
	n := fm.NumFrames()
	out := make([][]float64, n)
	for t := range n {
		out[t] = append([]float64(nil), fm.Data.RawRowView(t)...)
	}
	return out
}
