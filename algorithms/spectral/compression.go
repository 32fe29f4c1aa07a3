package spectral

import (
	"fmt"
	"math"
	"strings"
)

// CompressionMode selects the nonlinearity applied to filterbank energy
type CompressionMode string

const (
	CompressionNone  CompressionMode = "none"
	CompressionCubic CompressionMode = "cubic"
	CompressionLog   CompressionMode = "log"
)

// DefaultLogFloor clamps energies before the logarithm so silent bins map
// to a finite 20*log10(DefaultLogFloor) = -200 dB.
const DefaultLogFloor = 1e-10

// ParseCompression maps a configuration string to a CompressionMode.
// "cubic-root" and "cubic_root" are accepted for the cube root; an empty
// string means no compression.
func ParseCompression(s string) (CompressionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "cubic", "cubic-root", "cubic_root", "cbrt":
		return CompressionCubic, nil
	case "log", "db":
		return CompressionLog, nil
	default:
		return "", fmt.Errorf("unknown compression %q (valid: none, cubic, log)", s)
	}
}

// Compressor applies a pointwise energy compression
type Compressor struct {
	mode     CompressionMode
	logFloor float64
}

// NewCompressor creates a compressor. logFloor <= 0 selects DefaultLogFloor.
func NewCompressor(mode CompressionMode, logFloor float64) (*Compressor, error) {
	switch mode {
	case CompressionNone, CompressionCubic, CompressionLog:
	default:
		return nil, fmt.Errorf("unknown compression %q", mode)
	}
	if logFloor <= 0 {
		logFloor = DefaultLogFloor
	}
	return &Compressor{mode: mode, logFloor: logFloor}, nil
}

// Mode returns the compression mode
func (c *Compressor) Mode() CompressionMode {
	return c.mode
}

// Value compresses a single energy value
func (c *Compressor) Value(x float64) float64 {
	switch c.mode {
	case CompressionCubic:
		return math.Cbrt(x)
	case CompressionLog:
		return 20 * math.Log10(math.Max(x, c.logFloor))
	default:
		return x
	}
}

// Compress returns a compressed copy of frames; the input is not modified
func (c *Compressor) Compress(frames [][]float64) [][]float64 {
	out := make([][]float64, len(frames))
	for t, frame := range frames {
		row := make([]float64, len(frame))
		for i, x := range frame {
			row[i] = c.Value(x)
		}
		out[t] = row
	}
	return out
}

// Compress is a convenience wrapper for a one-off compression
func Compress(frames [][]float64, mode CompressionMode, logFloor float64) ([][]float64, error) {
	c, err := NewCompressor(mode, logFloor)
	if err != nil {
		return nil, err
	}
	return c.Compress(frames), nil
}
