package temporal

import (
	"fmt"
	"strings"
)

// BoundaryPolicy decides what the delta regression sees beyond the edges of
// a frame sequence
type BoundaryPolicy string

const (
	// BoundaryReplicate repeats the first/last frame
	BoundaryReplicate BoundaryPolicy = "replicate"
	// BoundaryZero pads with zero-valued frames
	BoundaryZero BoundaryPolicy = "zero"
	// BoundaryTruncate shrinks the window to the frames available on both sides
	BoundaryTruncate BoundaryPolicy = "truncate"
)

// DefaultDeltaWindow is the regression half-width used when none is configured
const DefaultDeltaWindow = 2

// ParseBoundaryPolicy maps a configuration string to a BoundaryPolicy.
// An empty string selects BoundaryReplicate.
func ParseBoundaryPolicy(s string) (BoundaryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "replicate", "edge":
		return BoundaryReplicate, nil
	case "zero", "zeros":
		return BoundaryZero, nil
	case "truncate":
		return BoundaryTruncate, nil
	default:
		return "", fmt.Errorf("unknown delta boundary policy %q (valid: replicate, zero, truncate)", s)
	}
}

// DeltaParams configures delta computation
type DeltaParams struct {
	Window   int            `json:"window"`   // Regression half-width N
	Boundary BoundaryPolicy `json:"boundary"` // Edge handling
}

// DefaultDeltaParams returns window 2 with edge replication
func DefaultDeltaParams() DeltaParams {
	return DeltaParams{
		Window:   DefaultDeltaWindow,
		Boundary: BoundaryReplicate,
	}
}

// Validate checks the parameters
func (p DeltaParams) Validate() error {
	if p.Window < 1 {
		return fmt.Errorf("delta window must be at least 1, got %d", p.Window)
	}
	if _, err := ParseBoundaryPolicy(string(p.Boundary)); err != nil {
		return err
	}
	return nil
}

// Delta computes regression-based time derivatives of frame sequences:
//
//	delta[t] = sum_{n=1..N} n*(x[t+n] - x[t-n]) / (2 * sum_{n=1..N} n^2)
//
// The output always has the same number of frames and the same dimension as
// the input.
type Delta struct {
	window   int
	boundary BoundaryPolicy
}

// NewDelta creates a delta operator
func NewDelta(params DeltaParams) (*Delta, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	boundary, _ := ParseBoundaryPolicy(string(params.Boundary))
	return &Delta{window: params.Window, boundary: boundary}, nil
}

// denominator returns 2 * sum_{n=1..w} n^2
func denominator(w int) float64 {
	sum := 0
	for n := 1; n <= w; n++ {
		sum += n * n
	}
	return float64(2 * sum)
}

// Compute returns the first-order deltas of frames
func (d *Delta) Compute(frames [][]float64) ([][]float64, error) {
	numFrames := len(frames)
	if numFrames == 0 {
		return [][]float64{}, nil
	}

	dim := len(frames[0])
	for t, frame := range frames {
		if len(frame) != dim {
			return nil, fmt.Errorf("frame %d has dimension %d, expected %d", t, len(frame), dim)
		}
	}

	buf := make([]float64, numFrames*dim)
	delta := make([][]float64, numFrames)
	for t := range delta {
		delta[t] = buf[t*dim : (t+1)*dim : (t+1)*dim]
	}

	fullDenom := denominator(d.window)
	for t := range numFrames {
		window := d.window
		denom := fullDenom
		if d.boundary == BoundaryTruncate {
			window = min(d.window, t, numFrames-1-t)
			if window == 0 {
				continue
			}
			denom = denominator(window)
		}

		dst := delta[t]
		for n := 1; n <= window; n++ {
			next := d.frameAt(frames, t+n)
			prev := d.frameAt(frames, t-n)
			weight := float64(n)
			for k := range dst {
				var a, b float64
				if next != nil {
					a = next[k]
				}
				if prev != nil {
					b = prev[k]
				}
				dst[k] += weight * (a - b)
			}
		}
		for k := range dst {
			dst[k] /= denom
		}
	}

	return delta, nil
}

// frameAt resolves an index that may fall outside the sequence. A nil frame
// stands for zero padding.
func (d *Delta) frameAt(frames [][]float64, idx int) []float64 {
	if idx >= 0 && idx < len(frames) {
		return frames[idx]
	}
	if d.boundary == BoundaryZero {
		return nil
	}
	if idx < 0 {
		return frames[0]
	}
	return frames[len(frames)-1]
}

// ComputeDeltaDelta applies the delta operator twice
func (d *Delta) ComputeDeltaDelta(frames [][]float64) ([][]float64, error) {
	first, err := d.Compute(frames)
	if err != nil {
		return nil, err
	}
	return d.Compute(first)
}

// ComputeSeries computes deltas of a one-dimensional trajectory
func (d *Delta) ComputeSeries(series []float64) ([]float64, error) {
	frames := make([][]float64, len(series))
	for i, v := range series {
		frames[i] = []float64{v}
	}
	delta, err := d.Compute(frames)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(delta))
	for i, row := range delta {
		out[i] = row[0]
	}
	return out, nil
}

// Deltas computes first-order deltas with the given parameters
func Deltas(frames [][]float64, params DeltaParams) ([][]float64, error) {
	d, err := NewDelta(params)
	if err != nil {
		return nil, err
	}
	return d.Compute(frames)
}

// DeltaDeltas computes second-order deltas with the given parameters
func DeltaDeltas(frames [][]float64, params DeltaParams) ([][]float64, error) {
	d, err := NewDelta(params)
	if err != nil {
		return nil, err
	}
	return d.ComputeDeltaDelta(frames)
}
