package filters

import (
	"fmt"
	"math"
)

// DCRemoval is a one-pole DC blocker:
//
//	y[n] = x[n] - x[n-1] + R*y[n-1]
//
// The pitch tracker runs it before framing so a DC offset in the recording
// does not inflate the autocorrelation at every lag.
//
// References:
//   - Julius O. Smith III, "Introduction to Digital Filters with Audio Applications"
//     https://ccrma.stanford.edu/~jos/filters/DC_Blocker.html
type DCRemoval struct {
	pole float64 // R, 0 < R < 1

	x1 float64
	y1 float64
}

// NewDCRemovalWithCutoff designs the pole from a -3 dB cutoff using
// R = 1 - 2*pi*fc/fs, which holds for fc << fs/2.
func NewDCRemovalWithCutoff(sampleRate int, cutoffFreq float64) (*DCRemoval, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if cutoffFreq <= 0 {
		return nil, fmt.Errorf("cutoff frequency must be positive, got %g", cutoffFreq)
	}

	pole := 1.0 - 2.0*math.Pi*cutoffFreq/float64(sampleRate)
	if pole <= 0 || pole >= 1 {
		return nil, fmt.Errorf("cutoff %g Hz is out of range at %d Hz", cutoffFreq, sampleRate)
	}
	return &DCRemoval{pole: pole}, nil
}

// CutoffFrequency returns the approximate -3 dB cutoff, (1-R)*fs/(2*pi)
func (dc *DCRemoval) CutoffFrequency(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return (1.0 - dc.pole) * float64(sampleRate) / (2.0 * math.Pi)
}

// Process filters a single sample
func (dc *DCRemoval) Process(input float64) float64 {
	output := input - dc.x1 + dc.pole*dc.y1
	dc.x1 = input
	dc.y1 = output
	return output
}

// ProcessBuffer filters a whole buffer into a new slice
func (dc *DCRemoval) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	for i, sample := range input {
		output[i] = dc.Process(sample)
	}
	return output
}

// Reset clears the filter state
func (dc *DCRemoval) Reset() {
	dc.x1 = 0
	dc.y1 = 0
}
