package spectral

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// FFT provides Fast Fourier Transform functionality
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the FFT of a real signal using mjibson/go-dsp
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	// mjibson/go-dsp handles all sizes, including non-power-of-2
	return fft.FFTReal(x)
}

// Magnitude returns |X[k]| for the nfft/2+1 non-negative bins of the
// zero-padded FFT of frame. Frames longer than nfft are truncated.
func (f *FFT) Magnitude(frame []float64, nfft int) []float64 {
	padded := make([]float64, nfft)
	copy(padded, frame)

	spectrum := f.Compute(padded)
	bins := nfft/2 + 1
	mags := make([]float64, bins)
	for k := range bins {
		mags[k] = cmplx.Abs(spectrum[k])
	}
	return mags
}

// NextPowerOfTwo returns the smallest power of two >= n
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << uint(math.Ceil(math.Log2(float64(n))))
}
