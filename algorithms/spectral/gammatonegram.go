package spectral

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-prosody/algorithms/filters"
	"github.com/RyanBlaney/sonido-prosody/algorithms/windowing"
	"github.com/RyanBlaney/sonido-prosody/logging"
)

// GammatoneParams configures a gammatonegram computation
type GammatoneParams struct {
	NumChannels int     `json:"nb_channels"`   // Number of filterbank channels
	LowFreq     float64 `json:"low_frequency"` // Lowest centre frequency (Hz)
	WindowTime  float64 `json:"window_time"`   // Integration window (s)
	OverlapTime float64 `json:"overlap_time"`  // Overlap of successive windows (s)
	Accurate    bool    `json:"accurate"`      // Full filterbank instead of FFT weighting
}

// HopTime returns the frame shift implied by the window and overlap
func (p GammatoneParams) HopTime() float64 {
	return p.WindowTime - p.OverlapTime
}

// Validate checks the parameters against a sample rate. A sampleRate of 0
// skips the checks that depend on it.
func (p GammatoneParams) Validate(sampleRate int) error {
	if p.NumChannels < 1 {
		return fmt.Errorf("nb_channels must be at least 1, got %d", p.NumChannels)
	}
	if p.WindowTime <= 0 {
		return fmt.Errorf("window_time must be positive, got %g", p.WindowTime)
	}
	if p.OverlapTime < 0 {
		return fmt.Errorf("overlap_time must not be negative, got %g", p.OverlapTime)
	}
	if p.OverlapTime >= p.WindowTime {
		return fmt.Errorf("overlap_time (%g) must be smaller than window_time (%g)", p.OverlapTime, p.WindowTime)
	}
	if p.LowFreq <= 0 {
		return fmt.Errorf("low_frequency must be positive, got %g", p.LowFreq)
	}
	if sampleRate > 0 {
		if nyquist := float64(sampleRate) / 2; p.LowFreq >= nyquist {
			return fmt.Errorf("low_frequency (%g Hz) must be below Nyquist (%g Hz)", p.LowFreq, nyquist)
		}
		if math.Round(p.HopTime()*float64(sampleRate)) < 1 {
			return fmt.Errorf("frame shift %g s is shorter than one sample at %d Hz", p.HopTime(), sampleRate)
		}
	}
	return nil
}

// GammatonegramResult holds a time-frequency energy matrix
type GammatonegramResult struct {
	Energy            [][]float64 `json:"energy"`             // Time x Channel, increasing frequency
	CenterFrequencies []float64   `json:"center_frequencies"` // Increasing, Hz
	SampleRate        int         `json:"sample_rate"`
	WindowSamples     int         `json:"window_samples"`
	HopSamples        int         `json:"hop_samples"`
	WindowTime        float64     `json:"window_time"`
	HopTime           float64     `json:"hop_time"`
}

// Gammatonegram computes spectrogram-like energies from a gammatone filterbank.
// Each channel's energy is integrated (RMS) over windows of WindowTime seconds
// advancing by WindowTime-OverlapTime.
type Gammatonegram struct {
	fft    *FFT
	logger logging.Logger
}

// NewGammatonegram creates a new gammatonegram calculator
func NewGammatonegram() *Gammatonegram {
	return &Gammatonegram{
		fft: NewFFT(),
		logger: logging.WithFields(logging.Fields{
			"component": "gammatonegram",
		}),
	}
}

// Strides returns the window length, hop length (samples) and number of
// complete frames for a signal of numSamples samples.
func Strides(sampleRate int, windowTime, hopTime float64, numSamples int) (nwin, nhop, frames int) {
	nwin = int(math.Round(windowTime * float64(sampleRate)))
	nhop = int(math.Round(hopTime * float64(sampleRate)))
	if nhop < 1 || numSamples < nwin {
		return nwin, nhop, 0
	}
	frames = 1 + (numSamples-nwin)/nhop
	return nwin, nhop, frames
}

// Compute runs the filterbank over signal and returns frame energies
func (g *Gammatonegram) Compute(signal []float64, sampleRate int, params GammatoneParams) (*GammatonegramResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}
	if err := params.Validate(sampleRate); err != nil {
		return nil, err
	}

	nwin, nhop, frames := Strides(sampleRate, params.WindowTime, params.HopTime(), len(signal))
	if frames == 0 {
		return nil, fmt.Errorf("signal of %d samples is shorter than one %d-sample window", len(signal), nwin)
	}

	// Highest frequency first, as designed on the ERB scale
	centres := filters.ERBSpace(params.LowFreq, float64(sampleRate)/2, params.NumChannels)
	bank, err := filters.NewGammatoneBank(sampleRate, centres)
	if err != nil {
		return nil, fmt.Errorf("failed to design gammatone bank: %w", err)
	}

	logger := g.logger.WithFields(logging.Fields{
		"function":    "Compute",
		"channels":    params.NumChannels,
		"accurate":    params.Accurate,
		"window_size": nwin,
		"hop_size":    nhop,
		"frames":      frames,
	})
	logger.Debug("Computing filterbank energy")

	var energy [][]float64
	if params.Accurate {
		energy, err = g.computeAccurate(bank, signal, nwin, nhop, frames)
	} else {
		energy, err = g.computeFFTWeighted(bank, signal, params.WindowTime, sampleRate, nwin, nhop, frames)
	}
	if err != nil {
		return nil, err
	}

	// Reorder channels by increasing frequency
	for _, row := range energy {
		slices.Reverse(row)
	}
	increasing := slices.Clone(centres)
	slices.Reverse(increasing)

	return &GammatonegramResult{
		Energy:            energy,
		CenterFrequencies: increasing,
		SampleRate:        sampleRate,
		WindowSamples:     nwin,
		HopSamples:        nhop,
		WindowTime:        float64(nwin) / float64(sampleRate),
		HopTime:           float64(nhop) / float64(sampleRate),
	}, nil
}

// computeAccurate filters the whole signal per channel and takes the RMS of
// each window of the squared response.
func (g *Gammatonegram) computeAccurate(bank *filters.GammatoneBank, signal []float64, nwin, nhop, frames int) ([][]float64, error) {
	responses, err := bank.Apply(signal)
	if err != nil {
		return nil, fmt.Errorf("gammatone filtering failed: %w", err)
	}

	energy := newMatrix(frames, len(responses))
	for c, response := range responses {
		for t := range frames {
			segment := response[t*nhop : t*nhop+nwin]
			energy[t][c] = math.Sqrt(floats.Dot(segment, segment) / float64(nwin))
		}
	}
	return energy, nil
}

// computeFFTWeighted approximates the filterbank by weighting Hann-windowed
// FFT magnitudes with each channel's gammatone magnitude response.
func (g *Gammatonegram) computeFFTWeighted(bank *filters.GammatoneBank, signal []float64, windowTime float64, sampleRate, nwin, nhop, frames int) ([][]float64, error) {
	nfft := NextPowerOfTwo(int(math.Ceil(2 * windowTime * float64(sampleRate))))
	weights := bank.FFTWeights(nfft)
	window := windowing.NewHann(nwin, true)

	energy := newMatrix(frames, len(weights))
	frame := make([]float64, nwin)
	for t := range frames {
		copy(frame, signal[t*nhop:t*nhop+nwin])
		if err := window.ApplyInPlace(frame); err != nil {
			return nil, err
		}
		mags := g.fft.Magnitude(frame, nfft)
		for c, w := range weights {
			energy[t][c] = floats.Dot(w, mags) / float64(nfft)
		}
	}
	return energy, nil
}

// newMatrix allocates a rows x cols matrix backed by one contiguous buffer
func newMatrix(rows, cols int) [][]float64 {
	buf := make([]float64, rows*cols)
	m := make([][]float64, rows)
	for i := range m {
		m[i] = buf[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return m
}
