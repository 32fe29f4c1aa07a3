package filters

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestERBSpace(t *testing.T) {
	centres := ERBSpace(20, 8000, 40)
	require.Len(t, centres, 40)

	assert.InDelta(t, 20.0, centres[39], 1e-9)
	assert.Less(t, centres[0], 8000.0)
	for i := 1; i < len(centres); i++ {
		assert.Less(t, centres[i], centres[i-1], "centres must decrease")
	}

	assert.Empty(t, ERBSpace(20, 8000, 0))
}

func TestGammatoneUnityGainAtCentre(t *testing.T) {
	for _, cf := range []float64{100, 440, 1000, 3000} {
		coeffs := MakeERBFilter(16000, cf)
		sections, err := coeffs.sections()
		require.NoError(t, err)

		w := 2 * math.Pi * cf / 16000
		h := complex(1, 0)
		for _, s := range sections {
			h *= s.Response(w)
		}
		assert.InDelta(t, 1.0, cmplx.Abs(h)/coeffs.Gain, 1e-6, "cf=%v", cf)
	}
}

func TestGammatoneBankSelectivity(t *testing.T) {
	const fs = 16000
	bank, err := NewGammatoneBank(fs, []float64{1000, 250})
	require.NoError(t, err)

	signal := make([]float64, fs)
	for i := range signal {
		signal[i] = math.Sin(2 * math.Pi * 1000 * float64(i) / fs)
	}

	out, err := bank.Apply(signal)
	require.NoError(t, err)
	require.Len(t, out, 2)

	rms := func(x []float64) float64 {
		s := 0.0
		for _, v := range x[len(x)/2:] {
			s += v * v
		}
		return math.Sqrt(s / float64(len(x)/2))
	}

	// A unit sine at the centre frequency comes out with RMS 1/sqrt(2).
	assert.InDelta(t, 1/math.Sqrt2, rms(out[0]), 0.02)
	assert.Less(t, rms(out[1]), 0.05)
}

func TestGammatoneBankRejectsBadInput(t *testing.T) {
	_, err := NewGammatoneBank(0, []float64{100})
	assert.Error(t, err)

	_, err = NewGammatoneBank(16000, nil)
	assert.Error(t, err)

	_, err = NewGammatoneBank(16000, []float64{9000})
	assert.Error(t, err)
}

func TestFFTWeightsPeakNearCentre(t *testing.T) {
	const fs, nfft = 16000, 1024
	bank, err := NewGammatoneBank(fs, []float64{1000})
	require.NoError(t, err)

	weights := bank.FFTWeights(nfft)
	require.Len(t, weights, 1)
	require.Len(t, weights[0], nfft/2+1)

	peak := 0
	for k, v := range weights[0] {
		if v > weights[0][peak] {
			peak = k
		}
	}
	peakFreq := float64(peak) * fs / nfft
	assert.InDelta(t, 1000, peakFreq, 4*float64(fs)/nfft)
}

func TestBiquadRejectsZeroA0(t *testing.T) {
	_, err := NewBiquad(1, 0, 0, 0, 0, 0)
	assert.Error(t, err)
}

func TestDCRemovalBlocksOffset(t *testing.T) {
	dc, err := NewDCRemovalWithCutoff(16000, 20)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, dc.CutoffFrequency(16000), 1e-9)

	input := make([]float64, 16000)
	for i := range input {
		input[i] = 0.5
	}
	out := dc.ProcessBuffer(input)
	assert.InDelta(t, 0.0, out[len(out)-1], 1e-6)

	dc.Reset()
	assert.Equal(t, 0.5, dc.Process(0.5))

	_, err = NewDCRemovalWithCutoff(16000, 0)
	assert.Error(t, err)
	_, err = NewDCRemovalWithCutoff(0, 20)
	assert.Error(t, err)
	_, err = NewDCRemovalWithCutoff(16000, 4000)
	assert.Error(t, err, "pole must stay inside the unit circle")
}
