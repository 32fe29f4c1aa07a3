package filters

import (
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync"
)

// Glasberg & Moore ERB constants
const (
	EarQ     = 9.26449
	MinBW    = 24.7
	erbOrder = 1.0
)

// ERBSpace returns n centre frequencies uniformly spaced on the ERB scale
// between lowFreq and highFreq. The first element is the highest frequency
// and the last element equals lowFreq.
func ERBSpace(lowFreq, highFreq float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}

	centres := make([]float64, n)
	hi := highFreq + EarQ*MinBW
	lo := lowFreq + EarQ*MinBW
	for i := range n {
		fraction := float64(i+1) / float64(n)
		centres[i] = -EarQ*MinBW + math.Exp(fraction*(-math.Log(hi)+math.Log(lo)))*hi
	}
	return centres
}

// ERBCoefficients holds the four-section gammatone design for one channel.
//
// Each section k is the biquad (A0 + A1k z^-1 + A2 z^-2) / (B0 + B1 z^-1 + B2 z^-2);
// the cascade is divided by Gain so the response at CenterFreq is unity.
//
// Reference: Slaney, M. (1993). "An Efficient Implementation of the
// Patterson-Holdsworth Auditory Filter Bank". Apple Technical Report #35.
type ERBCoefficients struct {
	CenterFreq         float64
	A0, A2             float64
	A11, A12, A13, A14 float64
	B0, B1, B2         float64
	Gain               float64
}

// MakeERBFilter designs the gammatone filter for one centre frequency.
func MakeERBFilter(sampleRate int, centerFreq float64) ERBCoefficients {
	T := 1.0 / float64(sampleRate)
	erb := math.Pow(math.Pow(centerFreq/EarQ, erbOrder)+math.Pow(MinBW, erbOrder), 1/erbOrder)
	B := 1.019 * 2 * math.Pi * erb
	arg := 2 * centerFreq * math.Pi * T
	vec := cmplx.Exp(complex(0, 2*arg))

	rtPos := math.Sqrt(3 + math.Pow(2, 1.5))
	rtNeg := math.Sqrt(3 - math.Pow(2, 1.5))
	common := -T * math.Exp(-B*T)

	cosArg, sinArg := math.Cos(arg), math.Sin(arg)
	k11 := cosArg + rtPos*sinArg
	k12 := cosArg - rtPos*sinArg
	k13 := cosArg + rtNeg*sinArg
	k14 := cosArg - rtNeg*sinArg

	gainArg := cmplx.Exp(complex(-B*T, arg))
	eBT := math.Exp(B * T)
	tail := complex(T*eBT, 0) / (complex(-1/eBT+1, 0) + vec*complex(1-eBT, 0))
	tail4 := tail * tail * tail * tail

	gain := cmplx.Abs(
		(vec - gainArg*complex(k11, 0)) *
			(vec - gainArg*complex(k12, 0)) *
			(vec - gainArg*complex(k13, 0)) *
			(vec - gainArg*complex(k14, 0)) *
			tail4,
	)

	return ERBCoefficients{
		CenterFreq: centerFreq,
		A0:         T,
		A2:         0,
		A11:        common * k11,
		A12:        common * k12,
		A13:        common * k13,
		A14:        common * k14,
		B0:         1,
		B1:         -2 * cosArg / eBT,
		B2:         math.Exp(-2 * B * T),
		Gain:       gain,
	}
}

// sections returns fresh biquads for the four cascaded stages
func (c ERBCoefficients) sections() ([4]*Biquad, error) {
	var out [4]*Biquad
	for i, a1 := range [4]float64{c.A11, c.A12, c.A13, c.A14} {
		bq, err := NewBiquad(c.A0, a1, c.A2, c.B0, c.B1, c.B2)
		if err != nil {
			return out, err
		}
		out[i] = bq
	}
	return out, nil
}

// GammatoneBank is a bank of 4th-order gammatone filters.
type GammatoneBank struct {
	sampleRate int
	channels   []ERBCoefficients
}

// NewGammatoneBank designs one gammatone channel per centre frequency.
func NewGammatoneBank(sampleRate int, centerFreqs []float64) (*GammatoneBank, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if len(centerFreqs) == 0 {
		return nil, fmt.Errorf("gammatone bank needs at least one channel")
	}

	nyquist := float64(sampleRate) / 2
	channels := make([]ERBCoefficients, len(centerFreqs))
	for i, cf := range centerFreqs {
		if cf <= 0 || cf > nyquist {
			return nil, fmt.Errorf("centre frequency %.2f Hz outside (0, %.2f]", cf, nyquist)
		}
		channels[i] = MakeERBFilter(sampleRate, cf)
	}

	return &GammatoneBank{sampleRate: sampleRate, channels: channels}, nil
}

// Channels returns the per-channel designs.
func (g *GammatoneBank) Channels() []ERBCoefficients {
	return g.channels
}

// FilterChannel runs the signal through channel idx and returns the output.
func (g *GammatoneBank) FilterChannel(signal []float64, idx int) ([]float64, error) {
	if idx < 0 || idx >= len(g.channels) {
		return nil, fmt.Errorf("channel %d out of range [0, %d)", idx, len(g.channels))
	}

	coeffs := g.channels[idx]
	sections, err := coeffs.sections()
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(signal))
	copy(out, signal)
	for _, section := range sections {
		section.ProcessInPlace(out)
	}

	invGain := 1.0 / coeffs.Gain
	for i := range out {
		out[i] *= invGain
	}
	return out, nil
}

// Apply filters the signal through every channel. The returned matrix is
// channel x sample, in the order the centre frequencies were given.
// Channels are filtered concurrently; each worker owns the rows it writes.
func (g *GammatoneBank) Apply(signal []float64) ([][]float64, error) {
	output := make([][]float64, len(g.channels))

	numWorkers := min(runtime.NumCPU(), len(g.channels))
	jobs := make(chan int, len(g.channels))
	errs := make([]error, len(g.channels))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				output[idx], errs[idx] = g.FilterChannel(signal, idx)
			}
		}()
	}

	for idx := range g.channels {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	for idx, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", idx, err)
		}
	}
	return output, nil
}

// FFTWeights returns, per channel, the gammatone magnitude response sampled
// at the nfft/2+1 non-negative FFT bins. It is the weighting used by the
// FFT approximation of the filterbank.
func (g *GammatoneBank) FFTWeights(nfft int) [][]float64 {
	bins := nfft/2 + 1
	fs := float64(g.sampleRate)

	ucirc := make([]complex128, bins)
	for k := range bins {
		ucirc[k] = cmplx.Exp(complex(0, 2*math.Pi*float64(k)/float64(nfft)))
	}

	weights := make([][]float64, len(g.channels))
	for c, coeffs := range g.channels {
		r := math.Sqrt(coeffs.B2)
		theta := 2 * math.Pi * coeffs.CenterFreq / fs
		pole := cmplx.Rect(r, theta)
		poleConj := cmplx.Conj(pole)

		row := make([]float64, bins)
		for k, u := range ucirc {
			num := cmplx.Abs(u+complex(coeffs.A11*fs, 0)) *
				cmplx.Abs(u+complex(coeffs.A12*fs, 0)) *
				cmplx.Abs(u+complex(coeffs.A13*fs, 0)) *
				cmplx.Abs(u+complex(coeffs.A14*fs, 0))
			den := cmplx.Abs(complex(fs, 0) * (pole - u) * (poleConj - u))
			row[k] = num * math.Pow(den, -4) / coeffs.Gain
		}
		weights[c] = row
	}
	return weights
}
