package prosody

import (
	"context"

	"github.com/RyanBlaney/sonido-prosody/algorithms/spectral"
	"github.com/RyanBlaney/sonido-prosody/prosody/config"
)

// Decomposition is the output of a spectral decomposer
type Decomposition struct {
	Energy            *FrameSequence // Time x Channel, non-negative
	CenterFrequencies []float64      // Hz, one per channel in column order
}

// Decomposer turns a waveform into a time-frequency energy matrix
type Decomposer interface {
	Decompose(ctx context.Context, samples []float64, sampleRate int) (*Decomposition, error)
}

// GammatoneDecomposer computes a gammatonegram
type GammatoneDecomposer struct {
	params spectral.GammatoneParams
	gram   *spectral.Gammatonegram
}

// NewGammatoneDecomposer creates a decomposer from the filterbank section
func NewGammatoneDecomposer(cfg config.FilterbankConfig) *GammatoneDecomposer {
	return &GammatoneDecomposer{
		params: GammatoneParams(cfg),
		gram:   spectral.NewGammatonegram(),
	}
}

// GammatoneParams converts the filterbank section to gammatonegram parameters
func GammatoneParams(cfg config.FilterbankConfig) spectral.GammatoneParams {
	return spectral.GammatoneParams{
		NumChannels: cfg.NumChannels,
		LowFreq:     cfg.LowFrequency,
		WindowTime:  cfg.WindowTime,
		OverlapTime: cfg.OverlapTime,
		Accurate:    cfg.Accurate,
	}
}

func (d *GammatoneDecomposer) Decompose(ctx context.Context, samples []float64, sampleRate int) (*Decomposition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := d.gram.Compute(samples, sampleRate, d.params)
	if err != nil {
		return nil, err
	}
	return &Decomposition{
		Energy: &FrameSequence{
			Name:        StreamEnergy,
			Frames:      result.Energy,
			FrameLength: result.WindowTime,
			FrameShift:  result.HopTime,
		},
		CenterFrequencies: result.CenterFrequencies,
	}, nil
}
