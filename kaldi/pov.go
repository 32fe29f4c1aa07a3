package kaldi

import "math"

// NCCFToPOV maps a normalised cross-correlation value to a probability of
// voicing with the logistic fit used by Kaldi's process-kaldi-pitch-feats.
// The result is non-decreasing in |nccf| and lies in (0, 1).
func NCCFToPOV(nccf float64) float64 {
	n := math.Min(math.Abs(nccf), 1)
	r := -5.2 + 5.4*math.Exp(7.5*(n-1)) + 4.8*n - 2*math.Exp(-10*n) + 4.2*math.Exp(20*(n-1))
	return 1 / (1 + math.Exp(-r))
}

// NCCFToPOVSeries applies NCCFToPOV to every frame
func NCCFToPOVSeries(nccf []float64) []float64 {
	out := make([]float64, len(nccf))
	for i, v := range nccf {
		out[i] = NCCFToPOV(v)
	}
	return out
}
