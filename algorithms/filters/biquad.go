package filters

import (
	"fmt"
	"math/cmplx"
)

// Biquad is a second-order IIR section with arbitrary coefficients.
//
// The difference equation is:
// y[n] = b0*x[n] + b1*x[n-1] + b2*x[n-2] - a1*y[n-1] - a2*y[n-2]
//
// Coefficients are normalised so that a0 == 1.
type Biquad struct {
	b0, b1, b2 float64 // Numerator coefficients
	a1, a2     float64 // Denominator coefficients (a0 normalised away)

	// Direct form II state
	w1, w2 float64
}

// NewBiquad creates a biquad from raw numerator (b) and denominator (a)
// coefficients, normalising by a0.
func NewBiquad(b0, b1, b2, a0, a1, a2 float64) (*Biquad, error) {
	if a0 == 0 {
		return nil, fmt.Errorf("biquad a0 coefficient must be non-zero")
	}
	return &Biquad{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}, nil
}

// Process applies the filter to a single sample.
func (bq *Biquad) Process(input float64) float64 {
	// w[n] = x[n] - a1*w[n-1] - a2*w[n-2]
	w := input - bq.a1*bq.w1 - bq.a2*bq.w2

	// y[n] = b0*w[n] + b1*w[n-1] + b2*w[n-2]
	output := bq.b0*w + bq.b1*bq.w1 + bq.b2*bq.w2

	bq.w2 = bq.w1
	bq.w1 = w

	return output
}

// ProcessInPlace filters buf in place, continuing from the current state.
func (bq *Biquad) ProcessInPlace(buf []float64) {
	for i, sample := range buf {
		buf[i] = bq.Process(sample)
	}
}

// Reset clears the filter's delay line.
func (bq *Biquad) Reset() {
	bq.w1, bq.w2 = 0.0, 0.0
}

// Response evaluates H(z) at z = e^{jw} for the normalised angular frequency w.
func (bq *Biquad) Response(w float64) complex128 {
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	num := complex(bq.b0, 0) + complex(bq.b1, 0)*z1 + complex(bq.b2, 0)*z2
	den := 1 + complex(bq.a1, 0)*z1 + complex(bq.a2, 0)*z2
	return num / den
}

// Coefficients returns the normalised coefficients (b0, b1, b2, a1, a2).
func (bq *Biquad) Coefficients() (b0, b1, b2, a1, a2 float64) {
	return bq.b0, bq.b1, bq.b2, bq.a1, bq.a2
}
