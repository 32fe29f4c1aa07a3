package spectral

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DCT projects frames onto the first Size basis vectors of a type-II
// discrete cosine transform taken along the feature axis.
//
// With normalize=true the basis is orthonormal (k=0 scaled by 1/sqrt(D),
// k>0 by sqrt(2/D)). Otherwise the classical unnormalised DCT-II is used,
// y[k] = 2 * sum_n x[n] cos(pi*k*(2n+1)/(2D)).
type DCT struct {
	inputDim  int
	size      int
	normalize bool
	basis     *mat.Dense // size x inputDim
}

// NewDCT builds the basis for inputs of dimension inputDim
func NewDCT(inputDim, size int, normalize bool) (*DCT, error) {
	if inputDim < 1 {
		return nil, fmt.Errorf("DCT input dimension must be at least 1, got %d", inputDim)
	}
	if size < 1 || size > inputDim {
		return nil, fmt.Errorf("DCT size %d must be in [1, %d]", size, inputDim)
	}

	d := &DCT{
		inputDim:  inputDim,
		size:      size,
		normalize: normalize,
		basis:     mat.NewDense(size, inputDim, nil),
	}
	d.createBasis()
	return d, nil
}

func (d *DCT) createBasis() {
	n := float64(d.inputDim)
	for k := range d.size {
		scale := 2.0
		if d.normalize {
			if k == 0 {
				scale = math.Sqrt(1.0 / n)
			} else {
				scale = math.Sqrt(2.0 / n)
			}
		}
		for i := range d.inputDim {
			d.basis.Set(k, i, scale*math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*n)))
		}
	}
}

// Size returns the number of retained coefficients
func (d *DCT) Size() int {
	return d.size
}

// Basis returns the size x inputDim transform matrix
func (d *DCT) Basis() mat.Matrix {
	return d.basis
}

// Transform returns the DCT coefficients of every frame (Time x Size)
func (d *DCT) Transform(frames [][]float64) ([][]float64, error) {
	if len(frames) == 0 {
		return [][]float64{}, nil
	}

	in := mat.NewDense(len(frames), d.inputDim, nil)
	for t, frame := range frames {
		if len(frame) != d.inputDim {
			return nil, fmt.Errorf("frame %d has dimension %d, expected %d", t, len(frame), d.inputDim)
		}
		in.SetRow(t, frame)
	}

	var out mat.Dense
	out.Mul(in, d.basis.T())

	coeffs := make([][]float64, len(frames))
	for t := range coeffs {
		coeffs[t] = mat.Row(nil, t, &out)
	}
	return coeffs, nil
}

// Inverse reconstructs frames from a full set of coefficients
// (only when Size equals the input dimension).
func (d *DCT) Inverse(coeffs [][]float64) ([][]float64, error) {
	if d.size != d.inputDim {
		return nil, fmt.Errorf("inverse DCT needs all %d coefficients, have %d", d.inputDim, d.size)
	}
	if len(coeffs) == 0 {
		return [][]float64{}, nil
	}

	in := mat.NewDense(len(coeffs), d.size, nil)
	for t, c := range coeffs {
		if len(c) != d.size {
			return nil, fmt.Errorf("coefficient frame %d has dimension %d, expected %d", t, len(c), d.size)
		}
		in.SetRow(t, c)
	}

	// The orthonormal basis inverts by transposition. The unnormalised
	// basis B satisfies B B^T = 2D * diag(2, 1, ..., 1), so its inverse is
	// B^T with the k=0 column halved, divided by 2D.
	inverse := mat.DenseCopyOf(d.basis.T())
	if !d.normalize {
		n := float64(d.inputDim)
		inverse.Scale(1/(2*n), inverse)
		for i := range d.inputDim {
			inverse.Set(i, 0, inverse.At(i, 0)/2)
		}
	}

	var out mat.Dense
	out.Mul(in, inverse.T())

	frames := make([][]float64, len(coeffs))
	for t := range frames {
		frames[t] = mat.Row(nil, t, &out)
	}
	return frames, nil
}
