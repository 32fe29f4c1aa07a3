package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n, dim int, slope float64) [][]float64 {
	frames := make([][]float64, n)
	for t := range frames {
		frames[t] = make([]float64, dim)
		for k := range dim {
			frames[t][k] = slope*float64(t) + float64(k)
		}
	}
	return frames
}

func TestParseBoundaryPolicy(t *testing.T) {
	for in, want := range map[string]BoundaryPolicy{
		"":          BoundaryReplicate,
		"replicate": BoundaryReplicate,
		"Zero":      BoundaryZero,
		"truncate":  BoundaryTruncate,
	} {
		got, err := ParseBoundaryPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseBoundaryPolicy("mirror")
	assert.Error(t, err)
}

func TestDeltaOfConstantIsZero(t *testing.T) {
	frames := make([][]float64, 10)
	for i := range frames {
		frames[i] = []float64{3, -1.5, 7}
	}

	for _, boundary := range []BoundaryPolicy{BoundaryReplicate, BoundaryTruncate} {
		delta, err := Deltas(frames, DeltaParams{Window: 2, Boundary: boundary})
		require.NoError(t, err)
		require.Len(t, delta, 10)
		for _, row := range delta {
			assert.Equal(t, []float64{0, 0, 0}, row)
		}
	}
}

func TestDeltaOfRampIsSlope(t *testing.T) {
	const slope = 0.5
	frames := ramp(12, 3, slope)

	delta, err := Deltas(frames, DefaultDeltaParams())
	require.NoError(t, err)

	for tIdx := 2; tIdx < 10; tIdx++ {
		for k := range 3 {
			assert.InDelta(t, slope, delta[tIdx][k], 1e-12, "frame %d", tIdx)
		}
	}

	// Truncation keeps the exact slope up to the edges
	truncated, err := Deltas(frames, DeltaParams{Window: 2, Boundary: BoundaryTruncate})
	require.NoError(t, err)
	for tIdx := 1; tIdx < 11; tIdx++ {
		assert.InDelta(t, slope, truncated[tIdx][0], 1e-12, "frame %d", tIdx)
	}
	assert.Equal(t, 0.0, truncated[0][0])
	assert.Equal(t, 0.0, truncated[11][0])
}

func TestDeltaReplicateEdges(t *testing.T) {
	frames := [][]float64{{0}, {1}, {2}, {3}, {4}}
	delta, err := Deltas(frames, DeltaParams{Window: 1, Boundary: BoundaryReplicate})
	require.NoError(t, err)

	// (x[1] - x[0]) / 2 with x[-1] = x[0]
	assert.InDelta(t, 0.5, delta[0][0], 1e-12)
	assert.InDelta(t, 1.0, delta[2][0], 1e-12)
	assert.InDelta(t, 0.5, delta[4][0], 1e-12)
}

func TestDeltaZeroEdges(t *testing.T) {
	frames := [][]float64{{1}, {1}, {1}}
	delta, err := Deltas(frames, DeltaParams{Window: 1, Boundary: BoundaryZero})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, delta[0][0], 1e-12)
	assert.InDelta(t, 0.0, delta[1][0], 1e-12)
	assert.InDelta(t, -0.5, delta[2][0], 1e-12)
}

func TestDeltaDeltaOfRampInterior(t *testing.T) {
	frames := ramp(20, 2, 1.25)

	dd, err := DeltaDeltas(frames, DefaultDeltaParams())
	require.NoError(t, err)
	require.Len(t, dd, 20)

	// The first delta is exact from frame 2 on, so its own delta is zero
	// once the window no longer reaches the edges.
	for tIdx := 4; tIdx < 16; tIdx++ {
		for k := range 2 {
			assert.InDelta(t, 0.0, dd[tIdx][k], 1e-12, "frame %d", tIdx)
		}
	}
}

func TestDeltaPreservesShape(t *testing.T) {
	frames := ramp(3, 5, 1)
	d, err := NewDelta(DeltaParams{Window: 4, Boundary: BoundaryReplicate})
	require.NoError(t, err)

	delta, err := d.Compute(frames)
	require.NoError(t, err)
	require.Len(t, delta, 3)
	for _, row := range delta {
		assert.Len(t, row, 5)
	}

	dd, err := d.ComputeDeltaDelta(frames)
	require.NoError(t, err)
	require.Len(t, dd, 3)

	single, err := d.Compute([][]float64{{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0}}, single)
}

func TestDeltaSeries(t *testing.T) {
	d, err := NewDelta(DefaultDeltaParams())
	require.NoError(t, err)

	out, err := d.ComputeSeries([]float64{0, 2, 4, 6, 8, 10})
	require.NoError(t, err)
	require.Len(t, out, 6)
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 2.0, out[3], 1e-12)
}

func TestDeltaErrors(t *testing.T) {
	_, err := NewDelta(DeltaParams{Window: 0})
	assert.Error(t, err)

	_, err = NewDelta(DeltaParams{Window: 2, Boundary: "mirror"})
	assert.Error(t, err)

	_, err = Deltas([][]float64{{1, 2}, {3}}, DefaultDeltaParams())
	assert.Error(t, err)

	empty, err := Deltas(nil, DefaultDeltaParams())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
