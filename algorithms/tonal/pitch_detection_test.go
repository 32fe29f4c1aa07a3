package tonal

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, sampleRate, n int, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func TestPitchTrackerSine(t *testing.T) {
	tracker, err := NewPitchTracker(DefaultPitchTrackerParams(16000))
	require.NoError(t, err)

	contour, err := tracker.Track(context.Background(), sine(200, 16000, 16000, 0.5))
	require.NoError(t, err)

	require.Equal(t, 98, contour.NumFrames())
	require.Len(t, contour.POV, 98)
	assert.InDelta(t, 0.025, contour.FrameLength, 1e-12)
	assert.InDelta(t, 0.01, contour.FrameShift, 1e-12)

	for i := 5; i < 90; i++ {
		assert.InDelta(t, 200.0, contour.Pitch[i], 2.0, "frame %d", i)
		assert.Greater(t, contour.POV[i], 0.8, "frame %d", i)
		assert.True(t, contour.Voiced[i], "frame %d", i)
	}
}

func TestPitchTrackerSilence(t *testing.T) {
	params := DefaultPitchTrackerParams(16000)
	tracker, err := NewPitchTracker(params)
	require.NoError(t, err)

	contour, err := tracker.Track(context.Background(), make([]float64, 16000))
	require.NoError(t, err)
	require.Equal(t, 98, contour.NumFrames())

	for i := range contour.NumFrames() {
		assert.Equal(t, 0.0, contour.POV[i])
		assert.False(t, contour.Voiced[i])
		assert.Equal(t, params.MinF0, contour.Pitch[i])
	}
}

func TestPitchTrackerInterpolatesGaps(t *testing.T) {
	const fs = 16000
	signal := sine(150, fs, fs, 0.5)
	// Silence the middle fifth
	clear(signal[6000:9000])

	params := DefaultPitchTrackerParams(fs)
	params.DCCutoff = 0
	tracker, err := NewPitchTracker(params)
	require.NoError(t, err)

	contour, err := tracker.Track(context.Background(), signal)
	require.NoError(t, err)

	mid := 45
	assert.False(t, contour.Voiced[mid])
	assert.Equal(t, 0.0, contour.POV[mid])
	assert.InDelta(t, 150.0, contour.Pitch[mid], 3.0)
}

func TestPitchTrackerErrors(t *testing.T) {
	params := DefaultPitchTrackerParams(16000)
	params.MaxF0 = params.MinF0
	_, err := NewPitchTracker(params)
	assert.Error(t, err)

	params = DefaultPitchTrackerParams(16000)
	params.MaxF0 = 9000
	_, err = NewPitchTracker(params)
	assert.Error(t, err)

	params = DefaultPitchTrackerParams(0)
	_, err = NewPitchTracker(params)
	assert.Error(t, err)

	tracker, err := NewPitchTracker(DefaultPitchTrackerParams(16000))
	require.NoError(t, err)
	_, err = tracker.Track(context.Background(), make([]float64, 100))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tracker.Track(ctx, sine(200, 16000, 16000, 0.5))
	assert.ErrorIs(t, err, context.Canceled)
}
