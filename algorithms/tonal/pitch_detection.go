package tonal

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-prosody/algorithms/filters"
	"github.com/RyanBlaney/sonido-prosody/logging"
)

// PitchTrackerParams configures the YIN pitch tracker
type PitchTrackerParams struct {
	SampleRate    int     `json:"sample_rate"`
	FrameLengthMs float64 `json:"frame_length"` // Integration window (ms)
	FrameShiftMs  float64 `json:"frame_shift"`  // Hop between frames (ms)

	// Frequency range constraints
	MinF0 float64 `json:"min_f0"` // Minimum frequency (Hz)
	MaxF0 float64 `json:"max_f0"` // Maximum frequency (Hz)

	YinThreshold float64 `json:"yin_threshold"` // Voicing threshold on the CMNDF (0.1-0.5)
	DCCutoff     float64 `json:"dc_cutoff"`     // DC blocker cutoff (Hz), 0 disables
}

// DefaultPitchTrackerParams matches the framing of Kaldi's pitch extractor
func DefaultPitchTrackerParams(sampleRate int) PitchTrackerParams {
	return PitchTrackerParams{
		SampleRate:    sampleRate,
		FrameLengthMs: 25,
		FrameShiftMs:  10,
		MinF0:         50,
		MaxF0:         400,
		YinThreshold:  0.15,
		DCCutoff:      20,
	}
}

// Validate checks the parameters
func (p PitchTrackerParams) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	if p.FrameLengthMs <= 0 || p.FrameShiftMs <= 0 {
		return fmt.Errorf("frame length (%g ms) and shift (%g ms) must be positive", p.FrameLengthMs, p.FrameShiftMs)
	}
	if p.MinF0 <= 0 || p.MaxF0 <= p.MinF0 {
		return fmt.Errorf("invalid f0 range [%g, %g] Hz", p.MinF0, p.MaxF0)
	}
	if nyquist := float64(p.SampleRate) / 2; p.MaxF0 >= nyquist {
		return fmt.Errorf("max f0 (%g Hz) must be below Nyquist (%g Hz)", p.MaxF0, nyquist)
	}
	if p.YinThreshold <= 0 || p.YinThreshold >= 1 {
		return fmt.Errorf("yin threshold must be in (0, 1), got %g", p.YinThreshold)
	}
	if p.DCCutoff < 0 {
		return fmt.Errorf("dc cutoff must not be negative, got %g", p.DCCutoff)
	}
	return nil
}

// PitchContour is a per-frame pitch track. Unvoiced frames carry a pitch
// interpolated from their voiced neighbours so the contour stays continuous;
// their POV tells them apart.
type PitchContour struct {
	Pitch       []float64 `json:"pitch"`        // Hz
	POV         []float64 `json:"pov"`          // Probability of voicing, 0-1
	Voiced      []bool    `json:"voiced"`       // YIN threshold decision
	FrameLength float64   `json:"frame_length"` // Seconds
	FrameShift  float64   `json:"frame_shift"`  // Seconds
}

// NumFrames returns the number of frames in the contour
func (c *PitchContour) NumFrames() int {
	return len(c.Pitch)
}

// PitchTracker estimates the fundamental frequency frame by frame with the
// YIN cumulative mean normalised difference function.
//
// References:
// - de Cheveigné, A., Kawahara, H. (2002). "YIN, a fundamental frequency estimator for speech and music"
type PitchTracker struct {
	params PitchTrackerParams

	windowSize int // Integration window W (samples)
	hopSize    int
	minLag     int
	maxLag     int

	logger logging.Logger
}

// frameEstimate is the raw YIN output for one frame
type frameEstimate struct {
	pitch  float64
	pov    float64
	voiced bool
	silent bool
}

// NewPitchTracker creates a tracker
func NewPitchTracker(params PitchTrackerParams) (*PitchTracker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	fs := float64(params.SampleRate)
	pt := &PitchTracker{
		params:     params,
		windowSize: int(math.Round(params.FrameLengthMs * fs / 1000)),
		hopSize:    int(math.Round(params.FrameShiftMs * fs / 1000)),
		minLag:     max(2, int(math.Floor(fs/params.MaxF0))),
		maxLag:     int(math.Ceil(fs / params.MinF0)),
		logger: logging.WithFields(logging.Fields{
			"component": "pitch_tracker",
		}),
	}
	if pt.windowSize < 1 || pt.hopSize < 1 {
		return nil, fmt.Errorf("frame length and shift must cover at least one sample at %d Hz", params.SampleRate)
	}
	return pt, nil
}

// NumFrames returns the frame count for a signal of numSamples samples.
// Only frames that fit entirely in the signal are produced.
func (pt *PitchTracker) NumFrames(numSamples int) int {
	if numSamples < pt.windowSize {
		return 0
	}
	return 1 + (numSamples-pt.windowSize)/pt.hopSize
}

// Track computes the pitch contour of a mono signal
func (pt *PitchTracker) Track(ctx context.Context, signal []float64) (*PitchContour, error) {
	numFrames := pt.NumFrames(len(signal))
	if numFrames == 0 {
		return nil, fmt.Errorf("signal of %d samples is shorter than one %d-sample pitch frame", len(signal), pt.windowSize)
	}

	logger := pt.logger.WithFields(logging.Fields{
		"function": "Track",
		"frames":   numFrames,
		"min_lag":  pt.minLag,
		"max_lag":  pt.maxLag,
	})
	logger.Debug("Tracking pitch")

	processed := signal
	if pt.params.DCCutoff > 0 {
		dc, err := filters.NewDCRemovalWithCutoff(pt.params.SampleRate, pt.params.DCCutoff)
		if err != nil {
			return nil, fmt.Errorf("failed to design DC blocker: %w", err)
		}
		processed = dc.ProcessBuffer(signal)
		logger.Debug("Removed DC offset", logging.Fields{"cutoff_hz": dc.CutoffFrequency(pt.params.SampleRate)})
	}

	estimates := make([]frameEstimate, numFrames)
	numWorkers := min(runtime.NumCPU(), numFrames)
	chunk := (numFrames + numWorkers - 1) / numWorkers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < numFrames; start += chunk {
		end := min(start+chunk, numFrames)
		g.Go(func() error {
			buf := make([]float64, pt.windowSize+pt.maxLag+1)
			diff := make([]float64, pt.maxLag+2)
			for t := start; t < end; t++ {
				if (t-start)%64 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				estimates[t] = pt.estimateFrame(processed, t*pt.hopSize, buf, diff)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pitch tracking interrupted: %w", err)
	}

	contour := pt.assemble(estimates)

	voiced := 0
	for _, v := range contour.Voiced {
		if v {
			voiced++
		}
	}
	logger.WithFields(logging.Fields{
		"voiced_frames": voiced,
		"mean_pov":      stat.Mean(contour.POV, nil),
	}).Debug("Pitch tracking complete")

	return contour, nil
}

// estimateFrame runs YIN on the frame starting at offset. Samples past the
// end of the signal read as zero.
func (pt *PitchTracker) estimateFrame(signal []float64, offset int, buf, diff []float64) frameEstimate {
	n := copy(buf, signal[offset:])
	clear(buf[n:])

	w := pt.windowSize
	energy := 0.0
	for _, x := range buf[:w] {
		energy += x * x
	}
	if energy < 1e-12 {
		return frameEstimate{silent: true}
	}

	// Difference function d(tau) = sum_j (x[j] - x[j+tau])^2
	maxLag := pt.maxLag
	for tau := 1; tau <= maxLag+1; tau++ {
		sum := 0.0
		for j := range w {
			delta := buf[j] - buf[j+tau]
			sum += delta * delta
		}
		diff[tau] = sum
	}

	// Cumulative mean normalised difference, in place
	diff[0] = 1
	runningSum := 0.0
	for tau := 1; tau <= maxLag+1; tau++ {
		runningSum += diff[tau]
		if runningSum > 0 {
			diff[tau] *= float64(tau) / runningSum
		} else {
			diff[tau] = 1
		}
	}
	cmndf := diff

	// First dip below threshold, followed down to its local minimum
	best := -1
	for tau := pt.minLag; tau <= maxLag; tau++ {
		if cmndf[tau] < pt.params.YinThreshold {
			for tau+1 <= maxLag && cmndf[tau+1] < cmndf[tau] {
				tau++
			}
			best = tau
			break
		}
	}

	voiced := best > 0
	if !voiced {
		best = pt.minLag
		for tau := pt.minLag + 1; tau <= maxLag; tau++ {
			if cmndf[tau] < cmndf[best] {
				best = tau
			}
		}
	}

	period := parabolicInterpolation(cmndf, best)
	pitch := float64(pt.params.SampleRate) / period
	pitch = math.Min(math.Max(pitch, pt.params.MinF0), pt.params.MaxF0)

	return frameEstimate{
		pitch:  pitch,
		pov:    math.Min(math.Max(1-cmndf[best], 0), 1),
		voiced: voiced,
	}
}

// assemble turns raw estimates into a continuous contour. Unvoiced frames
// take the pitch linearly interpolated between the nearest voiced frames
// (held constant before the first and after the last). With no voiced frame
// at all, frames keep their own estimate and silent frames get MinF0.
func (pt *PitchTracker) assemble(estimates []frameEstimate) *PitchContour {
	n := len(estimates)
	contour := &PitchContour{
		Pitch:       make([]float64, n),
		POV:         make([]float64, n),
		Voiced:      make([]bool, n),
		FrameLength: float64(pt.windowSize) / float64(pt.params.SampleRate),
		FrameShift:  float64(pt.hopSize) / float64(pt.params.SampleRate),
	}

	anchors := make([]int, 0, n)
	for t, est := range estimates {
		contour.POV[t] = est.pov
		contour.Voiced[t] = est.voiced
		if est.voiced {
			anchors = append(anchors, t)
		}
	}

	if len(anchors) == 0 {
		for t, est := range estimates {
			if est.silent {
				contour.Pitch[t] = pt.params.MinF0
			} else {
				contour.Pitch[t] = est.pitch
			}
		}
		return contour
	}

	next := 0
	for t := range n {
		for next < len(anchors) && anchors[next] < t {
			next++
		}
		switch {
		case next < len(anchors) && anchors[next] == t:
			contour.Pitch[t] = estimates[t].pitch
		case next == 0:
			contour.Pitch[t] = estimates[anchors[0]].pitch
		case next == len(anchors):
			contour.Pitch[t] = estimates[anchors[len(anchors)-1]].pitch
		default:
			left, right := anchors[next-1], anchors[next]
			frac := float64(t-left) / float64(right-left)
			lp, rp := estimates[left].pitch, estimates[right].pitch
			contour.Pitch[t] = lp + frac*(rp-lp)
		}
	}
	return contour
}

// parabolicInterpolation refines a minimum location to sub-sample accuracy
func parabolicInterpolation(data []float64, idx int) float64 {
	if idx <= 0 || idx >= len(data)-1 {
		return float64(idx)
	}

	y1 := data[idx-1]
	y2 := data[idx]
	y3 := data[idx+1]

	a := (y1 - 2*y2 + y3) / 2
	b := (y3 - y1) / 2
	if a == 0 {
		return float64(idx)
	}

	shift := -b / (2 * a)
	if math.Abs(shift) > 1 {
		return float64(idx)
	}
	return float64(idx) + shift
}
