package prosody

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Stream names, in concatenation order
const (
	StreamEnergy     = "energy"
	StreamDelta      = "delta"
	StreamDeltaDelta = "delta_delta"
	StreamDCT        = "dct"
	StreamPitch      = "pitch"
	StreamPOV        = "pov"
	StreamPitchDelta = "pitch_delta"
)

var streamOrder = []string{
	StreamEnergy,
	StreamDelta,
	StreamDeltaDelta,
	StreamDCT,
	StreamPitch,
	StreamPOV,
	StreamPitchDelta,
}

// StreamOrder returns the fixed concatenation order of all streams
func StreamOrder() []string {
	return append([]string(nil), streamOrder...)
}

// FrameSequence is a uniformly sampled sequence of equal-dimension vectors
type FrameSequence struct {
	Name        string      `json:"name"`
	Frames      [][]float64 `json:"frames"`
	FrameLength float64     `json:"frame_length"` // Seconds
	FrameShift  float64     `json:"frame_shift"`  // Seconds
}

// NumFrames returns the number of frames
func (s *FrameSequence) NumFrames() int {
	return len(s.Frames)
}

// Dim returns the vector dimension, 0 for an empty sequence
func (s *FrameSequence) Dim() int {
	if len(s.Frames) == 0 {
		return 0
	}
	return len(s.Frames[0])
}

// Validate checks that all frames share one dimension and the timing is sane
func (s *FrameSequence) Validate() error {
	if s.FrameShift <= 0 {
		return fmt.Errorf("sequence %q has non-positive frame shift %g", s.Name, s.FrameShift)
	}
	dim := s.Dim()
	for t, frame := range s.Frames {
		if len(frame) != dim {
			return fmt.Errorf("sequence %q: frame %d has dimension %d, expected %d", s.Name, t, len(frame), dim)
		}
	}
	return nil
}

// Truncate keeps the first n frames
func (s *FrameSequence) Truncate(n int) {
	if n < len(s.Frames) {
		s.Frames = s.Frames[:n]
	}
}

// PitchTrack is the output of a pitch extractor
type PitchTrack struct {
	Pitch       []float64 `json:"pitch"`        // Hz
	POV         []float64 `json:"pov"`          // Probability of voicing, or raw NCCF
	FrameLength float64   `json:"frame_length"` // Seconds
	FrameShift  float64   `json:"frame_shift"`  // Seconds
}

// NumFrames returns the number of frames
func (p *PitchTrack) NumFrames() int {
	return len(p.Pitch)
}

// Validate checks that pitch and POV line up
func (p *PitchTrack) Validate() error {
	if len(p.Pitch) != len(p.POV) {
		return fmt.Errorf("pitch track has %d pitch values but %d POV values", len(p.Pitch), len(p.POV))
	}
	if len(p.Pitch) == 0 {
		return fmt.Errorf("pitch track is empty")
	}
	if p.FrameShift <= 0 {
		return fmt.Errorf("pitch track has non-positive frame shift %g", p.FrameShift)
	}
	return nil
}

// sequence returns the track as a two-column (pitch, pov) frame sequence
func (p *PitchTrack) sequence() *FrameSequence {
	frames := make([][]float64, len(p.Pitch))
	for t := range frames {
		frames[t] = []float64{p.Pitch[t], p.POV[t]}
	}
	return &FrameSequence{
		Name:        StreamPitch,
		Frames:      frames,
		FrameLength: p.FrameLength,
		FrameShift:  p.FrameShift,
	}
}

// StreamRange locates a stream inside the feature matrix columns [Start, End)
type StreamRange struct {
	Name  string `json:"name" yaml:"name"`
	Start int    `json:"start" yaml:"start"`
	End   int    `json:"end" yaml:"end"`
}

// Width returns the number of columns of the stream
func (r StreamRange) Width() int {
	return r.End - r.Start
}

// FeatureMatrix holds all enabled streams concatenated column-wise, one row
// per frame
type FeatureMatrix struct {
	Data              *mat.Dense    `json:"-"`
	Streams           []StreamRange `json:"streams"`
	FrameLength       float64       `json:"frame_length"` // Seconds
	FrameShift        float64       `json:"frame_shift"`  // Seconds
	SampleRate        int           `json:"sample_rate"`
	CenterFrequencies []float64     `json:"center_frequencies,omitempty"` // Hz, empty without a spectral stream
}

// NumFrames returns the number of rows
func (fm *FeatureMatrix) NumFrames() int {
	if fm.Data == nil {
		return 0
	}
	r, _ := fm.Data.Dims()
	return r
}

// NumColumns returns the total feature dimension
func (fm *FeatureMatrix) NumColumns() int {
	if len(fm.Streams) == 0 {
		return 0
	}
	return fm.Streams[len(fm.Streams)-1].End
}

// StreamNames returns the emitted streams in column order
func (fm *FeatureMatrix) StreamNames() []string {
	names := make([]string, len(fm.Streams))
	for i, s := range fm.Streams {
		names[i] = s.Name
	}
	return names
}

// Range returns the column range of a stream
func (fm *FeatureMatrix) Range(name string) (StreamRange, bool) {
	for _, s := range fm.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamRange{}, false
}

// Stream returns a view of the columns of one stream. The view shares
// storage with Data.
func (fm *FeatureMatrix) Stream(name string) (mat.Matrix, bool) {
	r, ok := fm.Range(name)
	if !ok || fm.NumFrames() == 0 {
		return nil, false
	}
	return fm.Data.Slice(0, fm.NumFrames(), r.Start, r.End), true
}
