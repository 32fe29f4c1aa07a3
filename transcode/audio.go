package transcode

import (
	"fmt"
	"math"
	"time"
)

// AudioData represents a decoded waveform
type AudioData struct {
	PCM        []float64       `json:"-"` // Samples in [-1, 1], interleaved if Channels > 1
	SampleRate int             `json:"sample_rate"`
	Channels   int             `json:"channels"`
	Duration   time.Duration   `json:"duration"`
	Metadata   *StreamMetadata `json:"metadata,omitempty"`
}

// StreamMetadata describes where a waveform came from
type StreamMetadata struct {
	Path          string        `json:"path"`
	Format        string        `json:"format"`          // "wav" or the ffprobe format name
	Codec         string        `json:"codec,omitempty"` // e.g. "pcm_s16le", "float32"
	BitsPerSample int           `json:"bits_per_sample,omitempty"`
	SampleRate    int           `json:"sample_rate"`
	Channels      int           `json:"channels"`
	Start         time.Duration `json:"start,omitempty"` // Offset of the first loaded sample
	Cropped       bool          `json:"cropped"`         // PCM is a sub-range of the file
}

// NumSamples returns the number of samples per channel
func (a *AudioData) NumSamples() int {
	if a.Channels <= 0 {
		return 0
	}
	return len(a.PCM) / a.Channels
}

// SourcePath returns the originating file, or "" for in-memory audio
func (a *AudioData) SourcePath() string {
	if a.Metadata == nil {
		return ""
	}
	return a.Metadata.Path
}

// durationOf converts a sample count to a duration
func durationOf(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// sampleIndex converts a time offset to floor(t * fs)
func sampleIndex(t time.Duration, sampleRate int) int {
	return int(math.Floor(t.Seconds() * float64(sampleRate)))
}

// Crop returns the audio between start and stop. A zero stop means the end
// of the signal. The PCM slice is shared with a.
func (a *AudioData) Crop(start, stop time.Duration) (*AudioData, error) {
	if start < 0 || stop < 0 {
		return nil, fmt.Errorf("negative crop bounds [%s, %s]", start, stop)
	}
	if stop > 0 && stop <= start {
		return nil, fmt.Errorf("crop stop %s must be after start %s", stop, start)
	}

	n := a.NumSamples()
	first := min(sampleIndex(start, a.SampleRate), n)
	last := n
	if stop > 0 {
		last = min(sampleIndex(stop, a.SampleRate), n)
	}
	if first >= last {
		return nil, fmt.Errorf("crop [%s, %s] selects no samples from %s of audio", start, stop, a.Duration)
	}

	out := *a
	out.PCM = a.PCM[first*a.Channels : last*a.Channels]
	out.Duration = durationOf(last-first, a.SampleRate)
	if a.Metadata != nil {
		meta := *a.Metadata
		meta.Start += start
		meta.Cropped = first > 0 || last < n || a.Metadata.Cropped
		out.Metadata = &meta
	}
	return &out, nil
}
