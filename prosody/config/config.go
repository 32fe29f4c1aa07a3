// Package config defines the configuration of a prosody extraction run and
// loads it from YAML with ${section.key} interpolation.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-prosody/algorithms/spectral"
	"github.com/RyanBlaney/sonido-prosody/algorithms/temporal"
)

// Config is the top-level configuration
type Config struct {
	Filterbank FilterbankConfig `yaml:"filterbank"`
	DCT        DCTConfig        `yaml:"dct"`
	Delta      DeltaConfig      `yaml:"delta"`
	Pitch      PitchConfig      `yaml:"pitch"`
	Streams    StreamsConfig    `yaml:"streams"`
	Output     OutputConfig     `yaml:"output"`
}

// FilterbankConfig configures the gammatone decomposition and compression
type FilterbankConfig struct {
	NumChannels  int     `yaml:"nb_channels"`
	LowFrequency float64 `yaml:"low_frequency"` // Hz
	Accurate     bool    `yaml:"accurate"`
	WindowTime   float64 `yaml:"window_time"`  // Seconds
	OverlapTime  float64 `yaml:"overlap_time"` // Seconds
	Compression  string  `yaml:"compression"`  // none, cubic or log
	LogFloor     float64 `yaml:"log_floor"`    // Clamp before 20*log10
}

// DCTConfig configures the DCT projection of compressed energy
type DCTConfig struct {
	Normalize bool `yaml:"normalize"`
	Size      int  `yaml:"size"`
}

// DeltaConfig configures the derivative stage
type DeltaConfig struct {
	Window   int    `yaml:"window"`
	Boundary string `yaml:"boundary"` // replicate, zero or truncate
}

// Pitch extractor names
const (
	ExtractorAuto    = "auto"
	ExtractorKaldi   = "kaldi"
	ExtractorBuiltin = "builtin"
)

// PitchConfig configures the pitch stage
type PitchConfig struct {
	Extractor   string        `yaml:"extractor"`    // auto, kaldi or builtin
	KaldiRoot   string        `yaml:"kaldi_root"`   // Root of a compiled Kaldi tree
	FrameLength float64       `yaml:"frame_length"` // Milliseconds
	FrameShift  float64       `yaml:"frame_shift"`  // Milliseconds
	Options     string        `yaml:"options"`      // Extra compute-kaldi-pitch-feats options
	MinF0       float64       `yaml:"min_f0"`       // Hz
	MaxF0       float64       `yaml:"max_f0"`       // Hz
	RawNCCF     bool          `yaml:"raw_nccf"`     // Emit Kaldi's NCCF instead of a POV
	Timeout     time.Duration `yaml:"timeout"`      // 0 disables
}

// ResolvedExtractor maps "auto" to kaldi when a Kaldi root is configured
// and to the built-in tracker otherwise.
func (p PitchConfig) ResolvedExtractor() string {
	switch p.Extractor {
	case "", ExtractorAuto:
		if p.KaldiRoot != "" {
			return ExtractorKaldi
		}
		return ExtractorBuiltin
	default:
		return p.Extractor
	}
}

// StreamsConfig enables the individual output streams
type StreamsConfig struct {
	Energy     bool `yaml:"energy"`
	Delta      bool `yaml:"delta"`
	DeltaDelta bool `yaml:"delta_delta"`
	DCT        bool `yaml:"dct"`
	Pitch      bool `yaml:"pitch"`
	POV        bool `yaml:"pov"`
	PitchDelta bool `yaml:"pitch_delta"`
}

// Spectral reports whether any stream needs the filterbank
func (s StreamsConfig) Spectral() bool {
	return s.Energy || s.Delta || s.DeltaDelta || s.DCT
}

// PitchBranch reports whether any stream needs the pitch extractor
func (s StreamsConfig) PitchBranch() bool {
	return s.Pitch || s.POV || s.PitchDelta
}

// Output formats
const (
	FormatMAT  = "mat"
	FormatArk  = "ark"
	FormatYAML = "yaml"
)

// OutputConfig selects the serialization format
type OutputConfig struct {
	Format string `yaml:"format"`
}

// Default returns the configuration used for keys missing from a file
func Default() *Config {
	return &Config{
		Filterbank: FilterbankConfig{
			NumChannels:  40,
			LowFrequency: 20,
			Accurate:     true,
			WindowTime:   0.08,
			OverlapTime:  0.04,
			Compression:  string(spectral.CompressionLog),
			LogFloor:     spectral.DefaultLogFloor,
		},
		DCT: DCTConfig{
			Normalize: false,
			Size:      8,
		},
		Delta: DeltaConfig{
			Window:   temporal.DefaultDeltaWindow,
			Boundary: string(temporal.BoundaryReplicate),
		},
		Pitch: PitchConfig{
			Extractor:   ExtractorAuto,
			FrameLength: 25,
			FrameShift:  10,
			MinF0:       50,
			MaxF0:       400,
		},
		Streams: StreamsConfig{
			Energy:     true,
			Delta:      true,
			DeltaDelta: true,
			DCT:        true,
			Pitch:      true,
			POV:        true,
			PitchDelta: true,
		},
		Output: OutputConfig{
			Format: FormatMAT,
		},
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Filterbank
	fb := cfg.Filterbank
	if fb.NumChannels < 1 {
		errs = append(errs, fmt.Errorf("filterbank.nb_channels must be at least 1, got %d", fb.NumChannels))
	}
	if fb.LowFrequency <= 0 {
		errs = append(errs, fmt.Errorf("filterbank.low_frequency must be positive, got %g", fb.LowFrequency))
	}
	if fb.WindowTime <= 0 {
		errs = append(errs, fmt.Errorf("filterbank.window_time must be positive, got %g", fb.WindowTime))
	}
	if fb.OverlapTime < 0 {
		errs = append(errs, fmt.Errorf("filterbank.overlap_time must not be negative, got %g", fb.OverlapTime))
	}
	if fb.OverlapTime >= fb.WindowTime {
		errs = append(errs, fmt.Errorf("filterbank.overlap_time (%g) must be smaller than filterbank.window_time (%g)", fb.OverlapTime, fb.WindowTime))
	}
	if _, err := spectral.ParseCompression(fb.Compression); err != nil {
		errs = append(errs, fmt.Errorf("filterbank.compression: %w", err))
	}
	if fb.LogFloor <= 0 {
		errs = append(errs, fmt.Errorf("filterbank.log_floor must be positive, got %g", fb.LogFloor))
	}

	// DCT
	if cfg.Streams.DCT {
		if cfg.DCT.Size < 1 {
			errs = append(errs, fmt.Errorf("dct.size must be at least 1, got %d", cfg.DCT.Size))
		} else if cfg.DCT.Size > fb.NumChannels {
			errs = append(errs, fmt.Errorf("dct.size (%d) must not exceed filterbank.nb_channels (%d)", cfg.DCT.Size, fb.NumChannels))
		}
	}

	// Delta
	if cfg.Delta.Window < 1 {
		errs = append(errs, fmt.Errorf("delta.window must be at least 1, got %d", cfg.Delta.Window))
	}
	if _, err := temporal.ParseBoundaryPolicy(cfg.Delta.Boundary); err != nil {
		errs = append(errs, fmt.Errorf("delta.boundary: %w", err))
	}

	// Pitch
	p := cfg.Pitch
	switch p.Extractor {
	case "", ExtractorAuto, ExtractorBuiltin:
	case ExtractorKaldi:
		if p.KaldiRoot == "" {
			errs = append(errs, fmt.Errorf("pitch.kaldi_root is required when pitch.extractor is %q", ExtractorKaldi))
		}
	default:
		errs = append(errs, fmt.Errorf("pitch.extractor %q is invalid; valid values: auto, kaldi, builtin", p.Extractor))
	}
	if p.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("pitch.frame_length must be positive, got %g ms", p.FrameLength))
	}
	if p.FrameShift <= 0 {
		errs = append(errs, fmt.Errorf("pitch.frame_shift must be positive, got %g ms", p.FrameShift))
	}
	if p.MinF0 <= 0 || p.MaxF0 <= p.MinF0 {
		errs = append(errs, fmt.Errorf("pitch.min_f0 (%g) and pitch.max_f0 (%g) must satisfy 0 < min_f0 < max_f0", p.MinF0, p.MaxF0))
	}
	if p.Timeout < 0 {
		errs = append(errs, fmt.Errorf("pitch.timeout must not be negative, got %s", p.Timeout))
	}

	// Streams
	if !cfg.Streams.Spectral() && !cfg.Streams.PitchBranch() {
		errs = append(errs, errors.New("streams: at least one stream must be enabled"))
	}

	// Output
	switch cfg.Output.Format {
	case "", FormatMAT, FormatArk, FormatYAML:
	default:
		errs = append(errs, fmt.Errorf("output.format %q is invalid; valid values: mat, ark, yaml", cfg.Output.Format))
	}

	return errors.Join(errs...)
}
