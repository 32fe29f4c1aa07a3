package prosody

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/sonido-prosody/algorithms/tonal"
	"github.com/RyanBlaney/sonido-prosody/kaldi"
	"github.com/RyanBlaney/sonido-prosody/logging"
	"github.com/RyanBlaney/sonido-prosody/prosody/config"
	"github.com/RyanBlaney/sonido-prosody/transcode"
)

// PitchExtractor estimates pitch and probability of voicing
type PitchExtractor interface {
	Extract(ctx context.Context, wave *transcode.AudioData) (*PitchTrack, error)
}

// NewPitchExtractor selects the extractor named by cfg.Extractor
func NewPitchExtractor(cfg config.PitchConfig) (PitchExtractor, error) {
	switch name := cfg.ResolvedExtractor(); name {
	case config.ExtractorKaldi:
		return NewKaldiPitchExtractor(cfg)
	case config.ExtractorBuiltin:
		return NewBuiltinPitchExtractor(cfg), nil
	default:
		return nil, &ConfigurationError{
			Stage: StateConfigured,
			Field: "pitch.extractor",
			Err:   fmt.Errorf("unknown pitch extractor %q", name),
		}
	}
}

// KaldiPitchExtractor runs compute-kaldi-pitch-feats on the waveform file
type KaldiPitchExtractor struct {
	extractor *kaldi.PitchExtractor
	rawNCCF   bool
	logger    logging.Logger
}

// NewKaldiPitchExtractor checks that the Kaldi binary exists
func NewKaldiPitchExtractor(cfg config.PitchConfig) (*KaldiPitchExtractor, error) {
	extractor, err := kaldi.NewPitchExtractor(kaldi.PitchConfig{
		Root:          cfg.KaldiRoot,
		FrameLengthMs: cfg.FrameLength,
		FrameShiftMs:  cfg.FrameShift,
		Options:       cfg.Options,
		Timeout:       cfg.Timeout,
	})
	if err != nil {
		return nil, &ConfigurationError{Stage: StateConfigured, Field: "pitch.kaldi_root", Err: err}
	}
	return &KaldiPitchExtractor{
		extractor: extractor,
		rawNCCF:   cfg.RawNCCF,
		logger: logging.WithFields(logging.Fields{
			"component": "kaldi_pitch_extractor",
		}),
	}, nil
}

// Extract runs Kaldi on the source file, or on a 16-bit copy when the
// samples in memory differ from what Kaldi would read
func (k *KaldiPitchExtractor) Extract(ctx context.Context, wave *transcode.AudioData) (*PitchTrack, error) {
	logger := k.logger.WithFields(logging.Fields{
		"function": "Extract",
		"source":   wave.SourcePath(),
	})

	path := wave.SourcePath()
	if needsReencode(wave) {
		tmpDir, err := os.MkdirTemp("", "prosody-pitch-*")
		if err != nil {
			return nil, &IOError{Stage: StatePitchExtracting, Op: "write", Err: err}
		}
		defer os.RemoveAll(tmpDir)

		name := "input"
		if src := wave.SourcePath(); src != "" {
			name = kaldi.UtteranceID(src)
		}
		path = filepath.Join(tmpDir, name+".wav")
		if err := transcode.SaveWAV(path, wave); err != nil {
			return nil, &IOError{Stage: StatePitchExtracting, Op: "write", Path: path, Err: err}
		}
		logger.Debug("Wrote 16-bit copy for Kaldi", logging.Fields{"path": path})
	}

	result, err := k.extractor.Extract(ctx, path, wave.SampleRate)
	if err != nil {
		return nil, &ExternalToolError{Stage: StatePitchExtracting, Tool: "compute-kaldi-pitch-feats", Err: err}
	}

	pov := result.NCCF
	if !k.rawNCCF {
		pov = kaldi.NCCFToPOVSeries(result.NCCF)
	}

	cfg := k.extractor.Config()
	return &PitchTrack{
		Pitch:       result.Pitch,
		POV:         pov,
		FrameLength: cfg.FrameLengthMs / 1000,
		FrameShift:  cfg.FrameShiftMs / 1000,
	}, nil
}

// needsReencode reports whether Kaldi cannot read the samples straight from
// the source file
func needsReencode(wave *transcode.AudioData) bool {
	meta := wave.Metadata
	if meta == nil || meta.Path == "" || meta.Cropped {
		return true
	}
	ext := strings.ToLower(filepath.Ext(meta.Path))
	if ext != ".wav" && ext != ".wave" {
		return true
	}
	return meta.Codec != "pcm_s16le"
}

// BuiltinPitchExtractor runs the YIN tracker in-process
type BuiltinPitchExtractor struct {
	cfg config.PitchConfig
}

// NewBuiltinPitchExtractor creates the in-process extractor
func NewBuiltinPitchExtractor(cfg config.PitchConfig) *BuiltinPitchExtractor {
	return &BuiltinPitchExtractor{cfg: cfg}
}

func (b *BuiltinPitchExtractor) Extract(ctx context.Context, wave *transcode.AudioData) (*PitchTrack, error) {
	params := tonal.DefaultPitchTrackerParams(wave.SampleRate)
	params.FrameLengthMs = b.cfg.FrameLength
	params.FrameShiftMs = b.cfg.FrameShift
	params.MinF0 = b.cfg.MinF0
	params.MaxF0 = b.cfg.MaxF0

	tracker, err := tonal.NewPitchTracker(params)
	if err != nil {
		return nil, &ConfigurationError{Stage: StatePitchExtracting, Field: "pitch", Err: err}
	}

	contour, err := tracker.Track(ctx, wave.PCM)
	if err != nil {
		return nil, &ExternalToolError{Stage: StatePitchExtracting, Tool: "yin pitch tracker", Err: err}
	}

	return &PitchTrack{
		Pitch:       contour.Pitch,
		POV:         contour.POV,
		FrameLength: contour.FrameLength,
		FrameShift:  contour.FrameShift,
	}, nil
}
