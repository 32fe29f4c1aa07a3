package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-prosody/logging"
)

// ErrNotMono is returned by Load for audio with more than one channel
var ErrNotMono = errors.New("audio is not mono")

// LoadOptions selects a time range and the fallback decoder
type LoadOptions struct {
	Start   time.Duration  // Offset of the first sample to keep
	Stop    time.Duration  // End of the range, 0 for the end of the file
	Decoder *DecoderConfig // ffmpeg settings for non-WAV input, nil for defaults
}

// Load reads a mono waveform. WAV files are parsed natively; any other
// extension goes through ffmpeg at the file's native sample rate.
func Load(ctx context.Context, path string, opts LoadOptions) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_loader",
		"function":  "Load",
		"path":      path,
	})

	var (
		audio *AudioData
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		audio, err = loadWAV(path)
	default:
		audio, err = decode(ctx, path, opts.Decoder)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	audio.Metadata.Path = path

	if audio.Channels != 1 {
		return nil, fmt.Errorf("%s has %d channels: %w", path, audio.Channels, ErrNotMono)
	}

	if opts.Start > 0 || opts.Stop > 0 {
		audio, err = audio.Crop(opts.Start, opts.Stop)
		if err != nil {
			return nil, fmt.Errorf("failed to select range of %s: %w", path, err)
		}
	}

	logger.Debug("Loaded audio", logging.Fields{
		"sample_rate": audio.SampleRate,
		"samples":     audio.NumSamples(),
		"duration":    audio.Duration.Seconds(),
		"codec":       audio.Metadata.Codec,
	})

	return audio, nil
}

// decode runs the ffmpeg fallback after checking that it can run at all
func decode(ctx context.Context, path string, config *DecoderConfig) (*AudioData, error) {
	d := NewDecoder(config)
	if err := d.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid decoder configuration: %w", err)
	}
	if err := d.CheckAvailability(ctx); err != nil {
		return nil, err
	}
	return d.DecodeFile(ctx, path)
}

func loadWAV(path string) (*AudioData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadWAV(f)
}

// SaveWAV writes audio to path as 16-bit PCM
func SaveWAV(path string, audio *AudioData) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, audio, 16); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
