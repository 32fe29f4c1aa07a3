package kaldi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-prosody/logging"
)

// PitchBinary is the extractor's path relative to a Kaldi root
const PitchBinary = "src/featbin/compute-kaldi-pitch-feats"

// ErrBinaryNotFound is returned when the pitch executable does not exist
var ErrBinaryNotFound = errors.New("compute-kaldi-pitch-feats not found")

// PitchConfig configures the external Kaldi pitch extractor
type PitchConfig struct {
	Root          string        `json:"kaldi_root"`
	Binary        string        `json:"binary"`       // Overrides Root when set
	FrameLengthMs float64       `json:"frame_length"` // Milliseconds
	FrameShiftMs  float64       `json:"frame_shift"`  // Milliseconds
	Options       string        `json:"options"`      // Extra --key=value options, split shell-style
	Timeout       time.Duration `json:"timeout"`      // 0 means no limit beyond the caller's context
}

// DefaultPitchConfig returns Kaldi's default framing
func DefaultPitchConfig() PitchConfig {
	return PitchConfig{
		FrameLengthMs: 25,
		FrameShiftMs:  10,
	}
}

// BinaryPath resolves the executable to run
func (c PitchConfig) BinaryPath() string {
	if c.Binary != "" {
		return c.Binary
	}
	return filepath.Join(c.Root, filepath.FromSlash(PitchBinary))
}

// PitchResult holds the two columns Kaldi writes per frame
type PitchResult struct {
	NCCF  []float64
	Pitch []float64 // Hz
}

// NumFrames returns the number of frames
func (r *PitchResult) NumFrames() int {
	return len(r.Pitch)
}

// ToolError describes a failed run of the external binary
type ToolError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ", stderr: " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// PitchExtractor runs compute-kaldi-pitch-feats on a wav file
type PitchExtractor struct {
	config PitchConfig
	args   []string
	logger logging.Logger
}

// NewPitchExtractor checks the configuration and that the binary exists
func NewPitchExtractor(config PitchConfig) (*PitchExtractor, error) {
	if config.Root == "" && config.Binary == "" {
		return nil, fmt.Errorf("kaldi root is not set")
	}
	if config.FrameLengthMs <= 0 || config.FrameShiftMs <= 0 {
		return nil, fmt.Errorf("frame length (%g ms) and shift (%g ms) must be positive", config.FrameLengthMs, config.FrameShiftMs)
	}
	if config.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", config.Timeout)
	}

	args, err := SplitArgs(config.Options)
	if err != nil {
		return nil, fmt.Errorf("invalid pitch options: %w", err)
	}

	binary := config.BinaryPath()
	info, err := os.Stat(binary)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w at %s", ErrBinaryNotFound, binary)
	}

	return &PitchExtractor{
		config: config,
		args:   args,
		logger: logging.WithFields(logging.Fields{
			"component": "kaldi_pitch",
			"binary":    binary,
		}),
	}, nil
}

// Config returns the extractor configuration
func (p *PitchExtractor) Config() PitchConfig {
	return p.config
}

// Extract computes (NCCF, pitch) frames for the wav file at wavPath
func (p *PitchExtractor) Extract(ctx context.Context, wavPath string, sampleRate int) (*PitchResult, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	absPath, err := filepath.Abs(wavPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", wavPath, err)
	}

	tmpDir, err := os.MkdirTemp("", "kaldi-pitch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	key := UtteranceID(absPath)
	scpPath := filepath.Join(tmpDir, "wav.scp")
	if err := os.WriteFile(scpPath, []byte(key+" "+absPath+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write wav.scp: %w", err)
	}
	outPath := filepath.Join(tmpDir, "pitch.txt")

	args := []string{
		"--sample-frequency=" + strconv.Itoa(sampleRate),
		"--frame-length=" + strconv.FormatFloat(p.config.FrameLengthMs, 'g', -1, 64),
		"--frame-shift=" + strconv.FormatFloat(p.config.FrameShiftMs, 'g', -1, 64),
	}
	args = append(args, p.args...)
	args = append(args, "scp:"+scpPath, "ark,t:"+outPath)

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	binary := p.config.BinaryPath()
	command := binary + " " + strings.Join(args, " ")

	logger := p.logger.WithFields(logging.Fields{
		"function": "Extract",
		"wav":      absPath,
		"timeout":  p.config.Timeout.String(),
	})
	logger.Debug("Running Kaldi pitch extractor")

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = tmpDir
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		toolErr := &ToolError{Command: command, Stderr: lastLines(stderr.String(), 5), Err: err}
		if ctxErr := ctx.Err(); ctxErr != nil {
			toolErr.Err = fmt.Errorf("%w (%v)", ctxErr, err)
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		logger.Error(toolErr, "Kaldi pitch extractor failed")
		return nil, toolErr
	}

	f, err := os.Open(outPath)
	if err != nil {
		return nil, &ToolError{Command: command, Err: fmt.Errorf("no output produced: %w", err)}
	}
	defer f.Close()

	matrices, err := ReadTextArchive(f)
	if err != nil {
		return nil, &ToolError{Command: command, Err: fmt.Errorf("malformed output: %w", err)}
	}

	result, err := pitchFromArchive(matrices, key)
	if err != nil {
		return nil, &ToolError{Command: command, Err: err}
	}

	logger.WithFields(logging.Fields{
		"frames":   result.NumFrames(),
		"duration": time.Since(start).String(),
	}).Debug("Kaldi pitch extraction complete")

	return result, nil
}

// pitchFromArchive selects the utterance and splits its two columns
func pitchFromArchive(matrices []*Matrix, key string) (*PitchResult, error) {
	var m *Matrix
	for _, candidate := range matrices {
		if candidate.Key == key {
			m = candidate
			break
		}
	}
	if m == nil {
		if len(matrices) != 1 {
			return nil, fmt.Errorf("utterance %q not found among %d archive entries", key, len(matrices))
		}
		m = matrices[0]
	}

	if len(m.Rows) == 0 {
		return nil, fmt.Errorf("utterance %q has no frames", m.Key)
	}
	if m.Cols() != 2 {
		return nil, fmt.Errorf("expected 2 columns (nccf, pitch), got %d", m.Cols())
	}

	nccf, _ := m.Column(0)
	pitch, _ := m.Column(1)
	return &PitchResult{NCCF: nccf, Pitch: pitch}, nil
}

// UtteranceID derives an archive key from a file path: the base name
// without extension, with whitespace replaced.
func UtteranceID(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	key := strings.Join(strings.Fields(base), "_")
	if key == "" {
		return "utt"
	}
	return key
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
