// Package prosody assembles prosodic features from a mono waveform: gammatone
// energy with its deltas and DCT on one branch, pitch and probability of
// voicing on the other, reconciled onto one frame grid.
package prosody

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-prosody/algorithms/spectral"
	"github.com/RyanBlaney/sonido-prosody/algorithms/temporal"
	"github.com/RyanBlaney/sonido-prosody/logging"
	"github.com/RyanBlaney/sonido-prosody/prosody/config"
	"github.com/RyanBlaney/sonido-prosody/transcode"
)

// Branch labels used in logs and telemetry
const (
	branchSpectral = "spectral"
	branchPitch    = "pitch"
)

// Pipeline runs the configured feature extraction. It holds no per-run state
// and may be reused across runs.
type Pipeline struct {
	cfg        config.Config
	decomposer Decomposer
	pitch      PitchExtractor
	compressor *spectral.Compressor
	delta      *temporal.Delta

	logger         logging.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	telemetry      *telemetry
}

// Option customises a Pipeline
type Option func(*Pipeline)

// WithDecomposer replaces the gammatone decomposer
func WithDecomposer(d Decomposer) Option {
	return func(p *Pipeline) { p.decomposer = d }
}

// WithPitchExtractor replaces the extractor selected by the pitch section
func WithPitchExtractor(e PitchExtractor) Option {
	return func(p *Pipeline) { p.pitch = e }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMeterProvider sets the meter provider; the global one is used otherwise
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Pipeline) { p.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider; the global one is used otherwise
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracerProvider = tp }
}

// NewPipeline validates cfg and prepares every stage. All configuration
// problems surface here as a *ConfigurationError.
func NewPipeline(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, &ConfigurationError{Stage: StateConfigured, Err: err}
	}

	mode, err := spectral.ParseCompression(cfg.Filterbank.Compression)
	if err != nil {
		return nil, &ConfigurationError{Stage: StateConfigured, Field: "filterbank.compression", Err: err}
	}
	compressor, err := spectral.NewCompressor(mode, cfg.Filterbank.LogFloor)
	if err != nil {
		return nil, &ConfigurationError{Stage: StateConfigured, Field: "filterbank.compression", Err: err}
	}

	boundary, err := temporal.ParseBoundaryPolicy(cfg.Delta.Boundary)
	if err != nil {
		return nil, &ConfigurationError{Stage: StateConfigured, Field: "delta.boundary", Err: err}
	}
	delta, err := temporal.NewDelta(temporal.DeltaParams{Window: cfg.Delta.Window, Boundary: boundary})
	if err != nil {
		return nil, &ConfigurationError{Stage: StateConfigured, Field: "delta.window", Err: err}
	}

	p := &Pipeline{
		cfg:        *cfg,
		compressor: compressor,
		delta:      delta,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logging.WithFields(logging.Fields{"component": "prosody_pipeline"})
	}
	if p.decomposer == nil && cfg.Streams.Spectral() {
		p.decomposer = NewGammatoneDecomposer(cfg.Filterbank)
	}
	if p.pitch == nil && cfg.Streams.PitchBranch() {
		if p.pitch, err = NewPitchExtractor(cfg.Pitch); err != nil {
			return nil, err
		}
	}
	if p.meterProvider == nil {
		p.meterProvider = otel.GetMeterProvider()
	}
	if p.tracerProvider == nil {
		p.tracerProvider = otel.GetTracerProvider()
	}
	if p.telemetry, err = newTelemetry(p.meterProvider, p.tracerProvider); err != nil {
		return nil, fmt.Errorf("failed to create telemetry instruments: %w", err)
	}

	return p, nil
}

// Config returns the validated configuration
func (p *Pipeline) Config() config.Config {
	return p.cfg
}

// spectralOutput is the result of the spectral branch
type spectralOutput struct {
	streams           []*FrameSequence
	centerFrequencies []float64
}

// Run extracts the feature matrix of a mono waveform
func (p *Pipeline) Run(ctx context.Context, wave *transcode.AudioData) (fm *FeatureMatrix, err error) {
	logger := p.logger.WithContext(ctx).WithFields(logging.Fields{"function": "Run"})
	defer func() {
		p.telemetry.recordRun(ctx, err)
		if err != nil {
			logger.Error(err, "Feature extraction failed", logging.Fields{"state": StateFailed})
		}
	}()

	if err := checkWave(wave); err != nil {
		return nil, err
	}
	logger = logger.WithFields(logging.Fields{"source": wave.SourcePath()})
	logger.Debug("Starting feature extraction", logging.Fields{
		"state":       StateConfigured,
		"sample_rate": wave.SampleRate,
		"samples":     wave.NumSamples(),
	})

	var spectralOut *spectralOutput
	var pitchStreams []*FrameSequence

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.Streams.Spectral() {
		g.Go(func() error {
			var err error
			spectralOut, err = p.runSpectral(gctx, wave)
			return err
		})
	}
	if p.cfg.Streams.PitchBranch() {
		g.Go(func() error {
			var err error
			pitchStreams, err = p.runPitch(gctx, wave)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var spectralStreams []*FrameSequence
	if spectralOut != nil {
		spectralStreams = spectralOut.streams
	}

	_, end := p.telemetry.startStage(ctx, StateAligning, "")
	n := reconcile(spectralStreams, pitchStreams)
	all := append(append([]*FrameSequence{}, spectralStreams...), pitchStreams...)
	err = checkAligned(all, n)
	if err == nil && n == 0 {
		err = noFramesError(spectralStreams, pitchStreams)
	}
	end(err)
	if err != nil {
		return nil, err
	}
	logger.Debug("Streams aligned", logging.Fields{"state": StateAligning, "frames": n})

	_, end = p.telemetry.startStage(ctx, StateConcatenating, "")
	fm = concatenate(all, n)
	end(nil)

	fm.SampleRate = wave.SampleRate
	fm.FrameLength = all[0].FrameLength
	fm.FrameShift = all[0].FrameShift
	if spectralOut != nil {
		fm.CenterFrequencies = spectralOut.centerFrequencies
	}

	logger.Debug("Feature extraction complete", logging.Fields{
		"state":   StateDone,
		"frames":  fm.NumFrames(),
		"columns": fm.NumColumns(),
		"streams": fm.StreamNames(),
	})
	return fm, nil
}

func checkWave(wave *transcode.AudioData) error {
	switch {
	case wave == nil:
		return &IOError{Stage: StateConfigured, Op: "read", Err: errors.New("no waveform")}
	case wave.Channels != 1:
		return &IOError{Stage: StateConfigured, Op: "read", Path: wave.SourcePath(),
			Err: fmt.Errorf("%w: got %d channels", transcode.ErrNotMono, wave.Channels)}
	case wave.SampleRate <= 0:
		return &IOError{Stage: StateConfigured, Op: "read", Path: wave.SourcePath(),
			Err: fmt.Errorf("invalid sample rate %d", wave.SampleRate)}
	case len(wave.PCM) == 0:
		return &IOError{Stage: StateConfigured, Op: "read", Path: wave.SourcePath(),
			Err: errors.New("waveform is empty")}
	}
	return nil
}

// runSpectral decomposes, compresses, derives and projects. Only enabled
// streams are returned, in concatenation order.
func (p *Pipeline) runSpectral(ctx context.Context, wave *transcode.AudioData) (*spectralOutput, error) {
	streams := p.cfg.Streams
	logger := p.logger.WithFields(logging.Fields{"function": "runSpectral", "branch": branchSpectral})

	stageCtx, end := p.telemetry.startStage(ctx, StateDecomposing, branchSpectral)
	logger.Debug("Decomposing", logging.Fields{"state": StateDecomposing})
	decomp, err := p.decomposer.Decompose(stageCtx, wave.PCM, wave.SampleRate)
	switch {
	case err != nil:
	case decomp == nil || decomp.Energy == nil:
		err = errors.New("decomposer returned no energy")
	default:
		err = decomp.Energy.Validate()
	}
	if err != nil {
		err = asExternal(err, StateDecomposing, "spectral decomposer")
	}
	end(err)
	if err != nil {
		return nil, err
	}
	energy := decomp.Energy

	_, end = p.telemetry.startStage(ctx, StateCompressing, branchSpectral)
	logger.Debug("Compressing", logging.Fields{"state": StateCompressing, "mode": p.compressor.Mode()})
	compressed := withFrames(energy, StreamEnergy, p.compressor.Compress(energy.Frames))
	end(nil)

	out := &spectralOutput{centerFrequencies: decomp.CenterFrequencies}
	if streams.Energy {
		out.streams = append(out.streams, compressed)
	}

	if streams.Delta || streams.DeltaDelta {
		_, end = p.telemetry.startStage(ctx, StateDeriving, branchSpectral)
		logger.Debug("Deriving", logging.Fields{"state": StateDeriving})
		delta, err := p.delta.Compute(compressed.Frames)
		var deltaDelta [][]float64
		if err == nil && streams.DeltaDelta {
			deltaDelta, err = p.delta.Compute(delta)
		}
		end(err)
		if err != nil {
			return nil, fmt.Errorf("failed to compute energy deltas: %w", err)
		}
		if streams.Delta {
			out.streams = append(out.streams, withFrames(energy, StreamDelta, delta))
		}
		if streams.DeltaDelta {
			out.streams = append(out.streams, withFrames(energy, StreamDeltaDelta, deltaDelta))
		}
	}

	if streams.DCT {
		_, end = p.telemetry.startStage(ctx, StateProjectingDCT, branchSpectral)
		logger.Debug("Projecting onto DCT basis", logging.Fields{"state": StateProjectingDCT, "size": p.cfg.DCT.Size})
		coeffs, err := p.projectDCT(compressed)
		end(err)
		if err != nil {
			return nil, err
		}
		out.streams = append(out.streams, withFrames(energy, StreamDCT, coeffs))
	}

	return out, nil
}

func (p *Pipeline) projectDCT(compressed *FrameSequence) ([][]float64, error) {
	dct, err := spectral.NewDCT(compressed.Dim(), p.cfg.DCT.Size, p.cfg.DCT.Normalize)
	if err != nil {
		return nil, &ConfigurationError{Stage: StateProjectingDCT, Field: "dct.size", Err: err}
	}
	coeffs, err := dct.Transform(compressed.Frames)
	if err != nil {
		return nil, fmt.Errorf("failed to project onto DCT basis: %w", err)
	}
	return coeffs, nil
}

// runPitch extracts pitch and POV and derives the pitch deltas
func (p *Pipeline) runPitch(ctx context.Context, wave *transcode.AudioData) ([]*FrameSequence, error) {
	streams := p.cfg.Streams
	logger := p.logger.WithFields(logging.Fields{"function": "runPitch", "branch": branchPitch})

	stageCtx, end := p.telemetry.startStage(ctx, StatePitchExtracting, branchPitch)
	logger.Debug("Extracting pitch", logging.Fields{"state": StatePitchExtracting})
	track, err := p.pitch.Extract(stageCtx, wave)
	switch {
	case err != nil:
	case track == nil:
		err = errors.New("pitch extractor returned no track")
	default:
		err = track.Validate()
	}
	if err != nil {
		err = asExternal(err, StatePitchExtracting, "pitch extractor")
	}
	end(err)
	if err != nil {
		return nil, err
	}

	base := track.sequence()
	var out []*FrameSequence
	if streams.Pitch {
		out = append(out, withFrames(base, StreamPitch, column(track.Pitch)))
	}
	if streams.POV {
		out = append(out, withFrames(base, StreamPOV, column(track.POV)))
	}
	if streams.PitchDelta {
		_, end = p.telemetry.startStage(ctx, StateDeriving, branchPitch)
		delta, err := p.delta.ComputeSeries(track.Pitch)
		end(err)
		if err != nil {
			return nil, fmt.Errorf("failed to compute pitch deltas: %w", err)
		}
		out = append(out, withFrames(base, StreamPitchDelta, column(delta)))
	}

	logger.Debug("Pitch branch complete", logging.Fields{"frames": track.NumFrames()})
	return out, nil
}

// noFramesError explains an empty reconciliation
func noFramesError(spectralStreams, pitchStreams []*FrameSequence) error {
	switch {
	case len(pitchStreams) == 0:
		return &ExternalToolError{Stage: StateAligning, Tool: "spectral decomposer",
			Err: errors.New("spectral branch produced no frames")}
	case len(spectralStreams) == 0:
		return &ExternalToolError{Stage: StateAligning, Tool: "pitch extractor",
			Err: errors.New("pitch track has no frames")}
	default:
		return &ExternalToolError{Stage: StateAligning, Tool: "pitch extractor",
			Err: errors.New("pitch track and spectral frames do not overlap")}
	}
}

// asExternal wraps err as an *ExternalToolError unless it already belongs to
// the error taxonomy
func asExternal(err error, stage State, tool string) error {
	var cfgErr *ConfigurationError
	var toolErr *ExternalToolError
	var ioErr *IOError
	if errors.As(err, &cfgErr) || errors.As(err, &toolErr) || errors.As(err, &ioErr) {
		return err
	}
	return &ExternalToolError{Stage: stage, Tool: tool, Err: err}
}

// withFrames returns a sequence with the timing of like
func withFrames(like *FrameSequence, name string, frames [][]float64) *FrameSequence {
	return &FrameSequence{
		Name:        name,
		Frames:      frames,
		FrameLength: like.FrameLength,
		FrameShift:  like.FrameShift,
	}
}

// column turns a series into single-value frames
func column(series []float64) [][]float64 {
	frames := make([][]float64, len(series))
	for t, v := range series {
		frames[t] = []float64{v}
	}
	return frames
}

// concatenate stacks the first n frames of every stream side by side
func concatenate(streams []*FrameSequence, n int) *FeatureMatrix {
	fm := &FeatureMatrix{Streams: make([]StreamRange, 0, len(streams))}
	cols := 0
	for _, s := range streams {
		fm.Streams = append(fm.Streams, StreamRange{Name: s.Name, Start: cols, End: cols + s.Dim()})
		cols += s.Dim()
	}

	data := mat.NewDense(n, cols, nil)
	for i, s := range streams {
		r := fm.Streams[i]
		for t := range n {
			row := data.RawRowView(t)
			copy(row[r.Start:r.End], s.Frames[t])
		}
	}
	fm.Data = data
	return fm
}
