// Command prosody extracts gammatone energy, its deltas and DCT, pitch and
// probability of voicing from a mono waveform and writes them to one file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RyanBlaney/sonido-prosody/logging"
	"github.com/RyanBlaney/sonido-prosody/output"
	"github.com/RyanBlaney/sonido-prosody/prosody"
	"github.com/RyanBlaney/sonido-prosody/prosody/config"
	"github.com/RyanBlaney/sonido-prosody/transcode"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("prosody", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: prosody [flags] <wav>\n\n")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "path to the YAML configuration file (defaults when empty)")
	outPath := fs.String("o", "", "output file (default: <wav without extension>.<format>)")
	format := fs.String("format", "", "output format: mat, ark or yaml (default: from -o, then output.format)")
	start := fs.Float64("start", 0, "start of the chunk to process, in seconds")
	stop := fs.Float64("stop", 0, "end of the chunk to process, in seconds (0 = end of file)")
	ffmpegPath := fs.String("ffmpeg", "ffmpeg", "ffmpeg binary used for non-WAV input")
	ffprobePath := fs.String("ffprobe", "ffprobe", "ffprobe binary used for non-WAV input")
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "log format: text or json")
	verbose := fs.Bool("v", false, "verbose output (same as -log-level=debug)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	wavPath := fs.Arg(0)

	logger, err := newLogger(*logFormat, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "prosody: %v\n", err)
		return 1
	}
	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "prosody: %v\n", err)
		return 1
	}
	if *verbose {
		level = logging.DebugLevel
	}
	logger.SetLevel(level)
	logging.SetGlobalLogger(logger)

	decoder := transcode.DefaultDecoderConfig()
	decoder.FFmpegPath = *ffmpegPath
	decoder.FFprobePath = *ffprobePath

	if err := extract(wavPath, *configPath, *outPath, *format, *start, *stop, decoder); err != nil {
		fmt.Fprintf(stderr, "prosody: %v\n", err)
		return 1
	}
	return 0
}

func extract(wavPath, configPath, outPath, format string, start, stop float64, decoder *transcode.DecoderConfig) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return &prosody.ConfigurationError{Stage: prosody.StateConfigured, Err: err}
		}
	}

	if format == "" {
		format = output.FormatFromPath(outPath, cfg.Output.Format)
	}
	writer, err := output.NewWriter(format)
	if err != nil {
		return &prosody.ConfigurationError{Stage: prosody.StateConfigured, Field: "output.format", Err: err}
	}
	if outPath == "" {
		outPath = output.DefaultPath(wavPath, format)
	}

	pipeline, err := prosody.NewPipeline(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wave, err := transcode.Load(ctx, wavPath, transcode.LoadOptions{
		Start:   seconds(start),
		Stop:    seconds(stop),
		Decoder: decoder,
	})
	if err != nil {
		return &prosody.IOError{Stage: prosody.StateConfigured, Op: "read", Path: wavPath, Err: err}
	}

	fm, err := pipeline.Run(ctx, wave)
	if err != nil {
		return err
	}

	meta := output.Metadata{Source: wavPath, Config: cfg}
	if err := output.WriteFile(outPath, writer, fm, meta); err != nil {
		return &prosody.IOError{Stage: prosody.StateDone, Op: "write", Path: outPath, Err: err}
	}

	logging.Info("Features written", logging.Fields{
		"output":  outPath,
		"frames":  fm.NumFrames(),
		"columns": fm.NumColumns(),
	})
	return nil
}

// newLogger builds the CLI logger. json goes through log/slog.
func newLogger(format string, w io.Writer) (logging.Logger, error) {
	switch format {
	case "text":
		return logging.NewWriterLogger(w, w), nil
	case "json":
		handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
		return logging.NewSlogLogger(slog.New(handler)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
