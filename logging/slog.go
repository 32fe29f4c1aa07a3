package logging

import (
	"context"
	"log/slog"
	"os"
	"sort"
)

// SlogLogger adapts a *slog.Logger to the Logger interface so the library can
// be embedded in hosts that already configure log/slog.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewSlogLogger wraps logger. A nil logger wraps slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	level := &slog.LevelVar{}
	level.Set(slog.LevelDebug)
	return &SlogLogger{logger: logger, level: level}
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func fieldArgs(fields []Fields) []any {
	merged := make(map[string]any)
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, slog.Any(k, merged[k]))
	}
	return args
}

func (s *SlogLogger) emit(level Level, err error, msg string, fields []Fields) {
	sl := toSlogLevel(level)
	if sl < s.level.Level() {
		return
	}
	args := fieldArgs(fields)
	if err != nil {
		args = append(args, slog.Any("err", err))
	}
	s.logger.Log(context.Background(), sl, msg, args...)
}

func (s *SlogLogger) Debug(msg string, fields ...Fields) { s.emit(DebugLevel, nil, msg, fields) }
func (s *SlogLogger) Info(msg string, fields ...Fields)  { s.emit(InfoLevel, nil, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields ...Fields)  { s.emit(WarnLevel, nil, msg, fields) }

func (s *SlogLogger) Error(err error, msg string, fields ...Fields) {
	s.emit(ErrorLevel, err, msg, fields)
}

// Fatal logs at error level and exits with status 1.
func (s *SlogLogger) Fatal(err error, msg string, fields ...Fields) {
	s.emit(FatalLevel, err, msg, fields)
	os.Exit(1)
}

func (s *SlogLogger) WithFields(fields Fields) Logger {
	return &SlogLogger{
		logger: s.logger.With(fieldArgs([]Fields{fields})...),
		level:  s.level,
	}
}

func (s *SlogLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := FieldsFromContext(ctx); ok {
		return s.WithFields(fields)
	}
	return s
}

func (s *SlogLogger) SetLevel(level Level) {
	s.level.Set(toSlogLevel(level))
}
