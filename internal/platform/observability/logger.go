package observability

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/doxvl/legalization-api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

type loggerSettings struct {
	level  string
	output zapcore.WriteSyncer
}

// LoggerOption customises NewLogger.
type LoggerOption func(*loggerSettings)

// WithLogLevel overrides LOG_LEVEL.
func WithLogLevel(level string) LoggerOption {
	return func(s *loggerSettings) { s.level = level }
}

// WithLogOutput redirects log entries, mainly for tests.
func WithLogOutput(w zapcore.WriteSyncer) LoggerOption {
	return func(s *loggerSettings) {
		if w != nil {
			s.output = w
		}
	}
}

// NewLogger builds a JSON logger whose field names and severities follow the Cloud Logging
// structured layout. An unknown level falls back to info.
func NewLogger(service string, opts ...LoggerOption) (*zap.Logger, error) {
	settings := loggerSettings{level: os.Getenv("LOG_LEVEL"), output: zapcore.Lock(os.Stdout)}
	for _, opt := range opts {
		opt(&settings)
	}

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(settings.level)))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:     "message",
		TimeKey:        "timestamp",
		LevelKey:       "severity",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    encodeSeverity,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}), settings.output, level)

	logger := zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	if service = strings.TrimSpace(service); service != "" {
		logger = logger.With(zap.String("service", service))
	}
	return logger, nil
}

// encodeSeverity writes the LogSeverity names Cloud Logging recognises.
func encodeSeverity(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.FatalLevel:
		enc.AppendString("ALERT")
	default:
		enc.AppendString("DEFAULT")
	}
}

// WithLogger stores logger as the base logger of ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// EventLogger is the logging hook taken by the service layer.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewEventLogger adapts zap to EventLogger. The request-scoped logger on ctx wins over
// fallback, so service events carry request_id and trace fields.
func NewEventLogger(fallback *zap.Logger, name string) EventLogger {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			zfields = append(zfields, zap.Any(key, fields[key]))
		}
		level := zapcore.InfoLevel
		if strings.HasSuffix(event, "_failed") || strings.HasSuffix(event, ".error") {
			level = zapcore.WarnLevel
		}
		if ce := logger.Named(name).Check(level, event); ce != nil {
			ce.Write(zfields...)
		}
	}
}
