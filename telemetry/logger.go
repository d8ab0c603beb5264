package telemetry

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/varunnarsana/stratus/types"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// logOutput is where NewLogger writes. JSON on stdout by default;
// interactive commands switch to a console writer on stderr so tables
// and machine output keep stdout to themselves.
var logOutput io.Writer = os.Stdout

// SetGlobalFormat selects the output for loggers constructed after the
// call: "console" for humans on stderr, anything else for JSON on
// stdout.
func SetGlobalFormat(format string) {
	if strings.EqualFold(format, "console") {
		logOutput = zerolog.ConsoleWriter{Out: os.Stderr}
		return
	}
	logOutput = os.Stdout
}

// NewLogger creates a JSON logger with OTEL hooks
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(logOutput).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// NewConsoleLogger creates a human-readable logger for interactive use
func NewConsoleLogger(service string) *Logger {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// SetGlobalLevel maps a config level string onto zerolog's global level
func SetGlobalLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for engine operations

func (l *Logger) LogRunStart(ctx context.Context, workspace string, actions int, waves int) {
	l.WithContext(ctx).Info().
		Str("workspace", workspace).
		Int("actions", actions).
		Int("waves", waves).
		Str("operation", "apply").
		Msg("starting apply run")
}

func (l *Logger) LogRunComplete(ctx context.Context, result *types.RunResult) {
	l.WithContext(ctx).Info().
		Str("workspace", result.Workspace).
		Str("status", string(result.Status)).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Str("operation", "apply").
		Msg("apply run complete")
}

func (l *Logger) LogActionOutcome(ctx context.Context, rec types.ApplyRecord) {
	event := l.WithContext(ctx).Info()
	if rec.Outcome == types.OutcomeFailed {
		event = l.WithContext(ctx).Error()
	}
	event.
		Str("resource_id", rec.ResourceID).
		Str("verb", string(rec.Verb)).
		Str("outcome", string(rec.Outcome)).
		Int("attempts", rec.Attempts).
		Dur("duration", rec.FinishedAt.Sub(rec.StartedAt))
	if rec.Error != "" {
		event = event.Str("error", rec.Error)
	}
	event.Msg("action finished")
}

func (l *Logger) LogVersionConflict(ctx context.Context, expected, current int64) {
	l.WithContext(ctx).Warn().
		Int64("expected_version", expected).
		Int64("current_version", current).
		Str("operation", "state_write").
		Msg("optimistic lock conflict, retrying")
}

func (l *Logger) LogDriftDetected(ctx context.Context, resourceID string, fields int, severity string) {
	l.WithContext(ctx).Warn().
		Str("resource_id", resourceID).
		Int("drifted_fields", fields).
		Str("severity", severity).
		Str("operation", "drift_check").
		Msg("drift detected")
}
