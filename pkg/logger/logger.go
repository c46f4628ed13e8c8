package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const LoggerKey contextKey = "logger"

type Logger struct {
	*zerolog.Logger
}

// New creates a new logger instance with service context
func New(service string) *Logger {
	hostname, _ := os.Hostname()

	// Configure zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "@timestamp" // ELK compatible

	// Create logger with JSON output for production
	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname).
		Str("environment", getEnv("ENVIRONMENT", "development")).
		Str("version", getEnv("SERVICE_VERSION", "unknown")).
		Logger()

	return &Logger{&logger}
}

// WithContext returns a logger from context or creates a new one
func WithContext(ctx context.Context, service string) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return New(service)
}

// ToContext adds logger to context
func (l *Logger) ToContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}

// WithRequestID adds request/correlation ID for tracing
func (l *Logger) WithRequestID(requestID string) *Logger {
	logger := l.Logger.With().Str("request_id", requestID).Logger()
	return &Logger{&logger}
}

// WithJob adds monitored-job context
func (l *Logger) WithJob(project, jobName string) *Logger {
	logger := l.Logger.With().
		Str("project", project).
		Str("job_name", jobName).
		Logger()
	return &Logger{&logger}
}

// WithProject adds project context
func (l *Logger) WithProject(project string) *Logger {
	logger := l.Logger.With().Str("project", project).Logger()
	return &Logger{&logger}
}

// WithError adds error context
func (l *Logger) WithError(err error) *Logger {
	logger := l.Logger.With().Err(err).Logger()
	return &Logger{&logger}
}

// LogPassStart logs the start of an audit or health-check pass
func (l *Logger) LogPassStart(pass string, projects int) {
	l.Info().
		Str("action", "pass_start").
		Str("pass", pass).
		Int("projects", projects).
		Msg("Starting monitoring pass")
}

// LogPassComplete logs pass completion with metrics
func (l *Logger) LogPassComplete(pass string, duration time.Duration, jobsEvaluated int, alertsSent int, errors int) {
	l.Info().
		Str("action", "pass_complete").
		Str("pass", pass).
		Dur("duration", duration).
		Int("jobs_evaluated", jobsEvaluated).
		Int("alerts_sent", alertsSent).
		Int("error_count", errors).
		Bool("has_errors", errors > 0).
		Msg("Monitoring pass completed")
}

// LogAlert logs an alert dispatch attempt
func (l *Logger) LogAlert(project, jobName, status, channel string, sent bool) {
	event := l.Info()
	if !sent {
		event = l.Warn()
	}

	event.
		Str("action", "alert_dispatch").
		Str("project", project).
		Str("job_name", jobName).
		Str("status", status).
		Str("channel", channel).
		Bool("sent", sent).
		Msg("Alert dispatch")
}

// LogSourceQuery logs reads against a project's job source
func (l *Logger) LogSourceQuery(project, query string, rows int, duration time.Duration, err error) {
	event := l.Debug()
	if err != nil {
		event = l.Error().Err(err)
	}

	event.
		Str("action", "source_query").
		Str("project", project).
		Str("query", query).
		Int("rows", rows).
		Dur("duration", duration).
		Bool("success", err == nil).
		Msg("Job source query")
}

// LogDatabaseOperation logs operations against the central store
func (l *Logger) LogDatabaseOperation(operation string, table string, affectedRows int, duration time.Duration, err error) {
	event := l.Info()
	if err != nil {
		event = l.Error().Err(err)
	}

	event.
		Str("action", "db_operation").
		Str("operation", operation).
		Str("table", table).
		Int("affected_rows", affectedRows).
		Dur("duration", duration).
		Bool("success", err == nil).
		Msg("Database operation")
}

// Fatalf logs a fatal error and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Fatal().Msgf(format, args...)
}

// SetupLogger configures global log level based on environment
func SetupLogger() {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Pretty logging for development
	if getEnv("ENVIRONMENT", "development") == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		logger := zerolog.New(output).With().Timestamp().Logger()
		zerolog.DefaultContextLogger = &logger
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
