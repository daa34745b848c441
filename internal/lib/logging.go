package lib

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel defines the severity of log messages
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Standard field names, shared so log lines stay greppable across packages.
const (
	FieldJobID      = "job_id"
	FieldBaseURI    = "base_uri"
	FieldVerb       = "verb"
	FieldToken      = "resumption_token"
	FieldIdentifier = "identifier"
	FieldBatchSize  = "batch_size"
	FieldCount      = "count"
	FieldDuration   = "duration"
	FieldError      = "error"
	FieldComponent  = "component"
)

// Logger provides structured logging for the application.
// It is a thin layer over a zap SugaredLogger so call sites keep the
// message + key/value pairs style.
type Logger struct {
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

// NewLogger creates a console logger writing to stderr
func NewLogger(level LogLevel) *Logger {
	return newLogger(level, false)
}

// NewJSONLogger creates a logger emitting JSON lines, for machine consumption
func NewJSONLogger(level LogLevel) *Logger {
	return newLogger(level, true)
}

func newLogger(level LogLevel, jsonOutput bool) *Logger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())

	var encoder zapcore.Encoder
	if jsonOutput {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), atom)
	return &Logger{level: atom, sugar: zap.New(core).Sugar()}
}

// NewLoggerFromZap wraps an existing zap logger, e.g. zaptest.NewLogger(t)
func NewLoggerFromZap(z *zap.Logger) *Logger {
	return &Logger{level: zap.NewAtomicLevelAt(zap.DebugLevel), sugar: z.Sugar()}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return NewLoggerFromZap(zap.NewNop())
}

// DefaultLogger returns a logger with INFO level
var DefaultLogger = NewLogger(LogLevelInfo)

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...interface{}) {
	l.sugar.Debugw(message, fields...)
}

// Info logs an informational message
func (l *Logger) Info(message string, fields ...interface{}) {
	l.sugar.Infow(message, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...interface{}) {
	l.sugar.Warnw(message, fields...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...interface{}) {
	l.sugar.Errorw(message, fields...)
}

// With returns a child logger that adds the given fields to every entry
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{level: l.level, sugar: l.sugar.With(fields...)}
}

// Named returns a child logger tagged with a component name
func (l *Logger) Named(component string) *Logger {
	return &Logger{level: l.level, sugar: l.sugar.Named(component)}
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

func (level LogLevel) zapLevel() zapcore.Level {
	switch level {
	case LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LogOperation logs the start and completion of an operation
func LogOperation(logger *Logger, operation string, fn func() error) error {
	logger.Info(fmt.Sprintf("Starting: %s", operation))
	start := time.Now()

	err := fn()

	duration := time.Since(start)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed: %s", operation), FieldDuration, duration, FieldError, err)
		return err
	}

	logger.Info(fmt.Sprintf("Completed: %s", operation), FieldDuration, duration)
	return nil
}

// LogRetry logs retry attempts
func LogRetry(logger *Logger, operation string, attempt int, maxAttempts int, err error) {
	// Remove line breaks from operation to prevent log spoofing
	safeOperation := strings.ReplaceAll(operation, "\n", "")
	safeOperation = strings.ReplaceAll(safeOperation, "\r", "")
	logger.Warn(
		fmt.Sprintf("Retry attempt %d/%d for: %s", attempt+1, maxAttempts, safeOperation),
		FieldError, err,
	)
}

// LogHarvestStarted logs the beginning of a single harvest run
func LogHarvestStarted(logger *Logger, baseURI string, verb string, params string) {
	logger.Info(
		"Harvest started",
		FieldBaseURI, baseURI,
		FieldVerb, verb,
		"params", params,
	)
}

// LogHarvestEnded logs the end of a harvest run with its counters
func LogHarvestEnded(logger *Logger, baseURI string, requests int64, responses int64, err error) {
	if err != nil {
		logger.Error(
			"Harvest ended with error",
			FieldBaseURI, baseURI,
			"requests", requests,
			"responses", responses,
			FieldError, err,
		)
		return
	}
	logger.Info(
		"Harvest ended",
		FieldBaseURI, baseURI,
		"requests", requests,
		"responses", responses,
	)
}

// LogBatchWritten logs a successful batch flush
func LogBatchWritten(logger *Logger, size int, rejected int, duration time.Duration) {
	logger.Debug(
		"Batch written",
		FieldBatchSize, size,
		"rejected", rejected,
		FieldDuration, duration,
	)
}

// LogBatchRejected logs one record the sink refused to store
func LogBatchRejected(logger *Logger, baseURL string, identifier string, reason error) {
	logger.Error(
		"Record rejected by sink",
		FieldBaseURI, baseURL,
		FieldIdentifier, identifier,
		FieldError, reason,
	)
}

// LogJobCreated logs job creation
func LogJobCreated(logger *Logger, jobID string, harvests int) {
	logger.Info(
		"Job created",
		FieldJobID, jobID,
		"harvests", harvests,
	)
}

// LogJobCompleted logs job completion
func LogJobCompleted(logger *Logger, jobID string, records int64, duration time.Duration) {
	logger.Info(
		"Job completed",
		FieldJobID, jobID,
		"records", records,
		FieldDuration, duration,
	)
}

// LogServiceCall logs HTTP service calls
func LogServiceCall(logger *Logger, service string, endpoint string, method string) {
	logger.Debug(
		"Service call",
		"service", service,
		"endpoint", endpoint,
		"method", method,
	)
}

// LogServiceResponse logs HTTP service responses
func LogServiceResponse(logger *Logger, service string, statusCode int, duration time.Duration) {
	if statusCode >= 400 {
		logger.Warn(
			"Service response",
			"service", service,
			"status", statusCode,
			FieldDuration, duration,
		)
	} else {
		logger.Debug(
			"Service response",
			"service", service,
			"status", statusCode,
			FieldDuration, duration,
		)
	}
}
