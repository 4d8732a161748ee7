package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with convenience methods
type Logger struct {
	*slog.Logger
}

// LogLevel represents logging levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	// Default logger instance
	defaultLogger *Logger
	// Current log level
	currentLevel = LevelInfo
)

// Init initializes the global logger with specified level
func Init(level string) {
	switch strings.ToLower(level) {
	case "debug":
		currentLevel = LevelDebug
	case "info", "":
		currentLevel = LevelInfo
	case "warn", "warning":
		currentLevel = LevelWarn
	case "error":
		currentLevel = LevelError
	default:
		currentLevel = LevelInfo
	}

	var slogLevel slog.Level
	switch currentLevel {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: false,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   a.Key,
					Value: slog.StringValue(a.Value.Time().Format("15:04:05")),
				}
			}
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				switch level {
				case slog.LevelDebug:
					a.Value = slog.StringValue("DEBUG")
				case slog.LevelInfo:
					a.Value = slog.StringValue("INFO ")
				case slog.LevelWarn:
					a.Value = slog.StringValue("WARN ")
				case slog.LevelError:
					a.Value = slog.StringValue("ERROR")
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	defaultLogger = &Logger{slog.New(handler)}
}

// Get returns the default logger instance
func Get() *Logger {
	if defaultLogger == nil {
		Init(os.Getenv("LOG_LEVEL"))
	}
	return defaultLogger
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	return currentLevel
}

func Debug(msg string, args ...any) {
	if currentLevel <= LevelDebug {
		Get().Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if currentLevel <= LevelInfo {
		Get().Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if currentLevel <= LevelWarn {
		Get().Warn(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if currentLevel <= LevelError {
		Get().Error(msg, args...)
	}
}

// WithContext creates a logger with additional context
func WithContext(key string, value any) *Logger {
	return &Logger{Get().With(key, value)}
}

// Startup logging for key initialization steps
func Startup(step, message string, args ...any) {
	if currentLevel <= LevelInfo {
		fmt.Fprintf(os.Stderr, "\033[36m[+]\033[0m %s\n", message)
	}
	if currentLevel <= LevelDebug {
		Debug("startup step", append([]any{"step", step, "message", message}, args...)...)
	}
}

// JobStarted logs the start of a transcription job run.
func JobStarted(jobID, sourcePath string, interviewerCount, participantCount int) {
	Info("job started", "source", sourcePath)
	Debug("job started with details",
		"job_id", jobID,
		"source", sourcePath,
		"interviewer_count", interviewerCount,
		"participant_count", participantCount)
}

// JobCompleted logs a successful job completion.
func JobCompleted(jobID string, duration time.Duration, chunksTotal int) {
	Info("job completed", "duration", duration.String())
	Debug("job completed with details",
		"job_id", jobID,
		"duration", duration.String(),
		"chunks_total", chunksTotal)
}

// JobPaused logs a job pausing for low fallback confidence.
func JobPaused(jobID string, reason string) {
	Warn("job paused", "reason", reason)
	Debug("job paused with details", "job_id", jobID, "reason", reason)
}

// JobFailed logs a fatal job failure.
func JobFailed(jobID string, duration time.Duration, err error) {
	Error("job failed", "error", err.Error())
	Debug("job failed with details",
		"job_id", jobID,
		"duration", duration.String(),
		"error", err.Error())
}

// ChunkStarted logs the start of a per-chunk transcription attempt.
func ChunkStarted(jobID string, idx int, engine string, attempt int) {
	Debug("chunk started",
		"job_id", jobID, "idx", idx, "engine", engine, "attempt", attempt)
}

// ChunkDone logs a successful chunk completion.
func ChunkDone(jobID string, idx int, engine string, confidence *float64) {
	Debug("chunk done", "job_id", jobID, "idx", idx, "engine", engine, "confidence", confidence)
}

// Performance logging for debugging
func Performance(operation string, duration time.Duration, details ...any) {
	Debug("performance",
		append([]any{"operation", operation, "duration", duration.String()}, details...)...)
}
