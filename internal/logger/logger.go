package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig defines the configuration for the logger.
type LoggerConfig struct {
	Level      string // "debug", "info", "warn", "error"
	FilePath   string // rotated JSON log; empty logs to stderr only
	MaxSize    int    // MB before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool // also write to stderr when FilePath is set
	Verbose    bool // forces debug level
	Quiet      bool // forces error level, wins over Verbose
}

// NewLogger returns a JSON logrus logger writing to a lumberjack-rotated file
// and/or stderr. Stdout is left to CLI output.
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	level, err := effectiveLevel(config)
	if err != nil {
		return nil, err
	}

	out, err := outputs(config)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(jsonFormatter())
	logger.SetOutput(out)
	return logger, nil
}

// Fallback is the logger used when NewLogger fails: JSON on stderr at info level.
func Fallback() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(jsonFormatter())
	logger.SetOutput(os.Stderr)
	return logger
}

// WithJob returns a logger entry tagged with a request job id and operation.
func WithJob(logger *logrus.Logger, jobID, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"job_id":    jobID,
		"operation": operation,
	})
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func effectiveLevel(config LoggerConfig) (logrus.Level, error) {
	switch {
	case config.Quiet:
		return logrus.ErrorLevel, nil
	case config.Verbose:
		return logrus.DebugLevel, nil
	case strings.TrimSpace(config.Level) == "":
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(strings.TrimSpace(config.Level))
}

func outputs(config LoggerConfig) (io.Writer, error) {
	if config.FilePath == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   config.FilePath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	if config.Console {
		return io.MultiWriter(file, os.Stderr), nil
	}
	return file, nil
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyFunc:  "function",
		},
	}
}
