package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the global logger.
type Options struct {
	Level      string
	File       string
	Debug      bool
	JSON       bool
	MaxSizeMB  int
	MaxBackups int
	Output     io.Writer
}

// Logger wraps a logrus entry so packages log through one configured sink.
type Logger struct {
	entry  *logrus.Entry
	closer io.Closer
}

var (
	globalLogger *Logger
	loggerMu     sync.RWMutex
)

// NewLogger builds a logger. With a file set, output goes through a rotating
// lumberjack writer; otherwise to Output (stderr when nil).
func NewLogger(opts Options) *Logger {
	base := logrus.New()
	base.SetLevel(parseLogLevel(opts.Level, opts.Debug))
	if opts.JSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: opts.File != ""})
	}

	l := &Logger{}
	switch {
	case opts.File != "":
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			Compress:   false,
		}
		base.SetOutput(rotator)
		l.closer = rotator
	case opts.Output != nil:
		base.SetOutput(opts.Output)
	default:
		base.SetOutput(os.Stderr)
	}

	l.entry = logrus.NewEntry(base)
	return l
}

func parseLogLevel(levelStr string, debug bool) logrus.Level {
	if debug {
		return logrus.DebugLevel
	}
	switch strings.ToLower(levelStr) {
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithFields returns a child logger carrying the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l != nil {
		l.entry.Debugf(format, args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l != nil {
		l.entry.Infof(format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l != nil {
		l.entry.Warnf(format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l != nil {
		l.entry.Errorf(format, args...)
	}
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	if l != nil && l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// InitLogger replaces the global logger. Safe to call more than once.
func InitLogger(opts Options) *Logger {
	l := NewLogger(opts)
	loggerMu.Lock()
	prev := globalLogger
	globalLogger = l
	loggerMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return l
}

// GetLogger returns the global logger, or nil before InitLogger.
func GetLogger() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return globalLogger
}

// Global convenience functions; all are no-ops until InitLogger is called.

func LogDebugf(format string, args ...interface{}) {
	if l := GetLogger(); l != nil {
		l.Debugf(format, args...)
	}
}

func LogInfof(format string, args ...interface{}) {
	if l := GetLogger(); l != nil {
		l.Infof(format, args...)
	}
}

func LogWarnf(format string, args ...interface{}) {
	if l := GetLogger(); l != nil {
		l.Warnf(format, args...)
	}
}

func LogErrorf(format string, args ...interface{}) {
	if l := GetLogger(); l != nil {
		l.Errorf(format, args...)
	}
}

// WithFields is the global form of Logger.WithFields. Returns nil when no
// logger is configured; every Logger method accepts a nil receiver.
func WithFields(fields map[string]interface{}) *Logger {
	if l := GetLogger(); l != nil {
		return l.WithFields(fields)
	}
	return nil
}
