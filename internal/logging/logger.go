package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	rootMu sync.Mutex
	root   *zap.Logger
)

func init() {
	localEnv := os.Getenv("LOCAL")
	if strings.ToLower(localEnv) == "true" || localEnv == "1" {
		SetLogLevel(zapcore.DebugLevel)
	}
	if lvl, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		SetLogLevel(lvl)
	}
}

// ParseLevel converts a level name (debug, info, warn, error) into a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, fmt.Errorf("empty log level")
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return lvl, nil
}

// SetLogLevel changes the level of every logger created by this package.
func SetLogLevel(lvl zapcore.Level) {
	level.SetLevel(lvl)
}

func base() *zap.Logger {
	rootMu.Lock()
	defer rootMu.Unlock()

	if root != nil {
		return root
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	root = l
	return root
}

// Sync flushes buffered log entries.
func Sync() error {
	return base().Sync()
}

// Logger provides structured key/value logging with a component name.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a logger tagged with the given component name.
func NewLogger(prefix string) *Logger {
	return NewLoggerFrom(base(), prefix)
}

// NewLoggerFrom builds a Logger on top of an existing zap logger.
func NewLoggerFrom(z *zap.Logger, prefix string) *Logger {
	return &Logger{sugar: z.Named(prefix).Sugar()}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// With returns a child logger that always carries the given key/value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keyvals...)}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.sugar.Debugw(msg, keyvals...)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.sugar.Infow(msg, keyvals...)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.sugar.Warnw(msg, keyvals...)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.sugar.Errorw(msg, keyvals...)
}
