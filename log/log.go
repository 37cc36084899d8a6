package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// Logger returns the process-wide logger. It is a no-op logger until SetLogger is called.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the process-wide logger. A nil logger resets it to a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Named returns a child of the process-wide logger, or fallback when fallback is non-nil.
func Named(fallback *zap.Logger, name string) *zap.Logger {
	if fallback != nil {
		return fallback
	}
	return Logger().Named(name)
}

// New builds a production (JSON) or development (console) logger at the given level.
func New(development bool, level Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	return cfg.Build()
}

func Log(level Level, msg string, fields ...zap.Field) {
	if ce := Logger().Check(level.zapLevel(), msg); ce != nil {
		ce.Write(fields...)
	}
}

func Debug(msg string, fields ...zap.Field) { Log(DebugLevel, msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Log(InfoLevel, msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Log(WarnLevel, msg, fields...) }
func Error(msg string, fields ...zap.Field) { Log(ErrorLevel, msg, fields...) }

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
