// Package monitoring carries the process logger.
//
// Components log through three streams: ops (actionable warnings and
// lifecycle), diag (per-job and per-run detail) and trace (per-frame
// detail). Each stream is a package-level hook so tests can redirect or
// mute it, and the whole set is backed by a zap SugaredLogger in
// production.
package monitoring

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a kv-style wrapper over zap.
type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New builds a logger. "prod"/"production" emit JSON at info level and
// "nop"/"off" discard everything; anything else emits human-readable console
// output at debug level.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "nop", "off":
		return Nop(), nil
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zl.Sugar()}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger (used by tests with zaptest/observer).
func FromZap(zl *zap.Logger) *Logger {
	return &Logger{SugaredLogger: zl.Sugar()}
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, keysAndValues...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, keysAndValues...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(keysAndValues...)}
}

type logfFunc func(format string, v ...interface{})

var (
	mu     sync.RWMutex
	opsf   logfFunc = noop
	diagf  logfFunc = noop
	tracef logfFunc = noop
)

func noop(string, ...interface{}) {}

// Install routes the ops/diag/trace streams to l at warn/info/debug level.
// Passing nil mutes every stream.
func Install(l *Logger) {
	if l == nil {
		SetLogStreams(nil, nil, nil)
		return
	}
	SetLogStreams(l.SugaredLogger.Warnf, l.SugaredLogger.Infof, l.SugaredLogger.Debugf)
}

// SetLogStreams replaces the three stream hooks. A nil hook mutes that stream.
func SetLogStreams(ops, diag, trace func(format string, v ...interface{})) {
	mu.Lock()
	defer mu.Unlock()
	opsf, diagf, tracef = orNoop(ops), orNoop(diag), orNoop(trace)
}

// SetLogger replaces the ops stream only. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	mu.Lock()
	defer mu.Unlock()
	opsf = orNoop(f)
}

func orNoop(f func(string, ...interface{})) logfFunc {
	if f == nil {
		return noop
	}
	return f
}

// Opsf logs actionable events: stage disabled, job failed, stale locks swept.
func Opsf(format string, v ...interface{}) {
	mu.RLock()
	f := opsf
	mu.RUnlock()
	f(format, v...)
}

// Diagf logs per-run and per-job detail.
func Diagf(format string, v ...interface{}) {
	mu.RLock()
	f := diagf
	mu.RUnlock()
	f(format, v...)
}

// Tracef logs per-frame detail.
func Tracef(format string, v ...interface{}) {
	mu.RLock()
	f := tracef
	mu.RUnlock()
	f(format, v...)
}
