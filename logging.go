package driftmq

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging contract a Proxy is constructed with. It mirrors the
// six-level scheme of the original LokiMQ Logger callback (trace through
// fatal) rather than collapsing it to the three or four levels most Go
// logging packages default to.
type Logger interface {
	Trace(msg string, kv ...any)
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)

	// Level reports the current minimum level that will actually be
	// emitted, and SetLevel changes it. LevelTrace is the lowest level.
	Level() Level
	SetLevel(Level)
}

// Level is the driftmq logging level, ordered the same way as LokiMQ's
// LogLevel enum (trace < debug < info < warn < error < fatal).
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError, LevelFatal:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

// zapLogger adapts a *zap.SugaredLogger to the Logger interface. trace is
// folded into zap's Debug level since zap has no distinct trace level, and
// fatal is written at zap's Error level, so LevelFatal also lets Error
// messages through; the
// atomic level enables runtime log-level changes the way Proxy.SetLogLevel
// requires.
type zapLogger struct {
	sugar *zap.SugaredLogger
	atom  zap.AtomicLevel
	level Level
}

// NewDevelopmentLogger returns a Logger backed by zap's development config
// (console encoder, ISO8601 timestamps) — the same texture as a CLI tool
// reaching for zap.NewDevelopment, just with the level made mutable so
// Proxy.SetLogLevel can reach in at runtime.
func NewDevelopmentLogger() Logger {
	atom := zap.NewAtomicLevel()
	atom.SetLevel(zapcore.DebugLevel)

	cfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), atom)
	l := zap.New(core, zap.AddCaller())

	return &zapLogger{sugar: l.Sugar(), atom: atom, level: LevelDebug}
}

// NewZapLogger wraps an application-supplied *zap.Logger.
func NewZapLogger(l *zap.Logger) Logger {
	atom := zap.NewAtomicLevel()
	atom.SetLevel(zapcore.DebugLevel)
	return &zapLogger{sugar: l.Sugar(), atom: atom, level: LevelDebug}
}

func (z *zapLogger) Trace(msg string, kv ...any) { z.sugar.Debugw(msg, kv...) }
func (z *zapLogger) Debug(msg string, kv ...any) { z.sugar.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...any)  { z.sugar.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...any)  { z.sugar.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }
func (z *zapLogger) Fatal(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }

func (z *zapLogger) Level() Level { return z.level }

func (z *zapLogger) SetLevel(l Level) {
	z.level = l
	z.atom.SetLevel(l.zap())
}

// nopLogger discards everything; used when no logger is supplied, matching
// LokiMQ's default no-op Logger lambda.
type nopLogger struct{ level Level }

// NopLogger returns a Logger that discards all messages.
func NopLogger() Logger { return &nopLogger{level: LevelInfo} }

func (n *nopLogger) Trace(string, ...any) {}
func (n *nopLogger) Debug(string, ...any) {}
func (n *nopLogger) Info(string, ...any)  {}
func (n *nopLogger) Warn(string, ...any)  {}
func (n *nopLogger) Error(string, ...any) {}
func (n *nopLogger) Fatal(string, ...any) {}
func (n *nopLogger) Level() Level         { return n.level }
func (n *nopLogger) SetLevel(l Level)     { n.level = l }
