// Package logger wraps zap behind a small process-wide logger so the rest of
// the framework logs structured fields without every package importing and
// configuring zap itself.
package logger

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(newLogger("info", false))
}

// Init replaces the process logger. level is one of debug/info/warn/error;
// pretty switches to the colored development encoder.
func Init(level string, pretty bool) {
	global.Store(newLogger(level, pretty))
}

// L returns the current process logger.
func L() *zap.Logger {
	return global.Load()
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() error {
	return global.Load().Sync()
}

func newLogger(level string, pretty bool) *zap.Logger {
	var cfg zap.Config
	if pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	base, err := cfg.Build(zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		panic(err)
	}
	return base
}

// Field constructors re-exported from zap so callers don't need the import.
func String(key, val string) zap.Field                 { return zap.String(key, val) }
func Int(key string, val int) zap.Field                { return zap.Int(key, val) }
func Uint16(key string, val uint16) zap.Field          { return zap.Uint16(key, val) }
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
func Error(err error) zap.Field                        { return zap.Error(err) }
func Stringer(key string, val interface{ String() string }) zap.Field {
	return zap.Stringer(key, val)
}
