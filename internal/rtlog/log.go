// Package rtlog provides the one shared structured logger every other
// package calls through, in place of the teacher's single uartPuts
// diagnostic channel (mazboot/golang/main/*.go calls uartPuts/uartPutHex64
// from every subsystem). capgc runs hosted, so the equivalent "always-on
// channel" is a package-level zap.SugaredLogger instead of a UART port.
package rtlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base *zap.Logger

func init() {
	base = newLogger(false, "", zap.InfoLevel)
}

func newLogger(toFile bool, path string, level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var ws zapcore.WriteSyncer
	if toFile && path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			ws = zapcore.AddSync(os.Stderr)
		} else {
			ws = zapcore.AddSync(f)
		}
	} else {
		ws = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), ws, level)
	return zap.New(core)
}

// Configure rewires the package logger to honor CAPGC_LOG_TO_FILE at info
// level. The CLI calls ConfigureLevel instead.
func Configure(toFile bool, path string) {
	ConfigureLevel(toFile, path, zap.InfoLevel)
}

// ConfigureLevel is Configure with an explicit minimum level, for the CLI's
// --log-level flag.
func ConfigureLevel(toFile bool, path string, level zapcore.Level) {
	base = newLogger(toFile, path, level)
}

// Named returns a sugared logger scoped to the given component, mirroring
// the teacher's practice of prefixing uartPuts diagnostics with a tag like
// "DEBUG: initGGContext() - ...".
func Named(component string) *zap.SugaredLogger {
	return base.Named(component).Sugar()
}
