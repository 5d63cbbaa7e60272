package main

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// logLevelFlag implements pflag.Value directly (rather than relying on one
// of pflag's built-in Var types) so --log-level accepts zap's level names
// instead of an integer or string pflag has no opinion on.
type logLevelFlag struct {
	level zapcore.Level
}

func newLogLevelFlag() *logLevelFlag {
	return &logLevelFlag{level: zapcore.InfoLevel}
}

func (f *logLevelFlag) String() string {
	return f.level.String()
}

func (f *logLevelFlag) Set(s string) error {
	var l zapcore.Level
	if err := l.Set(s); err != nil {
		return fmt.Errorf("invalid log level %q: %w", s, err)
	}
	f.level = l
	return nil
}

func (f *logLevelFlag) Type() string {
	return "level"
}

var _ pflag.Value = (*logLevelFlag)(nil)
