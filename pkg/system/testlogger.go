package system

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewTestLogger returns a sugared logger for tests that writes the same line
// format as the process logger into w, at debug level.
func NewTestLogger(w io.Writer) *zap.SugaredLogger {
	return zap.New(newLineCore(zapcore.AddSync(w), zapcore.DebugLevel)).Sugar()
}
