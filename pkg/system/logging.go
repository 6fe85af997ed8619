package system

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogTimeLayout is the timestamp layout of every log line.
const LogTimeLayout = "2006-01-02 15:04:05.000"

// LogOptions configures the process logger.
type LogOptions struct {
	// FilePath is the append-only log sink the digest job reads back.
	// Empty disables the file sink.
	FilePath string
	// Console receives a mirror of every line. Defaults to stderr.
	Console io.Writer
	Debug   bool
}

// NewLogger builds the process-wide sugared logger. Every line is written as
// "<timestamp> - <LEVEL> - <message>" followed by structured fields, both to
// the log file and to the console. The returned close function flushes the
// logger and closes the file; call it once at process exit.
func NewLogger(opts LogOptions) (*zap.SugaredLogger, func() error, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	cores := []zapcore.Core{newLineCore(zapcore.AddSync(console), level)}

	var file *os.File
	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", opts.FilePath, err)
		}
		file = f
		cores = append(cores, newLineCore(zapcore.AddSync(f), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	closeFn := func() error {
		// Sync on a terminal stderr returns EINVAL on some platforms; only the
		// file sync matters.
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger.Sugar(), closeFn, nil
}

func newLineCore(ws zapcore.WriteSyncer, level zapcore.LevelEnabler) zapcore.Core {
	encCfg := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		NameKey:          "logger",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(LogTimeLayout),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " - ",
	}
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(ws), level)
}
