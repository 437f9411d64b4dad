// Package logging builds the zap loggers used by the orchestrator and the
// append-only per-task log sinks.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func buildEncoder(format string) zapcore.Encoder {
	if strings.EqualFold(format, "console") || strings.EqualFold(format, "text") {
		return zapcore.NewConsoleEncoder(encoderConfig())
	}
	return zapcore.NewJSONEncoder(encoderConfig())
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New returns the process logger writing to stdout.
func New(level, format string) *zap.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(w io.Writer, level, format string) *zap.Logger {
	core := zapcore.NewCore(buildEncoder(format), zapcore.AddSync(w), parseLevel(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// TaskSink is a task's log destination. Raw task output goes through Write,
// structured attempt markers through Log; both append to the same file.
type TaskSink struct {
	file *lumberjack.Logger
	Log  *zap.Logger
}

// OpenTaskSink opens path for appending. Rotation past maxMB moves old
// content to a timestamped backup instead of truncating it.
func OpenTaskSink(path string, maxMB int) (*TaskSink, error) {
	if path == "" {
		return nil, fmt.Errorf("task log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create task log dir: %w", err)
	}
	if maxMB <= 0 {
		maxMB = 100
	}
	lj := &lumberjack.Logger{
		Filename:  path,
		MaxSize:   maxMB,
		LocalTime: true,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(lj), zapcore.DebugLevel)
	return &TaskSink{file: lj, Log: zap.New(core)}, nil
}

func (s *TaskSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

func (s *TaskSink) Close() error {
	_ = s.Log.Sync()
	return s.file.Close()
}
