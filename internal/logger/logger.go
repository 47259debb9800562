package logger

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger = zap.NewNop()

// Init sets up the global zap logger writing to the console and to a rotated JSON file
// under <dataDir>/logs.
func Init(dataDir string, debug bool) error {
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "picvault.log"),
		MaxSize:    5, // MB
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
		LocalTime:  true,
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	Logger = New(zapcore.Lock(os.Stdout), zapcore.AddSync(rotator), level)
	zap.ReplaceGlobals(Logger)
	return nil
}

// New builds a logger with a colored console core on console and a JSON core on file.
func New(console, file zapcore.WriteSyncer, level zapcore.Level) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// no colors in the file
	fileEncoderConfig := encoderConfig
	fileEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), console, level),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig), file, level),
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Sync flushes any buffered log entries
func Sync() {
	_ = Logger.Sync()
}

// Writer returns an io.Writer that logs each write at Info level
func Writer() io.Writer {
	return &logWriter{logger: Logger}
}

type logWriter struct {
	logger *zap.Logger
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Info(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
