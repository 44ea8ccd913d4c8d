package logger

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultLogFile = "logs/p2p-swarm.log"

// Log and Sugar are no-ops until Init is called.
var (
	Log   = zap.NewNop()
	Sugar = Log.Sugar()
)

// Init routes all logging to path (DefaultLogFile when empty) at the given level.
// An empty level falls back to P2P_LOG_LEVEL, then LOG_LEVEL, then info.
func Init(levelStr, path string) error {
	if path == "" {
		path = DefaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(file),
		ParseLevel(levelStr),
	)

	Log = zap.New(core, zap.AddCaller())
	Sugar = Log.Sugar()
	return nil
}

// ParseLevel resolves a level name, consulting the environment when levelStr is empty.
func ParseLevel(levelStr string) zapcore.Level {
	level := zapcore.InfoLevel
	levelStr = strings.TrimSpace(levelStr)
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("P2P_LOG_LEVEL"))
	}
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	if levelStr != "" {
		_ = level.UnmarshalText([]byte(strings.ToLower(levelStr)))
	}
	return level
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Log.Sync()
}
