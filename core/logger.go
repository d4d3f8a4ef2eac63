package core

import (
	"os"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the console logger used by all long-running services.
// Level defaults to debug; set LOG_LEVEL=info in production.
func NewLogger() *zap.Logger {
	level := zapcore.DebugLevel
	if os.Getenv("LOG_LEVEL") == "info" {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(colorable.NewColorableStdout()),
		level,
	))
}
