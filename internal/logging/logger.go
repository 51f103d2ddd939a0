package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "CORNEA_LOG_LEVEL"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks CORNEA_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var err error
	logger, err = config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// InitializeFromEnv initializes the logger from the CORNEA_LOG_LEVEL
// environment variable. This is the recommended way to initialize logging
// for CLI commands that want silent mode by default.
func InitializeFromEnv() error {
	return Initialize("")
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal logs a fatal message and exits.
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// LogConnection logs an Iris transport lifecycle event.
func LogConnection(addr string, event string) {
	Info("iris connection event",
		zap.String("addr", addr),
		zap.String("event", event),
	)
}

// LogRPCCall logs the outcome of one RPC round trip.
func LogRPCCall(method string, id uint64, dur time.Duration, err error) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.Uint64("id", id),
		zap.Duration("duration", dur),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		Warn("rpc call failed", fields...)
		return
	}
	Debug("rpc call completed", fields...)
}

// LogEventDelivery logs a single event callback's delivery to a sink,
// including the sink's queue depth right after enqueue.
func LogEventDelivery(sourceID, instanceID uint32, queueDepth int) {
	Debug("event delivered",
		zap.Uint32("event_source_id", sourceID),
		zap.Uint32("instance_id", instanceID),
		zap.Int("queue_depth", queueDepth),
	)
}

// LogEventDropped logs an overflowed subscription sink.
func LogEventDropped(sourceID, instanceID uint32) {
	Warn("event dropped, sink queue full",
		zap.Uint32("event_source_id", sourceID),
		zap.Uint32("instance_id", instanceID),
	)
}

// LogGDBPacket logs one GDB Remote Serial Protocol packet, direction being
// "recv" or "send".
func LogGDBPacket(direction string, payload string) {
	Debug("gdb packet",
		zap.String("direction", direction),
		zap.String("payload", payload),
	)
}

// LogFrame logs raw bytes crossing either the Iris socket or GDB stdio,
// direction being "recv" or "send".
func LogFrame(direction string, raw []byte) {
	if !GetLogger().Core().Enabled(zapcore.DebugLevel) {
		return
	}
	Debug("raw frame",
		zap.String("direction", direction),
		zap.Int("length", len(raw)),
		zap.String("hex", hexDump(raw)),
		zap.String("ascii", asciiDump(raw)),
	)
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > 256 {
		return hex.EncodeToString(data[:256]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > 256 {
		data = data[:256]
	}
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
