package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "LANBLAST_LOG_LEVEL"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks LANBLAST_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	// If still no level, use silent mode (nop logger)
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
		// Unknown level - use info as default when explicitly set to something
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

	// Customize encoder for better readability
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

// InitializeFromEnv initializes the logger from the LANBLAST_LOG_LEVEL
// environment variable. This is the recommended way to initialize logging
// for CLI commands that want silent mode by default.
func InitializeFromEnv() error {
	return Initialize("")
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback to silent logger if not initialized
		// This ensures no unexpected log output in CLI commands
		logger = zap.NewNop()
	}
	return logger
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// LogDiscovery logs a device discovery event
func LogDiscovery(method string, ip string, port int, friendlyName string) {
	Info("Device discovered",
		zap.String("method", method),
		zap.String("ip", ip),
		zap.Int("port", port),
		zap.String("friendly_name", friendlyName),
	)
}

// LogSSDPResponse logs a raw SSDP response before parsing
func LogSSDPResponse(remoteAddr string, st string, location string) {
	Debug("SSDP response",
		zap.String("remote_addr", remoteAddr),
		zap.String("st", st),
		zap.String("location", location),
	)
}

// LogDescriptionFetch logs the outcome of a device-description XML fetch
func LogDescriptionFetch(location string, err error) {
	if err != nil {
		Warn("Device description fetch failed",
			zap.String("location", location),
			zap.Error(err),
		)
		return
	}
	Debug("Device description fetched",
		zap.String("location", location),
	)
}

// LogControlAttempt logs the start or outcome of a control sequence
func LogControlAttempt(deviceKey string, action string, err error) {
	if err != nil {
		Warn("Control action failed",
			zap.String("device", deviceKey),
			zap.String("action", action),
			zap.Error(err),
		)
		return
	}
	Info("Control action succeeded",
		zap.String("device", deviceKey),
		zap.String("action", action),
	)
}

// LogStateTransition logs an orchestrator state change
func LogStateTransition(from string, to string) {
	Info("Blast state transition",
		zap.String("from", from),
		zap.String("to", to),
	)
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
