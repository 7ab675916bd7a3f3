// Package logging provides structured logging for the lanblast pipeline.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout discovery, control, and orchestration. It provides
// both general logging functions and specialized functions for pipeline events.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (raw SSDP responses, description fetches)
//   - Info: Normal operations (devices discovered, control outcomes, state changes)
//   - Warn: Non-fatal issues (unreachable devices, malformed responses, retries)
//   - Error: Fatal issues (socket bind failures, startup failures)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Device discovered",
//	    zap.String("method", "ssdp"),
//	    zap.String("ip", "192.168.1.43"),
//	    zap.Int("port", 1400),
//	)
//
// # Specialized Logging
//
// The package provides domain-specific logging functions:
//
//	logging.LogDiscovery("ssdp", "192.168.1.43", 1400, "Living Room Sonos")
//	logging.LogControlAttempt("192.168.1.43:1400", "SetAVTransportURI", err)
//	logging.LogStateTransition("DISCOVERING", "CONTROLLING")
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// CLI commands that want silent mode by default should use
// InitializeFromEnv, which only enables output when LANBLAST_LOG_LEVEL
// is set.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
