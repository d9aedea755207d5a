// Package logging provides structured logging for the input emulator.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon and the driver.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	drv := driver.New(driver.Options{Logger: logger.Component("driver")})
//
// Hook paths log at debug level only; a runtime frame must not wait on a
// log sink at info level or above during normal operation.
package logging
