// Package logging provides structured logging for sqlitehelper.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the database layer, the migration
// runner and the binary.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
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
//	logger.Info("migrations complete", "version", 3)
//
// Never log SQL arguments that may carry secrets.
package logging
