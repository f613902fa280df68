// Package logging provides structured logging for LinkPulse.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text during development, with service and version attached
// to every entry.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("listening", "port", 8080)
//
// Never log passwords, reset codes, tokens or cookie values.
package logging
