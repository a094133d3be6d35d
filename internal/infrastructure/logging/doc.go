// Package logging provides structured logging for probebench.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same handler, level filter and default fields.
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
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("broker").Info("channel registered", "channel", "can0-dev")
//
// Domain packages declare their own minimal Logger interface
// (Debug/Info/Warn/Error with key-value args); *Logger satisfies all of them.
package logging
