// Package logging provides structured logging for armlink.
//
// It wraps the standard library's log/slog with configuration-driven setup
// (level, format, destination) and default service attributes.
//
// Components elsewhere in the codebase accept a minimal Logger interface
// (Debug/Info/Warn/Error with key-value pairs) rather than this concrete
// type, so they remain decoupled from the wrapper; *logging.Logger
// satisfies those interfaces directly.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("camera connected", "name", "top", "fps", 30)
package logging
