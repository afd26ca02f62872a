// Package logging wires the process-wide structured logger. It is
// initialized once at startup (see cmd/maxiod) and handed down explicitly;
// nothing in this package keeps a package-level singleton so tests can build
// their own logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger. In production mode it emits JSON to stderr; in
// development mode it uses zap's human-readable console encoder (also on
// stderr). Either way level sets the minimum level for the whole process
// logger; child loggers from With(...) share it.
func New(production bool, level zapcore.Level) (*zap.Logger, error) {
	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Component returns a child logger tagged with a "component" field, the
// convention every subsystem in this module follows (scanner, heal,
// replication, lifecycle, grid, discovery) so log lines can be filtered by
// subsystem without parsing the message text.
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("component", name))
}
