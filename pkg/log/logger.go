// Package log builds the service's structured loggers and the typed
// attribute helpers used across the engine and server.
package log

import (
	"log/slog"
	"os"
)

// DefaultEnv labels log lines when no deployment environment is set
const DefaultEnv = "dev"

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Level maps a configured level name onto its slog level. Unknown
// names fall back to info rather than failing startup.
func Level(name string) slog.Level {
	if lvl, ok := levels[name]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// New constructs the JSON logger for a service, tagged with its
// deployment environment and build version
func New(service, env, version string, lvl slog.Level) *slog.Logger {
	if env == "" {
		env = DefaultEnv
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})

	return slog.New(handler).With(
		slog.String("service", service),
		slog.String("env", env),
		slog.String("version", version))
}
