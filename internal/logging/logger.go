package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
// LOG_LEVEL overrides the environment default.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	production := env == "production"

	level := slog.LevelDebug
	if production {
		level = slog.LevelInfo
	}
	if lvl, ok := ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		level = lvl
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// WithSession returns a logger with chat session context fields attached.
// Use this for all logging while handling a wizard or session request.
func WithSession(sessionID, userID string) *slog.Logger {
	if userID == "" {
		userID = "anonymous"
	}
	return slog.With(
		"session_id", sessionID,
		"user_id", userID,
	)
}

// WithJob returns a logger scoped to a background job run.
func WithJob(jobName, sessionID, service string) *slog.Logger {
	return slog.With(
		"job", jobName,
		"session_id", sessionID,
		"service", service,
	)
}
