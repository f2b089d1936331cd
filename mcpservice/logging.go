package mcpservice

import (
	"errors"
	"log/slog"
	"strings"
)

// ErrInvalidLoggingLevel indicates the provided level is not a recognized
// syslog-style severity name.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// ParseLoggingLevel maps MCP/syslog severity names onto slog levels. Notice
// folds into info and everything above error folds into error.
func ParseLoggingLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "info", "notice", "":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error", "critical", "alert", "emergency":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, ErrInvalidLoggingLevel
	}
}

// SetSlogLevel applies a severity name to lv. Unknown names leave lv
// unchanged.
func SetSlogLevel(lv *slog.LevelVar, level string) error {
	if lv == nil {
		return nil
	}
	l, err := ParseLoggingLevel(level)
	if err != nil {
		return err
	}
	lv.Set(l)
	return nil
}
