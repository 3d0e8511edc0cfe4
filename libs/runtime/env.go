package runtime

import (
	"log/slog"
	"os"
	"strings"
)

func Getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// LogLevel maps LOG_LEVEL to a slog level; unknown values fall back to info.
func LogLevel() slog.Level {
	switch strings.ToLower(Getenv("LOG_LEVEL", "info")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
