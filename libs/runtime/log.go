package runtime

import (
	"log/slog"
	"os"
)

func NewLogger(service string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: LogLevel(),
	})
	logger := slog.New(h).With("service", service)
	slog.SetDefault(logger)
	return logger
}
