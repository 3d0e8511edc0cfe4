package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ShutdownContext is cancelled by the first SIGINT or SIGTERM so the service
// can drain. A second signal exits at once with status 1.
func ShutdownContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	ctx, stop := watchSignals(context.Background(), ch, logger, func() { os.Exit(1) })
	return ctx, func() {
		signal.Stop(ch)
		stop()
	}
}

func watchSignals(parent context.Context, ch <-chan os.Signal, logger *slog.Logger, exit func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			logger.Info("shutdown requested", "signal", sig.String())
			cancel(fmt.Errorf("received %s", sig))
		case <-done:
			return
		}
		select {
		case sig := <-ch:
			logger.Warn("second signal, exiting without draining", "signal", sig.String())
			exit()
		case <-done:
		}
	}()
	var once sync.Once
	return ctx, func() {
		once.Do(func() { close(done) })
		cancel(context.Canceled)
	}
}
