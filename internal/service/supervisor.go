package service

import (
	"context"
	"log/slog"
	"time"
)

const restartBackoff = 5 * time.Second

// runSupervised runs fn until ctx is cancelled, restarting it after a
// fixed backoff every time it returns.
func runSupervised(ctx context.Context, name string, fn func(context.Context) error) {
	for {
		if ctx.Err() != nil {
			return
		}

		slog.Info("starting consumer", "consumer", name)
		if err := fn(ctx); err != nil {
			slog.Error("consumer terminated", "consumer", name, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartBackoff):
		}
	}
}
