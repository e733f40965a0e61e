package session

import (
	"context"
	"log/slog"
	"time"
)

// StartSweeper runs a background goroutine that evicts expired sessions
// every interval until ctx is cancelled.
func StartSweeper(ctx context.Context, store Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("session sweeper started", "interval", interval)

		for {
			select {
			case now := <-ticker.C:
				sweepOnce(ctx, store, now, logger)
			case <-ctx.Done():
				logger.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOnce(ctx context.Context, store Store, now time.Time, logger *slog.Logger) int {
	removed, err := store.Sweep(ctx, now)
	if err != nil {
		logger.Error("session sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		logger.Info("swept expired sessions", "count", removed)
	}
	return removed
}
