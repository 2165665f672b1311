package httpserver

import (
	"context"
	"log/slog"
	"time"

	"pbserver/internal/metrics"
	"pbserver/internal/storage"
)

// StartJanitor launches a background janitor that purges expired keys from
// stores without native expiry. recorder may be nil.
func StartJanitor(ctx context.Context, sweeper storage.Sweeper, interval time.Duration, logger *slog.Logger, recorder metrics.Recorder) {
	if interval <= 0 {
		interval = time.Minute
	}
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cleanOnce(ctx, sweeper, logger, recorder, time.Now())
			}
		}
	}()
}

func cleanOnce(ctx context.Context, sweeper storage.Sweeper, logger *slog.Logger, recorder metrics.Recorder, now time.Time) int {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	removed, err := sweeper.DeleteExpired(c, now)
	if err != nil {
		if logger != nil {
			logger.Error("janitor error", "error", err)
		}
		return 0
	}
	recorder.Swept(removed)
	if removed > 0 && logger != nil {
		logger.Info("janitor removed expired keys", "count", removed)
	}
	return removed
}
