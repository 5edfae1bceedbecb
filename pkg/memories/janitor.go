package memories

import (
	"context"
	"log/slog"
	"time"
)

// Reaper is the part of Service the Janitor drives.
type Reaper interface {
	ReapExpiredSessions(ctx context.Context) (*ReapResult, error)
}

// Janitor periodically expires abandoned upload sessions and purges old
// terminal session records.
type Janitor struct {
	reaper   Reaper
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor returns a janitor sweeping every interval. A non-positive
// interval defaults to one minute.
func NewJanitor(reaper Reaper, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{reaper: reaper, interval: interval, logger: logger}
}

// Run sweeps until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs a single pass.
func (j *Janitor) Sweep(ctx context.Context) {
	result, err := j.reaper.ReapExpiredSessions(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "session sweep failed", "err", err)
		return
	}
	if result.Expired > 0 || result.Purged > 0 {
		j.logger.InfoContext(ctx, "session sweep", "expired", result.Expired, "purged", result.Purged)
	}
}
