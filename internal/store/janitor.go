package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/dkoshel/mentorlab/internal/shared"
)

const janitorInterval = 15 * time.Minute

// StartJanitor runs a background goroutine that periodically removes session
// rows that ended longer than retention ago. Discussions, messages, and
// feedback are kept; only the connection bookkeeping is pruned.
func StartJanitor(ctx context.Context, repo Repository, retention time.Duration) {
	ticker := time.NewTicker(janitorInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("session janitor started", "interval", janitorInterval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweepEndedSessions(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("session janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepEndedSessions(ctx context.Context, repo Repository, retention time.Duration) {
	cutoff := time.Now().Add(-retention)

	// Sweeps can collide with session teardown flushes; back off on lock
	// contention instead of reporting it.
	var deleted int64
	var err error
	for attempt, delay := 0, 100*time.Millisecond; attempt < 3; attempt, delay = attempt+1, delay*2 {
		deleted, err = repo.DeleteEndedSessionsBefore(ctx, cutoff)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			break
		}
		slog.Debug("session janitor sweep hit a busy database, retrying",
			"attempt", attempt+1,
			"delay", delay,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
	if err != nil {
		slog.Error("session janitor sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("session janitor pruned ended sessions", "count", deleted)
	}
}
