package cache

import (
	"context"
	"time"

	"jokeapi/pkg/logger"
)

type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically deletes expired entries. Correctness does not depend on it.
type Sweeper struct {
	store    Purger
	interval time.Duration
}

func NewSweeper(store Purger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, interval: interval}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping cache sweeper")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	purged, err := s.store.PurgeExpired(ctx)
	if err != nil {
		logger.Error("Cache sweep failed", logger.Err(err))
		return
	}
	if purged > 0 {
		logger.Info("Purged expired cache entries", logger.Int64("count", purged))
	}
}
