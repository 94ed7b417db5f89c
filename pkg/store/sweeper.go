package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/pkg/clock"
	"github.com/rebelopsio/pam-core/pkg/metrics"
)

const (
	defaultRetention     = 90 * 24 * time.Hour
	defaultSweepInterval = time.Hour
)

// Sweeper periodically removes terminal entities past the retention horizon.
// Anything still in flight is left alone no matter how old it is.
type Sweeper struct {
	store     *MemoryStore
	clock     clock.Clock
	logger    *zap.Logger
	retention time.Duration
	interval  time.Duration
}

func NewSweeper(st *MemoryStore, clk clock.Clock, logger *zap.Logger, retention, interval time.Duration) *Sweeper {
	if retention <= 0 {
		retention = defaultRetention
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		store:     st,
		clock:     clk,
		logger:    logger,
		retention: retention,
		interval:  interval,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one retention pass.
func (s *Sweeper) Sweep() ReapStats {
	cutoff := s.clock.Now().Add(-s.retention)
	stats := s.store.Reap(cutoff)

	metrics.RecordReapedEntities("request", stats.Requests)
	metrics.RecordReapedEntities("session", stats.Sessions)
	metrics.RecordReapedEntities("challenge", stats.Challenges)
	metrics.RecordReapedEntities("operation", stats.Operations)

	if stats.Requests+stats.Sessions+stats.Challenges+stats.Operations > 0 {
		s.logger.Info("retention sweep completed",
			zap.Int("requests", stats.Requests),
			zap.Int("sessions", stats.Sessions),
			zap.Int("challenges", stats.Challenges),
			zap.Int("operations", stats.Operations))
	}
	return stats
}
