// Package sweeper periodically prunes jobs and journal events older
// than the configured retention horizon.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/transcriptd/internal/events"
)

// Sweeper runs a retention pass at a fixed interval.
type Sweeper struct {
	retentionDays int
	interval      time.Duration
	store         JobPruner
	journal       EventPruner
	hub           *events.Hub
	logger        *slog.Logger
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// New creates a sweeper. journal and hub may be nil.
func New(retentionDays int, interval time.Duration, store JobPruner, journal EventPruner, hub *events.Hub, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		retentionDays: retentionDays,
		interval:      interval,
		store:         store,
		journal:       journal,
		hub:           hub,
		logger:        logger.With("component", "sweeper"),
		stopCh:        make(chan struct{}),
	}
}

// Start begins the sweep loop. The first pass runs immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting retention sweeper",
		"retention_days", s.retentionDays, "interval", s.interval)

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.logger.Info("Stopping retention sweeper")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Retention sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Sweeper context cancelled, stopping loop")
			return
		}
	}
}

// Sweep performs a single retention pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	if s.retentionDays <= 0 {
		s.logger.Debug("Retention disabled, skipping sweep")
		return
	}

	removed := s.store.Prune(s.retentionDays)
	if removed > 0 {
		s.logger.Info("Pruned expired jobs", "removed", removed)
		if s.hub != nil {
			s.hub.Publish(events.SweepPruned, "", map[string]any{"removed": removed})
		}
	}

	if s.journal == nil {
		return
	}
	pruned, err := s.journal.PruneBefore(ctx, Cutoff(s.retentionDays))
	if err != nil {
		s.logger.Error("Failed to prune journal events", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("Pruned journal events", "removed", pruned)
	}
}

// Cutoff returns the UTC timestamp before which entries are eligible for
// pruning under the given retention window.
func Cutoff(retentionDays int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -retentionDays)
}
