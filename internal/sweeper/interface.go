package sweeper

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_sweeper.go -package=mocks github.com/mattjoyce/transcriptd/internal/sweeper JobPruner,EventPruner

// JobPruner removes jobs past the retention horizon. Satisfied by
// *jobs.Store.
type JobPruner interface {
	Prune(retentionDays int) int
}

// EventPruner removes journal events past the retention horizon.
// Satisfied by *journal.Journal.
type EventPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
