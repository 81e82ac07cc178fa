package jobs

import (
	"context"
	"fmt"
	"time"

	"tracker-server/internal/observability"

	"github.com/google/uuid"
)

// HoldReleaseStore releases conversions whose hold window has elapsed.
// The status transition happens store-side in a single guarded statement,
// so overlapping job runs cannot double-release a conversion.
type HoldReleaseStore interface {
	ProcessHoldConversions(ctx context.Context) ([]uuid.UUID, error)
}

// Deliverer triggers postback delivery for a released conversion.
type Deliverer interface {
	Deliver(ctx context.Context, conversionID uuid.UUID) error
}

// HoldReleaseJob transitions held conversions to approved once their hold
// window elapses and triggers postback delivery for each one. This is the
// only path on which hold-period conversions get notified.
type HoldReleaseJob struct {
	store     HoldReleaseStore
	deliverer Deliverer
	logger    *observability.Logger
	interval  time.Duration
}

// NewHoldReleaseJob creates a new hold-release job
func NewHoldReleaseJob(store HoldReleaseStore, deliverer Deliverer, logger *observability.Logger, interval time.Duration) *HoldReleaseJob {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &HoldReleaseJob{
		store:     store,
		deliverer: deliverer,
		logger:    logger,
		interval:  interval,
	}
}

// Name returns the job name
func (j *HoldReleaseJob) Name() string {
	return "hold_release"
}

// Schedule returns how often the job should run
func (j *HoldReleaseJob) Schedule() time.Duration {
	return j.interval
}

// Run releases due conversions and triggers delivery for each
func (j *HoldReleaseJob) Run(ctx context.Context) error {
	released, err := j.store.ProcessHoldConversions(ctx)
	if err != nil {
		return fmt.Errorf("failed to release held conversions: %w", err)
	}
	if len(released) == 0 {
		return nil
	}

	j.logger.Info(ctx, fmt.Sprintf("released %d conversions from hold", len(released)))

	for _, conversionID := range released {
		if err := j.deliverer.Deliver(ctx, conversionID); err != nil {
			j.logger.Error(ctx, fmt.Sprintf("failed to deliver postbacks for released conversion %s", conversionID), err)
			// Delivery failures are independent; keep releasing the rest.
		}
	}
	return nil
}
