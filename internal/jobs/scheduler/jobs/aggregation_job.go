package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tracker-server/internal/aggregation"
	"tracker-server/internal/observability"
)

// AggregationJob refreshes the daily summary store on a schedule. Every
// tick aggregates yesterday's UTC date; same-day dashboard numbers come
// from live queries elsewhere, not from this job.
type AggregationJob struct {
	engine   *aggregation.Engine
	logger   *observability.Logger
	interval time.Duration
}

// NewAggregationJob creates a new aggregation job
func NewAggregationJob(engine *aggregation.Engine, logger *observability.Logger, interval time.Duration) *AggregationJob {
	if interval == 0 {
		interval = time.Hour
	}
	return &AggregationJob{
		engine:   engine,
		logger:   logger,
		interval: interval,
	}
}

// Name returns the job name
func (j *AggregationJob) Name() string {
	return "daily_aggregation"
}

// Schedule returns how often the job should run
func (j *AggregationJob) Schedule() time.Duration {
	return j.interval
}

// Run aggregates yesterday's date. A run already started elsewhere (for
// example a manual backfill) is not an error for the schedule.
func (j *AggregationJob) Run(ctx context.Context) error {
	result, err := j.engine.RunDailyAggregation(ctx, nil)
	if err != nil {
		if errors.Is(err, aggregation.ErrAlreadyRunning) {
			j.logger.Info(ctx, "skipping scheduled aggregation, another run is in progress")
			return nil
		}
		return fmt.Errorf("scheduled aggregation failed: %w", err)
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("scheduled aggregation completed with errors: %v", result.Errors)
	}
	return nil
}
