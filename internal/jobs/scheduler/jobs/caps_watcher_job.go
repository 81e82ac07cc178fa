package jobs

import (
	"context"
	"time"

	"tracker-server/internal/observability"
)

// CapsWatcherJob watches for UTC day and month rollovers so operators can
// see when offer caps reset. It is advisory only: cap arithmetic is always
// computed live against raw conversion rows, never from a stored counter,
// so there is nothing to zero out here.
type CapsWatcherJob struct {
	logger   *observability.Logger
	interval time.Duration
	now      func() time.Time

	lastDate  string
	lastMonth string
}

// NewCapsWatcherJob creates a new caps watcher job
func NewCapsWatcherJob(logger *observability.Logger, interval time.Duration) *CapsWatcherJob {
	if interval == 0 {
		interval = time.Minute
	}
	return &CapsWatcherJob{
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Name returns the job name
func (j *CapsWatcherJob) Name() string {
	return "caps_watcher"
}

// Schedule returns how often the job should run
func (j *CapsWatcherJob) Schedule() time.Duration {
	return j.interval
}

// Run compares the current UTC date and month against the last observed
// ones and logs boundary crossings.
func (j *CapsWatcherJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	date := now.Format("2006-01-02")
	month := now.Format("2006-01")

	if j.lastDate != "" && j.lastDate != date {
		j.logger.Info(observability.WithFields(ctx,
			observability.Field{Key: "previous_date", Value: j.lastDate},
			observability.Field{Key: "current_date", Value: date},
		), "daily boundary crossed, offer daily caps reset")
	}
	if j.lastMonth != "" && j.lastMonth != month {
		j.logger.Info(observability.WithFields(ctx,
			observability.Field{Key: "previous_month", Value: j.lastMonth},
			observability.Field{Key: "current_month", Value: month},
		), "monthly boundary crossed, offer monthly caps reset")
	}

	j.lastDate = date
	j.lastMonth = month
	return nil
}
