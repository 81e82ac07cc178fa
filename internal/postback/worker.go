package postback

import (
	"context"
	"time"

	"tracker-server/internal/observability"
)

// RetryWorker polls the store for due postback deliveries and re-attempts
// them. Retry state lives in the database, so pending retries survive a
// process restart.
type RetryWorker struct {
	service  *Service
	logger   *observability.Logger
	stopChan chan struct{}
	interval time.Duration
}

// NewRetryWorker creates a new RetryWorker
func NewRetryWorker(service *Service, logger *observability.Logger, interval time.Duration) *RetryWorker {
	return &RetryWorker{
		service:  service,
		logger:   logger,
		stopChan: make(chan struct{}),
		interval: interval,
	}
}

// Start begins the background worker
func (w *RetryWorker) Start(ctx context.Context) {
	w.logger.Info(ctx, "Starting postback retry worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Process immediately on start
	w.processRetries(ctx)

	for {
		select {
		case <-ticker.C:
			w.processRetries(ctx)
		case <-w.stopChan:
			w.logger.Info(ctx, "Stopping postback retry worker")
			return
		case <-ctx.Done():
			w.logger.Info(ctx, "Context cancelled, stopping postback retry worker")
			return
		}
	}
}

// Stop stops the background worker
func (w *RetryWorker) Stop() {
	close(w.stopChan)
}

func (w *RetryWorker) processRetries(ctx context.Context) {
	// Process up to 100 due deliveries per tick
	if err := w.service.RetryDueDeliveries(ctx, 100); err != nil {
		w.logger.Error(ctx, "failed to process postback retries", err)
	}
}
