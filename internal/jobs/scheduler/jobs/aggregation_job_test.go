package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"tracker-server/internal/aggregation"
	"tracker-server/internal/observability"
	"tracker-server/internal/store"
)

type stubAggregationStore struct {
	err   error
	block chan struct{}
}

func (s *stubAggregationStore) AggregateClicksByDay(ctx context.Context, start, end time.Time) ([]store.ClickAggregate, error) {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, nil
}

func (s *stubAggregationStore) AggregateConversionsByDay(ctx context.Context, start, end time.Time) ([]store.ConversionAggregate, error) {
	return nil, nil
}

func (s *stubAggregationStore) UpsertDailyStat(ctx context.Context, params store.UpsertDailyStatParams) error {
	return nil
}

func TestAggregationJob_Run(t *testing.T) {
	logger := observability.NewLogger()
	engine := aggregation.New(&stubAggregationStore{}, logger)
	job := NewAggregationJob(engine, logger, 0)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Schedule() != time.Hour {
		t.Errorf("expected 1h default interval, got %v", job.Schedule())
	}
}

func TestAggregationJob_SkipsWhenEngineBusy(t *testing.T) {
	logger := observability.NewLogger()
	stub := &stubAggregationStore{block: make(chan struct{})}
	engine := aggregation.New(stub, logger)
	job := NewAggregationJob(engine, logger, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.RunDailyAggregation(context.Background(), nil)
	}()

	deadline := time.After(2 * time.Second)
	for !engine.Status().IsRunning {
		select {
		case <-deadline:
			t.Fatal("engine never entered running state")
		case <-time.After(time.Millisecond):
		}
	}

	// A busy engine is a skip, not a failure.
	if err := job.Run(context.Background()); err != nil {
		t.Errorf("expected nil error while engine busy, got %v", err)
	}

	close(stub.block)
	<-done
}

func TestAggregationJob_SurfacesDateErrors(t *testing.T) {
	logger := observability.NewLogger()
	engine := aggregation.New(&stubAggregationStore{err: errors.New("database gone")}, logger)
	job := NewAggregationJob(engine, logger, 0)

	if err := job.Run(context.Background()); err == nil {
		t.Error("expected error when the date fails to aggregate")
	}
}
