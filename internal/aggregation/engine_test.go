package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"tracker-server/internal/observability"
	"tracker-server/internal/store"
)

// mockAggregationStore serves canned aggregate rows and records upserts.
type mockAggregationStore struct {
	clicks      []store.ClickAggregate
	conversions []store.ConversionAggregate

	clickErr error
	upserted []store.UpsertDailyStatParams

	// block, when set, holds AggregateClicksByDay until released. Used to
	// pin the engine in a running state.
	block chan struct{}
}

func (m *mockAggregationStore) AggregateClicksByDay(ctx context.Context, start, end time.Time) ([]store.ClickAggregate, error) {
	if m.block != nil {
		<-m.block
	}
	if m.clickErr != nil {
		return nil, m.clickErr
	}
	return m.clicks, nil
}

func (m *mockAggregationStore) AggregateConversionsByDay(ctx context.Context, start, end time.Time) ([]store.ConversionAggregate, error) {
	return m.conversions, nil
}

func (m *mockAggregationStore) UpsertDailyStat(ctx context.Context, params store.UpsertDailyStatParams) error {
	m.upserted = append(m.upserted, params)
	return nil
}

func TestRunDailyAggregation_MergesClickAndConversionSides(t *testing.T) {
	mock := &mockAggregationStore{
		clicks: []store.ClickAggregate{
			{AdvertiserID: "adv1", PublisherID: "pub1", OfferID: "off1", Geo: "DE", Clicks: 10, UniqueClicks: 8},
			{AdvertiserID: "adv1", PublisherID: "pub2", OfferID: "off1", Geo: "", Clicks: 4, UniqueClicks: 4},
		},
		conversions: []store.ConversionAggregate{
			{AdvertiserID: "adv1", PublisherID: "pub1", OfferID: "off1", Geo: "DE", Conversions: 3, ApprovedConversions: 2, Leads: 3, Payout: 30, Cost: 24},
			{AdvertiserID: "adv1", PublisherID: "pub3", OfferID: "off1", Geo: "US", Conversions: 1, Sales: 1, Payout: 50, Cost: 40},
		},
	}
	engine := New(mock, observability.NewLogger())

	date := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	result, err := engine.RunDailyAggregation(context.Background(), &date)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.RowsUpserted != 3 {
		t.Fatalf("expected 3 rows upserted, got %d", result.RowsUpserted)
	}
	if len(result.ProcessedDates) != 1 || result.ProcessedDates[0] != "2026-08-20" {
		t.Errorf("expected processed date 2026-08-20, got %v", result.ProcessedDates)
	}

	byKey := make(map[string]store.UpsertDailyStatParams)
	for _, p := range mock.upserted {
		byKey[p.PublisherID+"/"+p.Geo] = p
		if !p.Date.Equal(date) {
			t.Errorf("expected stat date %v, got %v", date, p.Date)
		}
	}

	both := byKey["pub1/DE"]
	if both.Clicks != 10 || both.UniqueClicks != 8 || both.Conversions != 3 || both.Leads != 3 || both.Payout != 30 {
		t.Errorf("merged row wrong: %+v", both)
	}
	clicksOnly := byKey["pub2/"]
	if clicksOnly.Clicks != 4 || clicksOnly.Conversions != 0 {
		t.Errorf("click-only row wrong: %+v", clicksOnly)
	}
	convOnly := byKey["pub3/US"]
	if convOnly.Clicks != 0 || convOnly.Sales != 1 || convOnly.Payout != 50 {
		t.Errorf("conversion-only row wrong: %+v", convOnly)
	}
}

func TestRunDailyAggregation_DefaultsToYesterday(t *testing.T) {
	mock := &mockAggregationStore{
		clicks: []store.ClickAggregate{
			{AdvertiserID: "adv1", PublisherID: "pub1", OfferID: "off1", Clicks: 1, UniqueClicks: 1},
		},
	}
	engine := New(mock, observability.NewLogger())

	result, err := engine.RunDailyAggregation(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	if len(result.ProcessedDates) != 1 || result.ProcessedDates[0] != yesterday {
		t.Errorf("expected yesterday %s, got %v", yesterday, result.ProcessedDates)
	}
}

func TestRunDailyAggregation_SingleFlight(t *testing.T) {
	mock := &mockAggregationStore{block: make(chan struct{})}
	engine := New(mock, observability.NewLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		date := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
		_, _ = engine.RunDailyAggregation(context.Background(), &date)
	}()

	// Wait for the first run to take the running flag.
	deadline := time.After(2 * time.Second)
	for {
		if engine.Status().IsRunning {
			break
		}
		select {
		case <-deadline:
			t.Fatal("engine never entered running state")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := engine.RunDailyAggregation(context.Background(), nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if _, err := engine.Backfill(context.Background(), time.Now(), time.Now()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning from backfill, got %v", err)
	}

	close(mock.block)
	<-done

	status := engine.Status()
	if status.IsRunning {
		t.Error("engine should be idle after run completes")
	}
	if status.LastRun == nil {
		t.Error("expected last run recorded")
	}
}

func TestBackfill_PerDateErrorsAreIsolated(t *testing.T) {
	mock := &mockAggregationStore{
		clicks: []store.ClickAggregate{
			{AdvertiserID: "adv1", PublisherID: "pub1", OfferID: "off1", Clicks: 2, UniqueClicks: 2},
		},
	}
	engine := New(mock, observability.NewLogger())

	start := time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	result, err := engine.Backfill(context.Background(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.ProcessedDates) != 3 {
		t.Errorf("expected 3 dates processed, got %v", result.ProcessedDates)
	}
	if result.RowsUpserted != 3 {
		t.Errorf("expected 3 rows upserted, got %d", result.RowsUpserted)
	}

	// A failing store turns per-date errors into result entries, not an
	// aborted run.
	mock.clickErr = errors.New("database gone")
	result, err = engine.Backfill(context.Background(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Errors) != 3 {
		t.Errorf("expected 3 per-date errors, got %v", result.Errors)
	}
	if len(result.ProcessedDates) != 0 {
		t.Errorf("expected no processed dates, got %v", result.ProcessedDates)
	}
}

func TestBackfill_RejectsInvertedRange(t *testing.T) {
	engine := New(&mockAggregationStore{}, observability.NewLogger())

	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC)
	if _, err := engine.Backfill(context.Background(), start, end); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestRunDailyAggregation_Idempotent(t *testing.T) {
	mock := &mockAggregationStore{
		clicks: []store.ClickAggregate{
			{AdvertiserID: "adv1", PublisherID: "pub1", OfferID: "off1", Geo: "DE", Clicks: 5, UniqueClicks: 5},
		},
		conversions: []store.ConversionAggregate{
			{AdvertiserID: "adv1", PublisherID: "pub1", OfferID: "off1", Geo: "DE", Conversions: 2, Leads: 2, Payout: 20, Cost: 16},
		},
	}
	engine := New(mock, observability.NewLogger())
	date := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if _, err := engine.RunDailyAggregation(context.Background(), &date); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
	}

	if len(mock.upserted) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(mock.upserted))
	}
	if mock.upserted[0] != mock.upserted[1] {
		t.Errorf("re-running the same date must upsert identical rows:\n%+v\n%+v", mock.upserted[0], mock.upserted[1])
	}
}
