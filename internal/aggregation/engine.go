package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tracker-server/internal/observability"
	"tracker-server/internal/store"
)

// ErrAlreadyRunning is returned when an aggregation run is requested while
// another is still in flight. The caller gets it immediately; runs are
// never queued.
var ErrAlreadyRunning = errors.New("aggregation already in progress")

// Store defines the store operations the aggregation engine needs.
type Store interface {
	AggregateClicksByDay(ctx context.Context, start, end time.Time) ([]store.ClickAggregate, error)
	AggregateConversionsByDay(ctx context.Context, start, end time.Time) ([]store.ConversionAggregate, error)
	UpsertDailyStat(ctx context.Context, params store.UpsertDailyStatParams) error
}

// Result describes one aggregation run.
type Result struct {
	ProcessedDates []string `json:"processed_dates"`
	RowsUpserted   int      `json:"rows_upserted"`
	Errors         []string `json:"errors"`
}

// Status is the engine's operational state for tooling.
type Status struct {
	IsRunning bool       `json:"is_running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
}

// Engine recomputes per-day summary rows from raw click/conversion data.
// It holds its own single-flight state; construct one per process and pass
// it wherever status is needed.
type Engine struct {
	store  Store
	logger *observability.Logger

	mu      sync.Mutex
	running bool
	lastRun *time.Time
}

// New creates a new aggregation Engine
func New(aggregationStore Store, logger *observability.Logger) *Engine {
	return &Engine{store: aggregationStore, logger: logger}
}

// RunDailyAggregation recomputes the summary rows for one UTC date.
// A nil date means yesterday. Returns ErrAlreadyRunning if another run is
// in flight.
func (e *Engine) RunDailyAggregation(ctx context.Context, date *time.Time) (Result, error) {
	if !e.tryStart() {
		return Result{}, ErrAlreadyRunning
	}
	defer e.finish()

	target := yesterdayUTC()
	if date != nil {
		target = dayUTC(*date)
	}

	result := Result{Errors: []string{}}
	e.aggregateDate(ctx, target, &result)
	return result, nil
}

// Backfill re-aggregates every date in [startDate, endDate] inclusive,
// day by day. A failing date is recorded in the result's errors and does
// not abort the remaining dates.
func (e *Engine) Backfill(ctx context.Context, startDate, endDate time.Time) (Result, error) {
	if !e.tryStart() {
		return Result{}, ErrAlreadyRunning
	}
	defer e.finish()

	start := dayUTC(startDate)
	end := dayUTC(endDate)
	if end.Before(start) {
		return Result{}, fmt.Errorf("end date %s before start date %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	result := Result{Errors: []string{}}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		e.aggregateDate(ctx, d, &result)
	}
	return result, nil
}

// Status reports whether a run is in flight and when the last one finished.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{IsRunning: e.running, LastRun: e.lastRun}
}

func (e *Engine) tryStart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	return true
}

func (e *Engine) finish() {
	now := time.Now().UTC()
	e.mu.Lock()
	e.running = false
	e.lastRun = &now
	e.mu.Unlock()
}

// aggregateDate runs the merge-and-upsert routine for one UTC day and
// folds the outcome into the result.
func (e *Engine) aggregateDate(ctx context.Context, day time.Time, result *Result) {
	dateStr := day.Format("2006-01-02")
	ctx = observability.WithFields(ctx, observability.Field{Key: "stat_date", Value: dateStr})

	rows, err := e.aggregateOneDay(ctx, day)
	if err != nil {
		e.logger.Error(ctx, "failed to aggregate date", err)
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", dateStr, err))
		return
	}

	result.ProcessedDates = append(result.ProcessedDates, dateStr)
	result.RowsUpserted += rows
	e.logger.Info(ctx, fmt.Sprintf("aggregated %s: %d rows upserted", dateStr, rows))
}

// statKey is the five-part summary key minus the date. Dimension values
// use empty-string sentinels so the key is always fully defined.
type statKey struct {
	AdvertiserID string
	PublisherID  string
	OfferID      string
	Geo          string
}

func (e *Engine) aggregateOneDay(ctx context.Context, day time.Time) (int, error) {
	start := day
	end := day.AddDate(0, 0, 1)

	clickRows, err := e.store.AggregateClicksByDay(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("click aggregate: %w", err)
	}
	conversionRows, err := e.store.AggregateConversionsByDay(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("conversion aggregate: %w", err)
	}

	merged := mergeAggregates(clickRows, conversionRows)

	upserted := 0
	for key, row := range merged {
		params := store.UpsertDailyStatParams{
			Date:                day,
			AdvertiserID:        key.AdvertiserID,
			PublisherID:         key.PublisherID,
			OfferID:             key.OfferID,
			Geo:                 key.Geo,
			Clicks:              row.Clicks,
			UniqueClicks:        row.UniqueClicks,
			Conversions:         row.Conversions,
			ApprovedConversions: row.ApprovedConversions,
			RejectedConversions: row.RejectedConversions,
			Leads:               row.Leads,
			Sales:               row.Sales,
			Payout:              row.Payout,
			Cost:                row.Cost,
		}
		if err := e.store.UpsertDailyStat(ctx, params); err != nil {
			return upserted, fmt.Errorf("upsert %v: %w", key, err)
		}
		upserted++
	}
	return upserted, nil
}

// mergedRow carries the combined metrics for one key.
type mergedRow struct {
	Clicks              int
	UniqueClicks        int
	Conversions         int
	ApprovedConversions int
	RejectedConversions int
	Leads               int
	Sales               int
	Payout              float64
	Cost                float64
}

// mergeAggregates joins the click and conversion aggregates on the exact
// key. A key present on only one side still produces a row with the other
// side's fields zero; a key present on both takes clicks from the click
// side and conversion metrics from the conversion side as a full
// overwrite (both aggregates already scope to the same day).
func mergeAggregates(clicks []store.ClickAggregate, conversions []store.ConversionAggregate) map[statKey]mergedRow {
	merged := make(map[statKey]mergedRow, len(clicks)+len(conversions))

	for _, row := range clicks {
		key := statKey{row.AdvertiserID, row.PublisherID, row.OfferID, row.Geo}
		m := merged[key]
		m.Clicks = row.Clicks
		m.UniqueClicks = row.UniqueClicks
		merged[key] = m
	}

	for _, row := range conversions {
		key := statKey{row.AdvertiserID, row.PublisherID, row.OfferID, row.Geo}
		m := merged[key]
		m.Conversions = row.Conversions
		m.ApprovedConversions = row.ApprovedConversions
		m.RejectedConversions = row.RejectedConversions
		m.Leads = row.Leads
		m.Sales = row.Sales
		m.Payout = row.Payout
		m.Cost = row.Cost
		merged[key] = m
	}

	return merged
}

func dayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func yesterdayUTC() time.Time {
	return dayUTC(time.Now().UTC().AddDate(0, 0, -1))
}
