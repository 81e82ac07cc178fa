package store

import (
	"context"
	"fmt"
	"time"
)

// ClickAggregate is one grouped row of the per-day click rollup. Dimension
// values are text with empty-string sentinels for missing dimensions.
type ClickAggregate struct {
	AdvertiserID string `db:"advertiser_id"`
	PublisherID  string `db:"publisher_id"`
	OfferID      string `db:"offer_id"`
	Geo          string `db:"geo"`
	Clicks       int    `db:"clicks"`
	UniqueClicks int    `db:"unique_clicks"`
}

// ConversionAggregate is one grouped row of the per-day conversion rollup.
// Geo is recovered through the attributed click.
type ConversionAggregate struct {
	AdvertiserID        string  `db:"advertiser_id"`
	PublisherID         string  `db:"publisher_id"`
	OfferID             string  `db:"offer_id"`
	Geo                 string  `db:"geo"`
	Conversions         int     `db:"conversions"`
	ApprovedConversions int     `db:"approved_conversions"`
	RejectedConversions int     `db:"rejected_conversions"`
	Leads               int     `db:"leads"`
	Sales               int     `db:"sales"`
	Payout              float64 `db:"payout"`
	Cost                float64 `db:"cost"`
}

const sqlAggregateClicksByDay = `
SELECT COALESCE(o.advertiser_id::text, '') AS advertiser_id,
       COALESCE(c.publisher_id::text, '') AS publisher_id,
       COALESCE(c.offer_id::text, '') AS offer_id,
       COALESCE(c.geo, '') AS geo,
       COUNT(*)::int AS clicks,
       COUNT(DISTINCT c.ip)::int AS unique_clicks
FROM clicks c
LEFT JOIN offers o ON o.id = c.offer_id
WHERE c.created_at >= $1 AND c.created_at < $2
GROUP BY 1, 2, 3, 4
`

// AggregateClicksByDay computes the grouped click counts for one UTC day
// window [start, end).
func (s *Store) AggregateClicksByDay(ctx context.Context, start, end time.Time) ([]ClickAggregate, error) {
	var rows []ClickAggregate
	err := s.db.SelectContext(ctx, &rows, sqlAggregateClicksByDay, start, end)
	if err != nil {
		s.logger.Error(ctx, "failed to aggregate clicks", err)
		return nil, fmt.Errorf("failed to aggregate clicks: %w", err)
	}
	return rows, nil
}

const sqlAggregateConversionsByDay = `
SELECT COALESCE(o.advertiser_id::text, '') AS advertiser_id,
       COALESCE(cv.publisher_id::text, '') AS publisher_id,
       COALESCE(cv.offer_id::text, '') AS offer_id,
       COALESCE(ck.geo, '') AS geo,
       COUNT(*)::int AS conversions,
       COUNT(*) FILTER (WHERE cv.status = 'approved')::int AS approved_conversions,
       COUNT(*) FILTER (WHERE cv.status = 'rejected')::int AS rejected_conversions,
       COUNT(*) FILTER (WHERE cv.type = 'lead')::int AS leads,
       COUNT(*) FILTER (WHERE cv.type = 'sale')::int AS sales,
       COALESCE(SUM(cv.payout), 0) AS payout,
       COALESCE(SUM(cv.cost), 0) AS cost
FROM conversions cv
JOIN clicks ck ON ck.id = cv.click_id
LEFT JOIN offers o ON o.id = cv.offer_id
WHERE cv.created_at >= $1 AND cv.created_at < $2
GROUP BY 1, 2, 3, 4
`

// AggregateConversionsByDay computes the grouped conversion metrics for one
// UTC day window [start, end).
func (s *Store) AggregateConversionsByDay(ctx context.Context, start, end time.Time) ([]ConversionAggregate, error) {
	var rows []ConversionAggregate
	err := s.db.SelectContext(ctx, &rows, sqlAggregateConversionsByDay, start, end)
	if err != nil {
		s.logger.Error(ctx, "failed to aggregate conversions", err)
		return nil, fmt.Errorf("failed to aggregate conversions: %w", err)
	}
	return rows, nil
}

// UpsertDailyStatParams is one merged summary row to upsert
type UpsertDailyStatParams struct {
	Date                time.Time
	AdvertiserID        string
	PublisherID         string
	OfferID             string
	Geo                 string
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

const sqlUpsertDailyStat = `
INSERT INTO daily_stats (stat_date, advertiser_id, publisher_id, offer_id, geo,
                         clicks, unique_clicks, conversions, approved_conversions,
                         rejected_conversions, leads, sales, payout, cost, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, CURRENT_TIMESTAMP)
ON CONFLICT (stat_date, advertiser_id, publisher_id, offer_id, geo)
DO UPDATE SET clicks = EXCLUDED.clicks,
              unique_clicks = EXCLUDED.unique_clicks,
              conversions = EXCLUDED.conversions,
              approved_conversions = EXCLUDED.approved_conversions,
              rejected_conversions = EXCLUDED.rejected_conversions,
              leads = EXCLUDED.leads,
              sales = EXCLUDED.sales,
              payout = EXCLUDED.payout,
              cost = EXCLUDED.cost,
              updated_at = CURRENT_TIMESTAMP
`

// UpsertDailyStat writes one summary row, overwriting all numeric fields on
// conflict so re-aggregating the same day is idempotent.
func (s *Store) UpsertDailyStat(ctx context.Context, params UpsertDailyStatParams) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertDailyStat,
		params.Date,
		params.AdvertiserID,
		params.PublisherID,
		params.OfferID,
		params.Geo,
		params.Clicks,
		params.UniqueClicks,
		params.Conversions,
		params.ApprovedConversions,
		params.RejectedConversions,
		params.Leads,
		params.Sales,
		params.Payout,
		params.Cost)
	if err != nil {
		s.logger.Error(ctx, "failed to upsert daily stat", err)
		return fmt.Errorf("failed to upsert daily stat: %w", err)
	}
	return nil
}

const sqlGetDailyStats = `
SELECT stat_date, advertiser_id, publisher_id, offer_id, geo,
       clicks, unique_clicks, conversions, approved_conversions,
       rejected_conversions, leads, sales, payout, cost, updated_at
FROM daily_stats
WHERE stat_date >= $1 AND stat_date <= $2
ORDER BY stat_date ASC, advertiser_id, publisher_id, offer_id, geo
`

// GetDailyStats retrieves summary rows for an inclusive date range
func (s *Store) GetDailyStats(ctx context.Context, from, to time.Time) ([]DailyStat, error) {
	var stats []DailyStat
	err := s.db.SelectContext(ctx, &stats, sqlGetDailyStats, from, to)
	if err != nil {
		s.logger.Error(ctx, "failed to get daily stats", err)
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	return stats, nil
}
