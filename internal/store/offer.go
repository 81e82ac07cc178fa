package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sqlGetOfferByID = `
SELECT id, advertiser_id, name, payout_model, hold_period_days, daily_cap, monthly_cap, created_at
FROM offers
WHERE id = $1
`

// GetOfferByID retrieves an offer by ID
func (s *Store) GetOfferByID(ctx context.Context, offerID uuid.UUID) (Offer, error) {
	var offer Offer
	err := s.db.GetContext(ctx, &offer, sqlGetOfferByID, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get offer", err)
		return Offer{}, fmt.Errorf("failed to get offer: %w", err)
	}
	return offer, nil
}

const sqlGetOfferPostbackSetting = `
SELECT id, offer_id, url, method, active, send_on_lead, send_on_sale, send_on_rejected, created_at
FROM offer_postback_settings
WHERE offer_id = $1
`

// GetOfferPostbackSetting retrieves the offer-specific postback setting,
// or ErrNotFound when the offer has none.
func (s *Store) GetOfferPostbackSetting(ctx context.Context, offerID uuid.UUID) (OfferPostbackSetting, error) {
	var setting OfferPostbackSetting
	err := s.db.GetContext(ctx, &setting, sqlGetOfferPostbackSetting, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OfferPostbackSetting{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get offer postback setting", err)
		return OfferPostbackSetting{}, fmt.Errorf("failed to get offer postback setting: %w", err)
	}
	return setting, nil
}

// OfferCapsResult is the live cap computation for an offer. Counts are
// computed against raw conversion rows, never against a stored counter.
type OfferCapsResult struct {
	Offer             Offer `json:"offer"`
	DailyCount        int   `json:"daily_count"`
	MonthlyCount      int   `json:"monthly_count"`
	DailyCapReached   bool  `json:"daily_cap_reached"`
	MonthlyCapReached bool  `json:"monthly_cap_reached"`
}

const sqlCountOfferConversions = `
SELECT COUNT(*) FILTER (WHERE created_at >= $2)::int AS daily_count,
       COUNT(*) FILTER (WHERE created_at >= $3)::int AS monthly_count
FROM conversions
WHERE offer_id = $1 AND status != 'rejected'
`

type offerConversionCounts struct {
	DailyCount   int `db:"daily_count"`
	MonthlyCount int `db:"monthly_count"`
}

// CheckOfferCaps computes the offer's live conversion counts since UTC
// midnight and since the start of the UTC month against its configured caps.
func (s *Store) CheckOfferCaps(ctx context.Context, offerID uuid.UUID) (OfferCapsResult, error) {
	offer, err := s.GetOfferByID(ctx, offerID)
	if err != nil {
		return OfferCapsResult{}, err
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var counts offerConversionCounts
	err = s.db.GetContext(ctx, &counts, sqlCountOfferConversions, offerID, dayStart, monthStart)
	if err != nil {
		s.logger.Error(ctx, "failed to count offer conversions", err)
		return OfferCapsResult{}, fmt.Errorf("failed to count offer conversions: %w", err)
	}

	result := OfferCapsResult{
		Offer:        offer,
		DailyCount:   counts.DailyCount,
		MonthlyCount: counts.MonthlyCount,
	}
	if offer.DailyCap != nil && counts.DailyCount >= *offer.DailyCap {
		result.DailyCapReached = true
	}
	if offer.MonthlyCap != nil && counts.MonthlyCount >= *offer.MonthlyCap {
		result.MonthlyCapReached = true
	}
	return result, nil
}
