package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const sqlGetConversionByID = `
SELECT id, click_id, offer_id, publisher_id, type, status, payout, cost,
       currency, tx_sum, external_id, created_at, approved_at
FROM conversions
WHERE id = $1
`

// GetConversionByID retrieves a conversion by ID
func (s *Store) GetConversionByID(ctx context.Context, conversionID uuid.UUID) (Conversion, error) {
	var conversion Conversion
	err := s.db.GetContext(ctx, &conversion, sqlGetConversionByID, conversionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversion{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get conversion", err)
		return Conversion{}, fmt.Errorf("failed to get conversion: %w", err)
	}
	return conversion, nil
}

// The status guard in the WHERE clause makes the release transition safe
// under overlapping scheduler runs: a row already moved to approved cannot
// match a second time.
const sqlProcessHoldConversions = `
UPDATE conversions cv
SET status = 'approved',
    approved_at = CURRENT_TIMESTAMP
FROM offers o
WHERE o.id = cv.offer_id
  AND cv.status = 'hold'
  AND cv.created_at + make_interval(days => o.hold_period_days) <= CURRENT_TIMESTAMP
RETURNING cv.id
`

// ProcessHoldConversions transitions conversions whose hold window has
// elapsed from hold to approved, returning the ids that changed.
func (s *Store) ProcessHoldConversions(ctx context.Context) ([]uuid.UUID, error) {
	var released []uuid.UUID
	err := s.db.SelectContext(ctx, &released, sqlProcessHoldConversions)
	if err != nil {
		s.logger.Error(ctx, "failed to process hold conversions", err)
		return nil, fmt.Errorf("failed to process hold conversions: %w", err)
	}
	return released, nil
}
