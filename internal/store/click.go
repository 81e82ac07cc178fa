package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const sqlGetClickByID = `
SELECT id, offer_id, publisher_id, landing_id, geo, ip, device, os, browser,
       sub1, sub2, sub3, sub4, sub5, sub6, sub7, sub8, sub9, sub10,
       is_unique, fraud_action, fraud_reason, created_at
FROM clicks
WHERE id = $1
`

// GetClickByID retrieves a click by ID
func (s *Store) GetClickByID(ctx context.Context, clickID uuid.UUID) (Click, error) {
	var click Click
	err := s.db.GetContext(ctx, &click, sqlGetClickByID, clickID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Click{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get click", err)
		return Click{}, fmt.Errorf("failed to get click: %w", err)
	}
	return click, nil
}
