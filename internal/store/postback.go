package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreatePostbackLogParams represents parameters for one delivery attempt record
type CreatePostbackLogParams struct {
	ConversionID   uuid.UUID
	URL            string
	Method         string
	ResponseStatus *int
	ResponseBody   *string
	DurationMs     *int
	Success        bool
	RetryCount     int
	RecipientType  string
	RecipientID    uuid.UUID
}

const sqlCreatePostbackLog = `
INSERT INTO postback_logs (conversion_id, direction, url, method, response_status, response_body, duration_ms, success, retry_count, recipient_type, recipient_id)
VALUES ($1, 'outbound', $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, conversion_id, direction, url, method, response_status, response_body, duration_ms, success, retry_count, recipient_type, recipient_id, created_at
`

// CreatePostbackLog appends one delivery attempt audit record. Rows are
// never mutated after insert.
func (s *Store) CreatePostbackLog(ctx context.Context, params CreatePostbackLogParams) (PostbackLog, error) {
	var log PostbackLog
	err := s.db.GetContext(ctx, &log, sqlCreatePostbackLog,
		params.ConversionID,
		params.URL,
		params.Method,
		params.ResponseStatus,
		params.ResponseBody,
		params.DurationMs,
		params.Success,
		params.RetryCount,
		params.RecipientType,
		params.RecipientID)
	if err != nil {
		s.logger.Error(ctx, "failed to create postback log", err)
		return PostbackLog{}, fmt.Errorf("failed to create postback log: %w", err)
	}
	return log, nil
}

const sqlGetPostbackLogsByConversion = `
SELECT id, conversion_id, direction, url, method, response_status, response_body, duration_ms, success, retry_count, recipient_type, recipient_id, created_at
FROM postback_logs
WHERE conversion_id = $1
ORDER BY created_at ASC
`

// GetPostbackLogsByConversion retrieves the delivery history for a conversion
func (s *Store) GetPostbackLogsByConversion(ctx context.Context, conversionID uuid.UUID) ([]PostbackLog, error) {
	var logs []PostbackLog
	err := s.db.SelectContext(ctx, &logs, sqlGetPostbackLogsByConversion, conversionID)
	if err != nil {
		s.logger.Error(ctx, "failed to get postback logs", err)
		return nil, fmt.Errorf("failed to get postback logs: %w", err)
	}
	return logs, nil
}

// CreatePostbackDeliveryParams represents parameters for a durable delivery row
type CreatePostbackDeliveryParams struct {
	ConversionID  uuid.UUID
	RecipientType string
	RecipientID   uuid.UUID
	OfferID       uuid.UUID
	URL           string
	Method        string
}

const sqlCreatePostbackDelivery = `
INSERT INTO postback_deliveries (conversion_id, recipient_type, recipient_id, offer_id, url, method, status, attempt_number)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0)
RETURNING id, conversion_id, recipient_type, recipient_id, offer_id, url, method, status, attempt_number, next_retry_at, last_error, created_at, delivered_at
`

// CreatePostbackDelivery creates the durable delivery state for one target
func (s *Store) CreatePostbackDelivery(ctx context.Context, params CreatePostbackDeliveryParams) (PostbackDelivery, error) {
	var delivery PostbackDelivery
	err := s.db.GetContext(ctx, &delivery, sqlCreatePostbackDelivery,
		params.ConversionID,
		params.RecipientType,
		params.RecipientID,
		params.OfferID,
		params.URL,
		params.Method)
	if err != nil {
		s.logger.Error(ctx, "failed to create postback delivery", err)
		return PostbackDelivery{}, fmt.Errorf("failed to create postback delivery: %w", err)
	}
	return delivery, nil
}

const sqlGetDuePostbackDeliveries = `
SELECT id, conversion_id, recipient_type, recipient_id, offer_id, url, method, status, attempt_number, next_retry_at, last_error, created_at, delivered_at
FROM postback_deliveries
WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= CURRENT_TIMESTAMP
ORDER BY next_retry_at ASC
LIMIT $1
`

// GetDuePostbackDeliveries retrieves pending deliveries whose retry time has
// passed. In-flight first attempts have a NULL next_retry_at and never match.
func (s *Store) GetDuePostbackDeliveries(ctx context.Context, limit int) ([]PostbackDelivery, error) {
	var deliveries []PostbackDelivery
	err := s.db.SelectContext(ctx, &deliveries, sqlGetDuePostbackDeliveries, limit)
	if err != nil {
		s.logger.Error(ctx, "failed to get due postback deliveries", err)
		return nil, fmt.Errorf("failed to get due postback deliveries: %w", err)
	}
	return deliveries, nil
}

const sqlGetPendingPostbackDeliveriesByConversion = `
SELECT id, conversion_id, recipient_type, recipient_id, offer_id, url, method, status, attempt_number, next_retry_at, last_error, created_at, delivered_at
FROM postback_deliveries
WHERE conversion_id = $1 AND status = 'pending' AND next_retry_at IS NOT NULL
ORDER BY created_at ASC
`

// GetPendingPostbackDeliveriesByConversion retrieves a conversion's deliveries
// that are waiting on a scheduled retry, regardless of due time.
func (s *Store) GetPendingPostbackDeliveriesByConversion(ctx context.Context, conversionID uuid.UUID) ([]PostbackDelivery, error) {
	var deliveries []PostbackDelivery
	err := s.db.SelectContext(ctx, &deliveries, sqlGetPendingPostbackDeliveriesByConversion, conversionID)
	if err != nil {
		s.logger.Error(ctx, "failed to get pending postback deliveries", err)
		return nil, fmt.Errorf("failed to get pending postback deliveries: %w", err)
	}
	return deliveries, nil
}

// MarkPostbackDeliveryResultParams finalizes a delivery row
type MarkPostbackDeliveryResultParams struct {
	Status        string
	AttemptNumber int
	LastError     *string
}

const sqlMarkPostbackDeliveryResult = `
UPDATE postback_deliveries
SET status = $2,
    attempt_number = $3,
    last_error = $4,
    next_retry_at = NULL,
    delivered_at = CASE WHEN $2 = 'success' THEN CURRENT_TIMESTAMP ELSE delivered_at END
WHERE id = $1
`

// MarkPostbackDeliveryResult records a terminal delivery outcome
// (success or abandoned).
func (s *Store) MarkPostbackDeliveryResult(ctx context.Context, deliveryID uuid.UUID, params MarkPostbackDeliveryResultParams) error {
	res, err := s.db.ExecContext(ctx, sqlMarkPostbackDeliveryResult,
		deliveryID,
		params.Status,
		params.AttemptNumber,
		params.LastError)
	if err != nil {
		s.logger.Error(ctx, "failed to mark postback delivery result", err)
		return fmt.Errorf("failed to mark postback delivery result: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const sqlSchedulePostbackRetry = `
UPDATE postback_deliveries
SET status = 'pending',
    attempt_number = $2,
    next_retry_at = $3,
    last_error = $4
WHERE id = $1
`

// SchedulePostbackRetry records a failed attempt and sets when the retry
// worker should pick the delivery up again.
func (s *Store) SchedulePostbackRetry(ctx context.Context, deliveryID uuid.UUID, attemptNumber int, nextRetryAt time.Time, lastError *string) error {
	_, err := s.db.ExecContext(ctx, sqlSchedulePostbackRetry, deliveryID, attemptNumber, nextRetryAt, lastError)
	if err != nil {
		s.logger.Error(ctx, "failed to schedule postback retry", err)
		return fmt.Errorf("failed to schedule postback retry: %w", err)
	}
	return nil
}

const sqlGetPostbackDeliveryByID = `
SELECT id, conversion_id, recipient_type, recipient_id, offer_id, url, method, status, attempt_number, next_retry_at, last_error, created_at, delivered_at
FROM postback_deliveries
WHERE id = $1
`

// GetPostbackDeliveryByID retrieves a delivery row by ID
func (s *Store) GetPostbackDeliveryByID(ctx context.Context, deliveryID uuid.UUID) (PostbackDelivery, error) {
	var delivery PostbackDelivery
	err := s.db.GetContext(ctx, &delivery, sqlGetPostbackDeliveryByID, deliveryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PostbackDelivery{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get postback delivery", err)
		return PostbackDelivery{}, fmt.Errorf("failed to get postback delivery: %w", err)
	}
	return delivery, nil
}
