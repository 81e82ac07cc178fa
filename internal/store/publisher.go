package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const sqlGetAdvertiserSettings = `
SELECT advertiser_id, lead_postback_url, lead_postback_method,
       sale_postback_url, sale_postback_method, postback_url, postback_method
FROM advertiser_settings
WHERE advertiser_id = $1
`

// GetAdvertiserSettings retrieves the advertiser's account-level postback
// configuration, or ErrNotFound when none exists.
func (s *Store) GetAdvertiserSettings(ctx context.Context, advertiserID uuid.UUID) (AdvertiserSettings, error) {
	var settings AdvertiserSettings
	err := s.db.GetContext(ctx, &settings, sqlGetAdvertiserSettings, advertiserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AdvertiserSettings{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get advertiser settings", err)
		return AdvertiserSettings{}, fmt.Errorf("failed to get advertiser settings: %w", err)
	}
	return settings, nil
}

const sqlGetPublisherPostbackEndpoints = `
SELECT id, publisher_id, offer_id, url, active, tracker_type,
       click_id_param, status_param, payout_param, currency_param,
       status_filter, status_map, created_at
FROM publisher_postback_endpoints
WHERE publisher_id = $1
ORDER BY created_at ASC
`

// GetPublisherPostbackEndpoints retrieves all configured postback endpoints
// for a publisher, including inactive ones (filtering is resolver business).
func (s *Store) GetPublisherPostbackEndpoints(ctx context.Context, publisherID uuid.UUID) ([]PublisherPostbackEndpoint, error) {
	var endpoints []PublisherPostbackEndpoint
	err := s.db.SelectContext(ctx, &endpoints, sqlGetPublisherPostbackEndpoints, publisherID)
	if err != nil {
		s.logger.Error(ctx, "failed to get publisher postback endpoints", err)
		return nil, fmt.Errorf("failed to get publisher postback endpoints: %w", err)
	}
	return endpoints, nil
}

const sqlGetPublisherSettings = `
SELECT publisher_id, lead_postback_url, sale_postback_url
FROM publisher_settings
WHERE publisher_id = $1
`

// GetPublisherSettings retrieves the publisher's legacy postback URL pair,
// or ErrNotFound when none exists.
func (s *Store) GetPublisherSettings(ctx context.Context, publisherID uuid.UUID) (PublisherSettings, error) {
	var settings PublisherSettings
	err := s.db.GetContext(ctx, &settings, sqlGetPublisherSettings, publisherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PublisherSettings{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get publisher settings", err)
		return PublisherSettings{}, fmt.Errorf("failed to get publisher settings: %w", err)
	}
	return settings, nil
}
