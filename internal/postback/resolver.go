package postback

import (
	"context"
	"errors"
	"fmt"

	"tracker-server/internal/observability"
	"tracker-server/internal/store"

	"github.com/google/uuid"
)

// TargetKind distinguishes how a target URL is built and who receives it.
type TargetKind string

const (
	// TargetAdvertiser uses a macro template (offer-specific or account-level).
	TargetAdvertiser TargetKind = "advertiser"
	// TargetPublisher uses a flexible endpoint with configurable parameters.
	TargetPublisher TargetKind = "publisher"
	// TargetPublisherLegacy uses the publisher's legacy URL pair with
	// default parameter names.
	TargetPublisherLegacy TargetKind = "publisher_legacy"
)

// Target is one resolved delivery destination for a conversion.
type Target struct {
	Kind        TargetKind
	RecipientID uuid.UUID
	OfferID     uuid.UUID
	URL         string
	Method      string
	Endpoint    *store.PublisherPostbackEndpoint
}

// RecipientType maps the target kind onto the postback log recipient type.
func (t Target) RecipientType() string {
	if t.Kind == TargetAdvertiser {
		return store.RecipientAdvertiser
	}
	return store.RecipientPublisher
}

// ResolverStore is the subset of store operations target resolution needs.
type ResolverStore interface {
	GetOfferByID(ctx context.Context, offerID uuid.UUID) (store.Offer, error)
	GetOfferPostbackSetting(ctx context.Context, offerID uuid.UUID) (store.OfferPostbackSetting, error)
	GetAdvertiserSettings(ctx context.Context, advertiserID uuid.UUID) (store.AdvertiserSettings, error)
	GetPublisherPostbackEndpoints(ctx context.Context, publisherID uuid.UUID) ([]store.PublisherPostbackEndpoint, error)
	GetPublisherSettings(ctx context.Context, publisherID uuid.UUID) (store.PublisherSettings, error)
}

// Resolver expands a conversion into its delivery targets. The advertiser
// and publisher sides are evaluated independently; each may contribute
// targets for the same conversion, and nothing is deduplicated.
type Resolver struct {
	store  ResolverStore
	logger *observability.Logger
}

// NewResolver creates a new Resolver
func NewResolver(resolverStore ResolverStore, logger *observability.Logger) *Resolver {
	return &Resolver{store: resolverStore, logger: logger}
}

// ResolveTargets determines every delivery target for a conversion. Missing
// configuration is not an error: a conversion with no active targets
// resolves to an empty list.
func (r *Resolver) ResolveTargets(ctx context.Context, conversion store.Conversion) ([]Target, error) {
	var targets []Target

	advertiserTarget, err := r.resolveAdvertiserTarget(ctx, conversion)
	if err != nil {
		return nil, err
	}
	if advertiserTarget != nil {
		targets = append(targets, *advertiserTarget)
	}

	publisherTargets, err := r.resolvePublisherTargets(ctx, conversion)
	if err != nil {
		return nil, err
	}
	targets = append(targets, publisherTargets...)

	return targets, nil
}

// resolveAdvertiserTarget produces at most one advertiser target: the
// offer-specific setting wins over the advertiser's account-level URLs, and
// a type-specific account URL wins over the global fallback.
func (r *Resolver) resolveAdvertiserTarget(ctx context.Context, conversion store.Conversion) (*Target, error) {
	setting, err := r.store.GetOfferPostbackSetting(ctx, conversion.OfferID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to resolve offer postback setting: %w", err)
	}
	if err == nil && setting.Active && setting.URL != "" {
		if !offerSettingAllows(setting, conversion) {
			// An active offer-specific rule that filters this event out
			// suppresses the advertiser notification entirely.
			return nil, nil
		}
		offer, err := r.store.GetOfferByID(ctx, conversion.OfferID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve offer: %w", err)
		}
		return &Target{
			Kind:        TargetAdvertiser,
			RecipientID: offer.AdvertiserID,
			OfferID:     conversion.OfferID,
			URL:         setting.URL,
			Method:      methodOrDefault(setting.Method),
		}, nil
	}

	offer, err := r.store.GetOfferByID(ctx, conversion.OfferID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve offer: %w", err)
	}

	settings, err := r.store.GetAdvertiserSettings(ctx, offer.AdvertiserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve advertiser settings: %w", err)
	}

	url, method := advertiserURLForType(settings, conversion.Type)
	if url == "" {
		return nil, nil
	}
	return &Target{
		Kind:        TargetAdvertiser,
		RecipientID: offer.AdvertiserID,
		OfferID:     conversion.OfferID,
		URL:         url,
		Method:      methodOrDefault(method),
	}, nil
}

// resolvePublisherTargets enumerates the publisher's flexible endpoints; if
// none match it falls back to the legacy URL pair as one synthetic target.
func (r *Resolver) resolvePublisherTargets(ctx context.Context, conversion store.Conversion) ([]Target, error) {
	endpoints, err := r.store.GetPublisherPostbackEndpoints(ctx, conversion.PublisherID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve publisher endpoints: %w", err)
	}

	var targets []Target
	for i := range endpoints {
		ep := endpoints[i]
		if !endpointMatches(ep, conversion) {
			continue
		}
		targets = append(targets, Target{
			Kind:        TargetPublisher,
			RecipientID: conversion.PublisherID,
			OfferID:     conversion.OfferID,
			URL:         ep.URL,
			Method:      "GET",
			Endpoint:    &ep,
		})
	}
	if len(targets) > 0 {
		return targets, nil
	}

	settings, err := r.store.GetPublisherSettings(ctx, conversion.PublisherID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve publisher settings: %w", err)
	}

	url := legacyPublisherURL(settings, conversion.Type)
	if url == "" {
		return nil, nil
	}
	return []Target{{
		Kind:        TargetPublisherLegacy,
		RecipientID: conversion.PublisherID,
		OfferID:     conversion.OfferID,
		URL:         url,
		Method:      "GET",
	}}, nil
}

// offerSettingAllows checks the setting's per-event flags against the
// conversion. Rejected conversions are gated by send_on_rejected; otherwise
// the conversion type picks the flag.
func offerSettingAllows(setting store.OfferPostbackSetting, conversion store.Conversion) bool {
	if conversion.Status == store.ConversionStatusRejected {
		return setting.SendOnRejected
	}
	switch conversion.Type {
	case store.ConversionTypeLead:
		return setting.SendOnLead
	case store.ConversionTypeSale:
		return setting.SendOnSale
	default:
		return false
	}
}

func advertiserURLForType(settings store.AdvertiserSettings, conversionType string) (string, string) {
	switch conversionType {
	case store.ConversionTypeLead:
		if settings.LeadPostbackURL != nil && *settings.LeadPostbackURL != "" {
			return *settings.LeadPostbackURL, settings.LeadPostbackMethod
		}
	case store.ConversionTypeSale:
		if settings.SalePostbackURL != nil && *settings.SalePostbackURL != "" {
			return *settings.SalePostbackURL, settings.SalePostbackMethod
		}
	}
	if settings.PostbackURL != nil && *settings.PostbackURL != "" {
		return *settings.PostbackURL, settings.PostbackMethod
	}
	return "", ""
}

// endpointMatches applies the flexible-endpoint filters: active, offer
// scope (NULL means all offers), and the event-type filter list.
func endpointMatches(ep store.PublisherPostbackEndpoint, conversion store.Conversion) bool {
	if !ep.Active || ep.URL == "" {
		return false
	}
	if ep.OfferID != nil && *ep.OfferID != conversion.OfferID {
		return false
	}
	if len(ep.StatusFilter) == 0 {
		return true
	}
	for _, t := range ep.StatusFilter {
		if t == conversion.Type {
			return true
		}
	}
	return false
}

func legacyPublisherURL(settings store.PublisherSettings, conversionType string) string {
	switch conversionType {
	case store.ConversionTypeLead:
		if settings.LeadPostbackURL != nil {
			return *settings.LeadPostbackURL
		}
	case store.ConversionTypeSale:
		if settings.SalePostbackURL != nil {
			return *settings.SalePostbackURL
		}
	}
	return ""
}

func methodOrDefault(method string) string {
	if method == "" {
		return "GET"
	}
	return method
}
