package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversion types
const (
	ConversionTypeLead = "lead"
	ConversionTypeSale = "sale"
)

// Conversion statuses
const (
	ConversionStatusPending  = "pending"
	ConversionStatusHold     = "hold"
	ConversionStatusApproved = "approved"
	ConversionStatusRejected = "rejected"
)

// Postback recipient types
const (
	RecipientAdvertiser = "advertiser"
	RecipientPublisher  = "publisher"
)

// Postback delivery statuses
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusSuccess   = "success"
	DeliveryStatusAbandoned = "abandoned"
)

// Antifraud action recorded on a click by the tracking ingress. Anything
// other than "allow" marks the click as suspicious.
const FraudActionAllow = "allow"

// Click represents a single tracked ad-click redirect. Clicks are written
// by the tracking ingress and are read-only here.
type Click struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OfferID     uuid.UUID  `db:"offer_id" json:"offer_id"`
	PublisherID uuid.UUID  `db:"publisher_id" json:"publisher_id"`
	LandingID   *uuid.UUID `db:"landing_id" json:"landing_id,omitempty"`
	Geo         *string    `db:"geo" json:"geo,omitempty"`
	IP          *string    `db:"ip" json:"ip,omitempty"`
	Device      *string    `db:"device" json:"device,omitempty"`
	OS          *string    `db:"os" json:"os,omitempty"`
	Browser     *string    `db:"browser" json:"browser,omitempty"`
	Sub1        *string    `db:"sub1" json:"sub1,omitempty"`
	Sub2        *string    `db:"sub2" json:"sub2,omitempty"`
	Sub3        *string    `db:"sub3" json:"sub3,omitempty"`
	Sub4        *string    `db:"sub4" json:"sub4,omitempty"`
	Sub5        *string    `db:"sub5" json:"sub5,omitempty"`
	Sub6        *string    `db:"sub6" json:"sub6,omitempty"`
	Sub7        *string    `db:"sub7" json:"sub7,omitempty"`
	Sub8        *string    `db:"sub8" json:"sub8,omitempty"`
	Sub9        *string    `db:"sub9" json:"sub9,omitempty"`
	Sub10       *string    `db:"sub10" json:"sub10,omitempty"`
	IsUnique    bool       `db:"is_unique" json:"is_unique"`
	FraudAction *string    `db:"fraud_action" json:"fraud_action,omitempty"`
	FraudReason *string    `db:"fraud_reason" json:"fraud_reason,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Suspicious reports whether the antifraud classification flagged the click.
func (c *Click) Suspicious() bool {
	return c.FraudAction != nil && *c.FraudAction != "" && *c.FraudAction != FraudActionAllow
}

// Conversion represents a lead or sale attributed to exactly one Click.
// PublisherID and OfferID are denormalized from the Click for query
// convenience and must stay consistent with it.
type Conversion struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ClickID     uuid.UUID  `db:"click_id" json:"click_id"`
	OfferID     uuid.UUID  `db:"offer_id" json:"offer_id"`
	PublisherID uuid.UUID  `db:"publisher_id" json:"publisher_id"`
	Type        string     `db:"type" json:"type"`
	Status      string     `db:"status" json:"status"`
	Payout      float64    `db:"payout" json:"payout"`
	Cost        float64    `db:"cost" json:"cost"`
	Currency    string     `db:"currency" json:"currency"`
	TxSum       *float64   `db:"tx_sum" json:"tx_sum,omitempty"`
	ExternalID  *string    `db:"external_id" json:"external_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approved_at,omitempty"`
}

// Offer represents an advertiser's campaign. Read-only here; caps are
// enforced by live counts, not a materialized counter.
type Offer struct {
	ID             uuid.UUID `db:"id" json:"id"`
	AdvertiserID   uuid.UUID `db:"advertiser_id" json:"advertiser_id"`
	Name           string    `db:"name" json:"name"`
	PayoutModel    string    `db:"payout_model" json:"payout_model"`
	HoldPeriodDays int       `db:"hold_period_days" json:"hold_period_days"`
	DailyCap       *int      `db:"daily_cap" json:"daily_cap,omitempty"`
	MonthlyCap     *int      `db:"monthly_cap" json:"monthly_cap,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// OfferPostbackSetting is an offer-specific advertiser postback rule. When
// active it wins over the advertiser's account-level URLs.
type OfferPostbackSetting struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OfferID        uuid.UUID `db:"offer_id" json:"offer_id"`
	URL            string    `db:"url" json:"url"`
	Method         string    `db:"method" json:"method"`
	Active         bool      `db:"active" json:"active"`
	SendOnLead     bool      `db:"send_on_lead" json:"send_on_lead"`
	SendOnSale     bool      `db:"send_on_sale" json:"send_on_sale"`
	SendOnRejected bool      `db:"send_on_rejected" json:"send_on_rejected"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AdvertiserSettings holds the advertiser's account-level postback URLs.
// A conversion-type-specific URL is preferred over the global fallback.
type AdvertiserSettings struct {
	AdvertiserID       uuid.UUID `db:"advertiser_id" json:"advertiser_id"`
	LeadPostbackURL    *string   `db:"lead_postback_url" json:"lead_postback_url,omitempty"`
	LeadPostbackMethod string    `db:"lead_postback_method" json:"lead_postback_method"`
	SalePostbackURL    *string   `db:"sale_postback_url" json:"sale_postback_url,omitempty"`
	SalePostbackMethod string    `db:"sale_postback_method" json:"sale_postback_method"`
	PostbackURL        *string   `db:"postback_url" json:"postback_url,omitempty"`
	PostbackMethod     string    `db:"postback_method" json:"postback_method"`
}

// PublisherPostbackEndpoint is one configurable publisher-facing postback
// endpoint. Query parameter names are operator-configurable; StatusMap
// translates internal conversion types into tracker-specific statuses.
type PublisherPostbackEndpoint struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	PublisherID   uuid.UUID   `db:"publisher_id" json:"publisher_id"`
	OfferID       *uuid.UUID  `db:"offer_id" json:"offer_id,omitempty"`
	URL           string      `db:"url" json:"url"`
	Active        bool        `db:"active" json:"active"`
	TrackerType   string      `db:"tracker_type" json:"tracker_type"`
	ClickIDParam  string      `db:"click_id_param" json:"click_id_param"`
	StatusParam   string      `db:"status_param" json:"status_param"`
	PayoutParam   string      `db:"payout_param" json:"payout_param"`
	CurrencyParam string      `db:"currency_param" json:"currency_param"`
	StatusFilter  StringArray `db:"status_filter" json:"status_filter"`
	StatusMap     JSONB       `db:"status_map" json:"status_map"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

// PublisherSettings holds the publisher's legacy single lead/sale URL pair,
// used only when no flexible endpoint matches.
type PublisherSettings struct {
	PublisherID     uuid.UUID `db:"publisher_id" json:"publisher_id"`
	LeadPostbackURL *string   `db:"lead_postback_url" json:"lead_postback_url,omitempty"`
	SalePostbackURL *string   `db:"sale_postback_url" json:"sale_postback_url,omitempty"`
}

// PostbackLog is an append-only audit record of one delivery attempt.
type PostbackLog struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConversionID   uuid.UUID `db:"conversion_id" json:"conversion_id"`
	Direction      string    `db:"direction" json:"direction"`
	URL            string    `db:"url" json:"url"`
	Method         string    `db:"method" json:"method"`
	ResponseStatus *int      `db:"response_status" json:"response_status,omitempty"`
	ResponseBody   *string   `db:"response_body" json:"response_body,omitempty"`
	DurationMs     *int      `db:"duration_ms" json:"duration_ms,omitempty"`
	Success        bool      `db:"success" json:"success"`
	RetryCount     int       `db:"retry_count" json:"retry_count"`
	RecipientType  string    `db:"recipient_type" json:"recipient_type"`
	RecipientID    uuid.UUID `db:"recipient_id" json:"recipient_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PostbackDelivery is the durable per-target delivery state. Pending rows
// with a due next_retry_at are picked up by the retry worker; the URL is
// the one built at first attempt and is never rebuilt.
type PostbackDelivery struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ConversionID  uuid.UUID  `db:"conversion_id" json:"conversion_id"`
	RecipientType string     `db:"recipient_type" json:"recipient_type"`
	RecipientID   uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	OfferID       uuid.UUID  `db:"offer_id" json:"offer_id"`
	URL           string     `db:"url" json:"url"`
	Method        string     `db:"method" json:"method"`
	Status        string     `db:"status" json:"status"`
	AttemptNumber int        `db:"attempt_number" json:"attempt_number"`
	NextRetryAt   *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastError     *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	DeliveredAt   *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
}

// DailyStat is a summary row keyed by (date, advertiser, publisher, offer,
// geo). Dimension columns use empty-string sentinels so the key is always
// fully defined.
type DailyStat struct {
	Date                time.Time `db:"stat_date" json:"date"`
	AdvertiserID        string    `db:"advertiser_id" json:"advertiser_id"`
	PublisherID         string    `db:"publisher_id" json:"publisher_id"`
	OfferID             string    `db:"offer_id" json:"offer_id"`
	Geo                 string    `db:"geo" json:"geo"`
	Clicks              int       `db:"clicks" json:"clicks"`
	UniqueClicks        int       `db:"unique_clicks" json:"unique_clicks"`
	Conversions         int       `db:"conversions" json:"conversions"`
	ApprovedConversions int       `db:"approved_conversions" json:"approved_conversions"`
	RejectedConversions int       `db:"rejected_conversions" json:"rejected_conversions"`
	Leads               int       `db:"leads" json:"leads"`
	Sales               int       `db:"sales" json:"sales"`
	Payout              float64   `db:"payout" json:"payout"`
	Cost                float64   `db:"cost" json:"cost"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// JSONB is a custom type for JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for JSONB")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*j = make(JSONB)
		return nil
	}

	result := make(JSONB)
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}
	*j = result
	return nil
}

// StringArray is a custom type for PostgreSQL text[] arrays
type StringArray []string

// Value implements the driver.Valuer interface for StringArray
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	if len(a) == 0 {
		return "{}", nil
	}
	quoted := make([]string, len(a))
	for i, s := range a {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

// Scan implements the sql.Scanner interface for StringArray
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var str string
	switch v := value.(type) {
	case []byte:
		str = string(v)
	case string:
		str = v
	default:
		return errors.New("incompatible type for StringArray")
	}

	str = strings.Trim(str, "{}")
	if str == "" {
		*a = StringArray{}
		return nil
	}

	parts := strings.Split(str, ",")
	result := make(StringArray, 0, len(parts))
	for _, p := range parts {
		result = append(result, strings.Trim(p, `"`))
	}
	*a = result
	return nil
}
