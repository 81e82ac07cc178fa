package postback

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"tracker-server/internal/store"
)

// Tracker types an endpoint can be tagged with. The tag only selects
// default parameter names; delivery is identical for all trackers.
const (
	TrackerKeitaro = "keitaro"
	TrackerBinom   = "binom"
)

// Default parameter names for the legacy publisher target and for endpoints
// that leave a name unconfigured.
const (
	defaultClickIDParam  = "clickid"
	defaultStatusParam   = "status"
	defaultPayoutParam   = "payout"
	defaultCurrencyParam = "currency"
)

// BuildTargetURL produces the final URL for a target. Advertiser targets go
// through macro substitution; publisher targets get query parameters
// appended to the configured base URL.
func BuildTargetURL(target Target, conversion store.Conversion, click store.Click) (string, error) {
	switch target.Kind {
	case TargetAdvertiser:
		return buildMacroURL(target.URL, conversion, click), nil
	case TargetPublisher:
		return buildEndpointURL(target.Endpoint, conversion, click)
	case TargetPublisherLegacy:
		return buildLegacyURL(target.URL, conversion, click)
	default:
		return "", fmt.Errorf("unknown target kind: %s", target.Kind)
	}
}

// buildMacroURL substitutes {name} macros in the template and appends the
// fraud flags unless the template already carries them.
func buildMacroURL(template string, conversion store.Conversion, click store.Click) string {
	built := expandMacros(template, macroValues(conversion, click))
	if strings.Contains(template, "suspected_fraud=") {
		return built
	}
	return appendFraudParams(built, click)
}

// expandMacros replaces every {name} span in a single pass over the
// template. Unknown or absent names substitute to the empty string.
// Substituted values are never rescanned, so a value containing '{' cannot
// trigger a second substitution.
func expandMacros(template string, values map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		if template[i] != '{' {
			b.WriteByte(template[i])
			i++
			continue
		}

		end := i + 1
		for end < len(template) && isMacroNameChar(template[end]) {
			end++
		}
		if end >= len(template) || template[end] != '}' || end == i+1 {
			// Not a macro span; emit the brace literally.
			b.WriteByte(template[i])
			i++
			continue
		}

		name := template[i+1 : end]
		b.WriteString(url.QueryEscape(values[name]))
		i = end + 1
	}
	return b.String()
}

func isMacroNameChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_'
}

// macroValues builds the macro lookup table for a conversion and its click.
func macroValues(conversion store.Conversion, click store.Click) map[string]string {
	values := map[string]string{
		"click_id":        click.ID.String(),
		"clickid":         click.ID.String(),
		"conversion_id":   conversion.ID.String(),
		"status":          conversion.Status,
		"type":            conversion.Type,
		"goal":            conversion.Type,
		"payout":          formatAmount(conversion.Payout),
		"cost":            formatAmount(conversion.Cost),
		"currency":        conversion.Currency,
		"offer_id":        conversion.OfferID.String(),
		"publisher_id":    conversion.PublisherID.String(),
		"geo":             strOrEmpty(click.Geo),
		"country":         strOrEmpty(click.Geo),
		"ip":              strOrEmpty(click.IP),
		"sub1":            strOrEmpty(click.Sub1),
		"sub2":            strOrEmpty(click.Sub2),
		"sub3":            strOrEmpty(click.Sub3),
		"sub4":            strOrEmpty(click.Sub4),
		"sub5":            strOrEmpty(click.Sub5),
		"sub6":            strOrEmpty(click.Sub6),
		"sub7":            strOrEmpty(click.Sub7),
		"sub8":            strOrEmpty(click.Sub8),
		"sub9":            strOrEmpty(click.Sub9),
		"sub10":           strOrEmpty(click.Sub10),
		"suspected_fraud": fraudFlag(click),
		"fraud_reason":    strOrEmpty(click.FraudReason),
	}
	if conversion.TxSum != nil {
		values["sum"] = formatAmount(*conversion.TxSum)
	} else {
		values["sum"] = ""
	}
	if conversion.ExternalID != nil {
		values["external_id"] = *conversion.ExternalID
	}
	return values
}

// buildEndpointURL appends the endpoint's configured query parameters to
// its base URL. Fraud flags are always appended on this path.
func buildEndpointURL(ep *store.PublisherPostbackEndpoint, conversion store.Conversion, click store.Click) (string, error) {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint url: %w", err)
	}

	q := u.Query()
	q.Set(paramName(ep.ClickIDParam, clickIDDefault(ep.TrackerType)), publisherClickID(click))
	q.Set(paramName(ep.StatusParam, defaultStatusParam), trackerStatus(ep.StatusMap, conversion.Type))
	q.Set(paramName(ep.PayoutParam, defaultPayoutParam), formatAmount(conversion.Payout))
	if ep.CurrencyParam != "" {
		q.Set(ep.CurrencyParam, conversion.Currency)
	}
	q.Set("suspected_fraud", fraudFlag(click))
	if click.Suspicious() {
		q.Set("fraud_reason", strOrEmpty(click.FraudReason))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildLegacyURL builds the synthetic legacy publisher target with default
// parameter names.
func buildLegacyURL(baseURL string, conversion store.Conversion, click store.Click) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid legacy postback url: %w", err)
	}

	q := u.Query()
	q.Set(defaultClickIDParam, publisherClickID(click))
	q.Set(defaultStatusParam, conversion.Type)
	q.Set(defaultPayoutParam, formatAmount(conversion.Payout))
	q.Set(defaultCurrencyParam, conversion.Currency)
	q.Set("suspected_fraud", fraudFlag(click))
	if click.Suspicious() {
		q.Set("fraud_reason", strOrEmpty(click.FraudReason))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// publisherClickID is the identifier the publisher's own tracker can
// reconcile: the click's sub1 pass-through when present, the platform
// click id otherwise.
func publisherClickID(click store.Click) string {
	if click.Sub1 != nil && *click.Sub1 != "" {
		return *click.Sub1
	}
	return click.ID.String()
}

// trackerStatus translates the internal conversion type through the
// endpoint's status map; unmapped types pass through unchanged.
func trackerStatus(statusMap store.JSONB, conversionType string) string {
	if statusMap != nil {
		if mapped, ok := statusMap[conversionType].(string); ok && mapped != "" {
			return mapped
		}
	}
	return conversionType
}

// clickIDDefault picks the default click-id parameter name for a tracker tag.
func clickIDDefault(trackerType string) string {
	if trackerType == TrackerKeitaro {
		return "subid"
	}
	return defaultClickIDParam
}

func paramName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// appendFraudParams appends suspected_fraud (and fraud_reason when
// suspicious) to an already-built URL string.
func appendFraudParams(built string, click store.Click) string {
	sep := "?"
	if strings.Contains(built, "?") {
		sep = "&"
	}
	out := built + sep + "suspected_fraud=" + fraudFlag(click)
	if click.Suspicious() {
		out += "&fraud_reason=" + url.QueryEscape(strOrEmpty(click.FraudReason))
	}
	return out
}

func fraudFlag(click store.Click) string {
	if click.Suspicious() {
		return "1"
	}
	return "0"
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
