package postback

import (
	"net/url"
	"strings"
	"testing"

	"tracker-server/internal/store"

	"github.com/google/uuid"
)

func strPtr(s string) *string { return &s }

func testClick() store.Click {
	return store.Click{
		ID:          uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		OfferID:     uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		PublisherID: uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		Geo:         strPtr("DE"),
		IP:          strPtr("203.0.113.7"),
		FraudAction: strPtr(store.FraudActionAllow),
	}
}

func testConversion() store.Conversion {
	return store.Conversion{
		ID:          uuid.MustParse("44444444-4444-4444-4444-444444444444"),
		ClickID:     uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		OfferID:     uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		PublisherID: uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		Type:        store.ConversionTypeSale,
		Status:      store.ConversionStatusApproved,
		Payout:      12.5,
		Cost:        10,
		Currency:    "USD",
	}
}

func TestBuildMacroURL(t *testing.T) {
	click := testClick()
	conversion := testConversion()

	built := buildMacroURL("https://adv.example.com/pb?cid={click_id}&goal={goal}&amount={payout}", conversion, click)

	if !strings.Contains(built, "cid=11111111-1111-1111-1111-111111111111") {
		t.Errorf("expected click id substituted, got: %s", built)
	}
	if !strings.Contains(built, "goal=sale") {
		t.Errorf("expected goal substituted, got: %s", built)
	}
	if !strings.Contains(built, "amount=12.5") {
		t.Errorf("expected payout substituted, got: %s", built)
	}
	if !strings.Contains(built, "suspected_fraud=0") {
		t.Errorf("expected fraud flag appended, got: %s", built)
	}
	if strings.Contains(built, "fraud_reason") {
		t.Errorf("clean click should not carry fraud_reason, got: %s", built)
	}
}

func TestBuildMacroURL_UnknownAndMissingMacros(t *testing.T) {
	click := testClick()
	click.Sub1 = nil
	conversion := testConversion()

	built := buildMacroURL("https://adv.example.com/pb?a={sub1}&b={no_such_macro}", conversion, click)

	if !strings.Contains(built, "a=&b=") {
		t.Errorf("absent and unknown macros should substitute to empty, got: %s", built)
	}
}

func TestBuildMacroURL_FraudAlreadyInTemplate(t *testing.T) {
	click := testClick()
	conversion := testConversion()

	built := buildMacroURL("https://adv.example.com/pb?suspected_fraud={suspected_fraud}", conversion, click)

	if strings.Count(built, "suspected_fraud") != 1 {
		t.Errorf("fraud flag must not be appended twice, got: %s", built)
	}
	if !strings.HasSuffix(built, "suspected_fraud=0") {
		t.Errorf("expected template's own fraud macro substituted, got: %s", built)
	}
}

func TestBuildMacroURL_SuspiciousClick(t *testing.T) {
	click := testClick()
	click.FraudAction = strPtr("flag")
	click.FraudReason = strPtr("proxy detected")
	conversion := testConversion()

	built := buildMacroURL("https://adv.example.com/pb?cid={click_id}", conversion, click)

	if !strings.Contains(built, "suspected_fraud=1") {
		t.Errorf("suspicious click should flag fraud, got: %s", built)
	}
	if !strings.Contains(built, "fraud_reason=proxy+detected") {
		t.Errorf("expected escaped fraud reason, got: %s", built)
	}
}

func TestExpandMacros_LiteralBraces(t *testing.T) {
	values := map[string]string{"sub1": "x"}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"empty braces", "a{}b", "a{}b"},
		{"unclosed brace", "a{sub1", "a{sub1"},
		{"uppercase not a macro", "a{Sub1}b", "a{Sub1}b"},
		{"plain macro", "a{sub1}b", "axb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandMacros(tt.template, values); got != tt.want {
				t.Errorf("expandMacros(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestExpandMacros_ValueNotRescanned(t *testing.T) {
	values := map[string]string{"sub1": "{sub2}", "sub2": "nope"}

	got := expandMacros("x={sub1}", values)
	// The substituted value is escaped and never treated as a macro again.
	if got != "x="+url.QueryEscape("{sub2}") {
		t.Errorf("substituted value must not be rescanned, got %q", got)
	}
}

func TestBuildEndpointURL_CustomParams(t *testing.T) {
	click := testClick()
	click.Sub1 = strPtr("pub-click-99")
	conversion := testConversion()

	ep := &store.PublisherPostbackEndpoint{
		URL:           "https://pub.example.com/track",
		Active:        true,
		TrackerType:   TrackerBinom,
		ClickIDParam:  "cnv_id",
		StatusParam:   "event",
		PayoutParam:   "revenue",
		CurrencyParam: "cur",
		StatusMap:     store.JSONB{"sale": "ftd"},
	}

	built, err := buildEndpointURL(ep, conversion, click)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := url.Parse(built)
	if err != nil {
		t.Fatalf("built url does not parse: %v", err)
	}
	q := u.Query()
	if q.Get("cnv_id") != "pub-click-99" {
		t.Errorf("expected sub1 pass-through as click id, got %q", q.Get("cnv_id"))
	}
	if q.Get("event") != "ftd" {
		t.Errorf("expected status map translation sale->ftd, got %q", q.Get("event"))
	}
	if q.Get("revenue") != "12.5" {
		t.Errorf("expected payout, got %q", q.Get("revenue"))
	}
	if q.Get("cur") != "USD" {
		t.Errorf("expected currency, got %q", q.Get("cur"))
	}
	if q.Get("suspected_fraud") != "0" {
		t.Errorf("expected fraud flag, got %q", q.Get("suspected_fraud"))
	}
}

func TestBuildEndpointURL_KeitaroDefaults(t *testing.T) {
	click := testClick()
	conversion := testConversion()
	conversion.Type = store.ConversionTypeLead

	ep := &store.PublisherPostbackEndpoint{
		URL:         "https://keitaro.example.com/pb",
		Active:      true,
		TrackerType: TrackerKeitaro,
	}

	built, err := buildEndpointURL(ep, conversion, click)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q, _ := url.Parse(built)
	params := q.Query()
	// Keitaro's default click id parameter is subid; sub1 is empty, so the
	// platform click id is used.
	if params.Get("subid") != click.ID.String() {
		t.Errorf("expected platform click id under subid, got %q", params.Get("subid"))
	}
	// No status map: the internal type passes through.
	if params.Get("status") != "lead" {
		t.Errorf("expected status passthrough, got %q", params.Get("status"))
	}
	// Currency param is only set when configured.
	if params.Has("currency") {
		t.Errorf("unconfigured currency param must be omitted, got: %s", built)
	}
}

func TestBuildLegacyURL(t *testing.T) {
	click := testClick()
	click.FraudAction = strPtr("deny")
	click.FraudReason = strPtr("bot")
	conversion := testConversion()

	built, err := buildLegacyURL("https://pub.example.com/legacy?src=net", conversion, click)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, _ := url.Parse(built)
	q := u.Query()
	if q.Get("clickid") != click.ID.String() {
		t.Errorf("expected default clickid param, got %q", q.Get("clickid"))
	}
	if q.Get("status") != "sale" {
		t.Errorf("expected status param, got %q", q.Get("status"))
	}
	if q.Get("payout") != "12.5" {
		t.Errorf("expected payout param, got %q", q.Get("payout"))
	}
	if q.Get("currency") != "USD" {
		t.Errorf("expected currency param, got %q", q.Get("currency"))
	}
	if q.Get("src") != "net" {
		t.Errorf("existing query parameters must survive, got %q", q.Get("src"))
	}
	if q.Get("suspected_fraud") != "1" || q.Get("fraud_reason") != "bot" {
		t.Errorf("expected fraud annotation, got: %s", built)
	}
}

func TestBuildTargetURL_UnknownKind(t *testing.T) {
	_, err := BuildTargetURL(Target{Kind: TargetKind("bogus")}, testConversion(), testClick())
	if err == nil {
		t.Error("expected error for unknown target kind")
	}
}
