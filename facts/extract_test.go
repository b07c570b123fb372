package facts

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"payrecon/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func record(t *testing.T, js string) model.PaymentRecord {
	t.Helper()
	var rec model.PaymentRecord
	if err := json.Unmarshal([]byte(js), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	return rec
}

func assertFacts(t *testing.T, f model.FinancialFacts, gross, refunded, disputed, net string) {
	t.Helper()
	if gross == "" {
		if f.Gross != nil {
			t.Errorf("gross = %s, want unknown", f.Gross)
		}
	} else if f.Gross == nil || !f.Gross.Equal(dec(gross)) {
		t.Errorf("gross = %v, want %s", f.Gross, gross)
	}
	if !f.Refunded.Equal(dec(refunded)) {
		t.Errorf("refunded = %s, want %s", f.Refunded, refunded)
	}
	if !f.Disputed.Equal(dec(disputed)) {
		t.Errorf("disputed = %s, want %s", f.Disputed, disputed)
	}
	if !f.Net.Equal(dec(net)) {
		t.Errorf("net = %s, want %s", f.Net, net)
	}
}

func TestExtractScenarios(t *testing.T) {
	tests := []struct {
		name                          string
		record                        string
		gross, refunded, disputed, net string
	}{
		{
			name:     "completed",
			record:   `{"status":"Completed","amount":100,"raw_response":{}}`,
			gross:    "100", refunded: "0", disputed: "0", net: "100",
		},
		{
			name:     "refunded by status only",
			record:   `{"status":"Refunded","amount":80,"raw_response":{}}`,
			gross:    "80", refunded: "80", disputed: "0", net: "0",
		},
		{
			name: "capture refunds",
			record: `{"status":"Completed","amount":100,"raw_response":{"purchase_units":[{"payments":{"captures":[
				{"refunds":[{"amount":{"value":"20.00"}},{"value":"5"}]}]}}]}}`,
			gross: "100", refunded: "25", disputed: "0", net: "75",
		},
		{
			name:   "no gross anywhere",
			record: `{"status":"Pending","raw_response":"not json"}`,
			gross:  "", refunded: "0", disputed: "0", net: "0",
		},
		{
			name:   "refund status without gross",
			record: `{"status":"REFUNDED"}`,
			gross:  "", refunded: "0", disputed: "0", net: "0",
		},
		{
			name:   "disputed by status",
			record: `{"status":"Disputed","amount":"$40.00","raw_response":{"dispute":{"amount":"10"}}}`,
			gross:  "40", refunded: "0", disputed: "40", net: "0",
		},
		{
			name:   "structured dispute amount",
			record: `{"status":"Completed","amount":40,"raw_response":{"disputes":[{"disputed_amount":{"value":"15.50"}}]}}`,
			gross:  "40", refunded: "0", disputed: "15.5", net: "24.5",
		},
		{
			name:   "dispute without amount is full gross",
			record: `{"status":"Completed","amount":40,"raw_response":{"dispute":{"reason":"MERCHANDISE_NOT_RECEIVED"}}}`,
			gross:  "40", refunded: "0", disputed: "40", net: "0",
		},
		{
			name:   "gross from purchase unit",
			record: `{"status":"Completed","raw_response":{"purchase_units":[{"amount":{"value":"55.10","currency_code":"USD"}}]}}`,
			gross:  "55.1", refunded: "0", disputed: "0", net: "55.1",
		},
		{
			name:   "gross from legacy transaction",
			record: `{"status":"approved","raw_response":{"transactions":[{"amount":{"total":"12.00","currency":"EUR"}}]}}`,
			gross:  "12", refunded: "0", disputed: "0", net: "12",
		},
		{
			name:   "gross from order total",
			record: `{"status":"Completed","order":{"total_amount":"9.99"}}`,
			gross:  "9.99", refunded: "0", disputed: "0", net: "9.99",
		},
		{
			name:   "server refund log wins over capture refunds",
			record: `{"status":"Partially refunded","amount":100,"raw_response":{"_refunds":[{"amount":30}],"purchase_units":[{"payments":{"captures":[{"refunds":[{"value":"5"}]}]}}]}}`,
			gross:  "100", refunded: "30", disputed: "0", net: "70",
		},
		{
			name:   "empty refund log falls through",
			record: `{"status":"Completed","amount":100,"raw_response":{"_refunds":[],"purchase_units":[{"payments":{"captures":[{"refunds":[{"value":"5"}]}]}}]}}`,
			gross:  "100", refunded: "5", disputed: "0", net: "95",
		},
		{
			name: "legacy related resource refund is first only",
			record: `{"status":"Completed","amount":100,"raw_response":{"transactions":[{"related_resources":[
				{"sale":{"id":"S"}},{"refund":{"amount":{"total":"7.00"}}},{"refund":{"amount":{"total":"9.00"}}}]}]}}`,
			gross: "100", refunded: "7", disputed: "0", net: "93",
		},
		{
			name:   "refunds across captures",
			record: `{"amount":50,"raw_response":{"purchase_units":[{"payments":{"captures":[{"refunds":[{"value":"1"}]},{"refunds":[{"value":"2"}]}]}}]}}`,
			gross:  "50", refunded: "3", disputed: "0", net: "47",
		},
		{
			name:   "raw response as string with log prefix",
			record: `{"amount":10,"raw_response":"resp={\"_refunds\":[{\"amount\":{\"value\":\"4\"}}]}"}`,
			gross:  "10", refunded: "4", disputed: "0", net: "6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertFacts(t, Extract(record(t, tt.record)), tt.gross, tt.refunded, tt.disputed, tt.net)
		})
	}
}

func TestRefundEntryShapes(t *testing.T) {
	entries := []any{
		map[string]any{"amount": map[string]any{"value": "20.00"}},
		map[string]any{"value": "5"},
		map[string]any{"refund_amount": "$1.50"},
		`{"id":"R9","amount":{"value": "2.25"`,
		"3",
		map[string]any{"note": "no amount"},
		nil,
	}
	got := sumRefunds(entries)
	if want := dec("31.75"); !got.Equal(want) {
		t.Errorf("sumRefunds = %s, want %s", got, want)
	}
}

func TestFee(t *testing.T) {
	tests := []struct {
		name     string
		record   string
		amount   string
		currency string
	}{
		{
			name:     "capture breakdown",
			record:   `{"raw_response":{"purchase_units":[{"payments":{"captures":[{"seller_receivable_breakdown":{"paypal_fee":{"value":"3.20","currency_code":"USD"}}}]}}],"fee":"9"}}`,
			amount:   "3.2",
			currency: "USD",
		},
		{
			name:   "legacy sale",
			record: `{"raw_response":{"transactions":[{"related_resources":[{"sale":{"transaction_fee":{"value":"0.59","currency":"EUR"}}}],"transaction_fee":"1"}]}}`,
			amount: "0.59", currency: "EUR",
		},
		{
			name:   "legacy transaction",
			record: `{"raw_response":{"transactions":[{"transaction_fee":"1.10"}]}}`,
			amount: "1.1",
		},
		{
			name:   "top level on payload before record",
			record: `{"fee":"2","raw_response":{"processing_fee":"0.75"}}`,
			amount: "0.75",
		},
		{
			name:   "top level on record",
			record: `{"fee_amount":"0.30","raw_response":{}}`,
			amount: "0.3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Extract(record(t, tt.record))
			if f.Fee == nil {
				t.Fatal("fee not found")
			}
			if !f.Fee.Amount.Equal(dec(tt.amount)) || f.Fee.Currency != tt.currency {
				t.Errorf("fee = %+v, want %s %s", *f.Fee, tt.amount, tt.currency)
			}
		})
	}

	if f := Extract(record(t, `{"amount":1}`)); f.Fee != nil {
		t.Errorf("fee = %+v, want none", *f.Fee)
	}
}

func TestCreatedAt(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		record string
		ok     bool
	}{
		{"iso zulu", `{"createdAt":"2024-03-01T10:00:00Z"}`, true},
		{"iso offset", `{"created":"2024-03-01T12:00:00+02:00"}`, true},
		{"naive iso is utc", `{"created_at":"2024-03-01T10:00:00"}`, true},
		{"space separated", `{"date":"2024-03-01 10:00:00"}`, true},
		{"epoch seconds", `{"timestamp":1709287200}`, true},
		{"epoch millis", `{"time":1709287200000}`, true},
		{"epoch string", `{"createdAt":"1709287200"}`, true},
		{"payload create_time", `{"raw_response":{"create_time":"2024-03-01T10:00:00Z"}}`, true},
		{"first field wins", `{"createdAt":"2024-03-01T10:00:00Z","created":"1999-01-01"}`, true},
		{"unparseable", `{"createdAt":"soon"}`, false},
		{"missing", `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Extract(record(t, tt.record))
			if !tt.ok {
				if f.CreatedAt != nil {
					t.Fatalf("createdAt = %v, want none", f.CreatedAt)
				}
				return
			}
			if f.CreatedAt == nil || !f.CreatedAt.Equal(want) {
				t.Errorf("createdAt = %v, want %v", f.CreatedAt, want)
			}
		})
	}
}

func TestCurrency(t *testing.T) {
	tests := []struct {
		record string
		want   string
	}{
		{`{"currency":"usd","raw_response":{"purchase_units":[{"amount":{"currency_code":"EUR"}}]}}`, "USD"},
		{`{"raw_response":{"purchase_units":[{"amount":{"value":"1","currency_code":"EUR"}}]}}`, "EUR"},
		{`{"raw_response":{"transactions":[{"amount":{"total":"1","currency":"GBP"}}]}}`, "GBP"},
		{`{"amount":3}`, ""},
	}
	for _, tt := range tests {
		if got := Extract(record(t, tt.record)).Currency; got != tt.want {
			t.Errorf("currency of %s = %q, want %q", tt.record, got, tt.want)
		}
	}
}

func TestNetInvariant(t *testing.T) {
	records := []string{
		`{"status":"Refunded","amount":"12.5","raw_response":{"dispute":{"amount":"2"}}}`,
		`{"status":"Completed","total":7,"raw_response":{"_refunds":[{"amount":10}]}}`,
		`{"status":"Disputed","raw_response":{}}`,
		`{"status":"x","amount":"abc","raw_response":{"disputes":[{"value":1}]}}`,
	}
	for _, js := range records {
		f := Extract(record(t, js))
		want := f.GrossOrZero().Sub(f.Refunded).Sub(f.Disputed)
		if !f.Net.Equal(want) {
			t.Errorf("%s: net %s != %s", js, f.Net, want)
		}
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	rec := record(t, `{"status":"Completed","amount":100,"createdAt":"2024-03-01T10:00:00Z",
		"raw_response":"{\"purchase_units\":[{\"payments\":{\"captures\":[{\"refunds\":[{\"value\":\"5\"}]}]}}]}"}`)
	first := Extract(rec)
	second := Extract(rec)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Extract not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestEligibility(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	at := func(d time.Duration) model.FinancialFacts {
		ts := now.Add(-d)
		return model.FinancialFacts{CreatedAt: &ts}
	}
	tests := []struct {
		name string
		f    model.FinancialFacts
		want model.Verdict
		days int
	}{
		{"same day", at(time.Hour), model.VerdictEligible, 0},
		{"exactly three days", at(3 * day), model.VerdictEligible, 3},
		{"three days and change", at(3*day + 23*time.Hour), model.VerdictEligible, 3},
		{"exactly four days", at(4 * day), model.VerdictIneligible, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Eligibility(tt.f, now, DefaultWindowDays)
			if got.Verdict != tt.want {
				t.Errorf("verdict = %s, want %s", got.Verdict, tt.want)
			}
			if got.DaysSince == nil || *got.DaysSince != tt.days {
				t.Errorf("days = %v, want %d", got.DaysSince, tt.days)
			}
		})
	}

	got := Eligibility(model.FinancialFacts{}, now, DefaultWindowDays)
	if got.Verdict != model.VerdictUnknown || got.DaysSince != nil {
		t.Errorf("no date: %+v, want unknown", got)
	}
}

func TestAdminActions(t *testing.T) {
	rec := record(t, `{"raw_response":{"_admin_actions":[{"action":"hold","note":"check"},"junk",{"action":"review"}]}}`)
	got := AdminActions(rec)
	if len(got) != 2 || got[0]["action"] != "hold" || got[1]["action"] != "review" {
		t.Errorf("AdminActions = %v", got)
	}
	if AdminActions(record(t, `{}`)) != nil {
		t.Error("expected no actions")
	}
}

func TestExtractAllKeepsOrder(t *testing.T) {
	var recs []model.PaymentRecord
	for i := 1; i <= 50; i++ {
		recs = append(recs, model.NewRecord(map[string]any{"amount": i}))
	}
	got, err := ExtractAll(context.Background(), recs)
	if err != nil {
		t.Fatal(err)
	}
	for i, f := range got {
		if !f.GrossOrZero().Equal(decimal.NewFromInt(int64(i + 1))) {
			t.Fatalf("row %d gross = %s", i, f.GrossOrZero())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ExtractAll(ctx, recs); err == nil {
		t.Error("expected error from cancelled context")
	}
}
