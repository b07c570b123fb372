// Package render turns records and their facts into the row and detail
// views the console shows. Amounts are formatted to two decimals; unknown
// values render as empty strings.
package render

import (
	"time"

	"github.com/shopspring/decimal"

	"payrecon/aggregate"
	"payrecon/facts"
	"payrecon/model"
	"payrecon/rawdecode"
)

type RowView struct {
	PaymentID   string        `json:"payment_id"`
	Provider    string        `json:"provider"`
	Status      string        `json:"status"`
	Currency    string        `json:"currency"`
	Gross       string        `json:"gross"`
	Fee         string        `json:"fee"`
	Refunded    string        `json:"refunded"`
	Disputed    string        `json:"disputed"`
	Net         string        `json:"net"`
	CreatedAt   string        `json:"created_at"`
	Eligibility model.Verdict `json:"eligibility"`
	DaysSince   *int          `json:"days_since,omitempty"`
}

type DetailView struct {
	RowView
	FeeCurrency  string           `json:"fee_currency,omitempty"`
	AdminActions []map[string]any `json:"admin_actions"`
	Raw          map[string]any   `json:"raw_response"`
}

// Row renders one row of the payments table.
func Row(r aggregate.Row, now time.Time, windowDays int) RowView {
	f := r.Facts
	v := RowView{
		PaymentID: r.Record.ID,
		Provider:  r.Record.Provider,
		Status:    r.Record.Status,
		Currency:  f.Currency,
		Gross:     money(f.Gross),
		Refunded:  f.Refunded.StringFixed(2),
		Disputed:  f.Disputed.StringFixed(2),
		Net:       f.Net.StringFixed(2),
	}
	if f.Fee != nil {
		v.Fee = f.Fee.Amount.StringFixed(2)
	}
	if f.CreatedAt != nil {
		v.CreatedAt = f.CreatedAt.In(now.Location()).Format(time.DateTime)
	}
	e := facts.Eligibility(f, now, windowDays)
	v.Eligibility = e.Verdict
	v.DaysSince = e.DaysSince
	return v
}

// Rows renders rows in order.
func Rows(rows []aggregate.Row, now time.Time, windowDays int) []RowView {
	out := make([]RowView, len(rows))
	for i, r := range rows {
		out[i] = Row(r, now, windowDays)
	}
	return out
}

// Detail renders the selected record with its payload and admin history.
func Detail(r aggregate.Row, now time.Time, windowDays int) DetailView {
	d := DetailView{
		RowView:      Row(r, now, windowDays),
		AdminActions: facts.AdminActions(r.Record),
		Raw:          rawdecode.Decode(r.Record.RawResponse),
	}
	if r.Facts.Fee != nil {
		d.FeeCurrency = r.Facts.Fee.Currency
	}
	if d.AdminActions == nil {
		d.AdminActions = []map[string]any{}
	}
	return d
}

// Record extracts and renders a record that is not part of a page.
func Record(rec model.PaymentRecord, now time.Time, windowDays int) DetailView {
	return Detail(aggregate.Row{Record: rec, Facts: facts.Extract(rec)}, now, windowDays)
}

// TotalsView is AggregateTotals formatted for display.
type TotalsView struct {
	FilteredTotal string         `json:"filtered_total"`
	CashIn        string         `json:"cash_in"`
	PrevDay       string         `json:"prev_day"`
	Today         string         `json:"today"`
	RefundedTotal string         `json:"refunded_total"`
	DisputedTotal string         `json:"disputed_total"`
	Currency      string         `json:"currency"`
	Counts        map[string]int `json:"counts"`
}

func Totals(t model.AggregateTotals) TotalsView {
	return TotalsView{
		FilteredTotal: t.FilteredTotal.StringFixed(2),
		CashIn:        t.CashIn.StringFixed(2),
		PrevDay:       t.PrevDay.StringFixed(2),
		Today:         t.Today.StringFixed(2),
		RefundedTotal: t.RefundedTotal.StringFixed(2),
		DisputedTotal: t.DisputedTotal.StringFixed(2),
		Currency:      t.Currency,
		Counts:        t.Counts,
	}
}

func money(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
