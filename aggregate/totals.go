// Package aggregate folds extracted facts into dashboard totals and filters
// rows by category. Day boundaries are computed from the evaluation instant
// passed in on every call.
package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"payrecon/model"
)

// Row pairs a record with its extracted facts.
type Row struct {
	Record model.PaymentRecord
	Facts  model.FinancialFacts
}

// Bounds returns the start of the day before now and the start of now's day,
// both midnight in now's location.
func Bounds(now time.Time) (prevStart, todayStart time.Time) {
	y, m, d := now.Date()
	todayStart = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	prevStart = todayStart.AddDate(0, 0, -1)
	return prevStart, todayStart
}

// Matcher returns the predicate for cat evaluated at now. An unknown category
// matches nothing.
func Matcher(cat Category, now time.Time) func(model.FinancialFacts) bool {
	prevStart, todayStart := Bounds(now)
	switch cat {
	case Filtered:
		return func(model.FinancialFacts) bool { return true }
	case CashIn:
		return func(f model.FinancialFacts) bool { return f.Net.IsPositive() }
	case PrevDay:
		return func(f model.FinancialFacts) bool {
			return f.CreatedAt != nil && !f.CreatedAt.Before(prevStart) && f.CreatedAt.Before(todayStart)
		}
	case Today:
		return func(f model.FinancialFacts) bool {
			return f.CreatedAt != nil && !f.CreatedAt.Before(todayStart)
		}
	case Refunded:
		return func(f model.FinancialFacts) bool { return f.Refunded.IsPositive() }
	case Disputed:
		return func(f model.FinancialFacts) bool { return f.Disputed.IsPositive() }
	}
	return func(model.FinancialFacts) bool { return false }
}

// Filter keeps the rows matching cat, in order.
func Filter(rows []Row, cat Category, now time.Time) []Row {
	match := Matcher(cat, now)
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if match(r.Facts) {
			out = append(out, r)
		}
	}
	return out
}

// Totals folds rows into dashboard totals. Amounts in different currencies
// are summed as-is.
func Totals(rows []Row, now time.Time) model.AggregateTotals {
	t := model.AggregateTotals{
		FilteredTotal: decimal.Zero,
		CashIn:        decimal.Zero,
		PrevDay:       decimal.Zero,
		Today:         decimal.Zero,
		RefundedTotal: decimal.Zero,
		DisputedTotal: decimal.Zero,
		Counts:        make(map[string]int, len(Categories)),
	}
	matchers := make(map[Category]func(model.FinancialFacts) bool, len(Categories))
	for _, c := range Categories {
		matchers[c] = Matcher(c, now)
		t.Counts[string(c)] = 0
	}

	for _, r := range rows {
		f := r.Facts
		gross := f.GrossOrZero()
		t.FilteredTotal = t.FilteredTotal.Add(gross)
		if matchers[CashIn](f) {
			t.CashIn = t.CashIn.Add(f.Net)
		}
		if matchers[PrevDay](f) {
			t.PrevDay = t.PrevDay.Add(gross)
		}
		if matchers[Today](f) {
			t.Today = t.Today.Add(gross)
		}
		t.RefundedTotal = t.RefundedTotal.Add(f.Refunded)
		t.DisputedTotal = t.DisputedTotal.Add(f.Disputed)
		if t.Currency == "" && f.Currency != "" {
			t.Currency = f.Currency
		}
		for c, match := range matchers {
			if match(f) {
				t.Counts[string(c)]++
			}
		}
	}
	return t
}
