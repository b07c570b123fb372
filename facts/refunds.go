package facts

import (
	"strings"

	"github.com/shopspring/decimal"

	"payrecon/amount"
	"payrecon/rawdecode"
)

// Refund sources in order of preference. A source counts only when it holds
// at least one entry.
var refundSources = Probe[[]any]{
	// _refunds is appended by the records server after each refund action.
	func(in Input) ([]any, bool) {
		return nonEmpty(rawdecode.Array(in.Payload, "_refunds"))
	},
	func(in Input) ([]any, bool) {
		var all []any
		for _, c := range rawdecode.Array(firstPurchaseUnit(in), "payments", "captures") {
			all = append(all, rawdecode.Array(c, "refunds")...)
		}
		return nonEmpty(all)
	},
	func(in Input) ([]any, bool) {
		return nonEmpty(rawdecode.Array(firstPurchaseUnit(in), "payments", "refunds"))
	},
	// Legacy sale objects carry at most one refund resource worth reading.
	func(in Input) ([]any, bool) {
		for _, tx := range rawdecode.Array(in.Payload, "transactions") {
			for _, rr := range rawdecode.Array(tx, "related_resources") {
				if ref := rawdecode.Object(rr, "refund"); ref != nil {
					return []any{ref}, true
				}
			}
		}
		return nil, false
	},
}

func nonEmpty(list []any) ([]any, bool) {
	return list, len(list) > 0
}

func sumRefunds(entries []any) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(refundValue(e))
	}
	return total
}

var refundKeys = []string{"value", "refund_amount", "total", "amount"}

// refundValue reads one refund entry. Entries that do not parse count as 0.
func refundValue(entry any) decimal.Decimal {
	switch t := entry.(type) {
	case map[string]any:
		if d, ok := parsed(t["amount"]); ok {
			return d
		}
		if d, ok := firstOf(t, refundKeys...); ok {
			return d
		}
		if d := amount.ScanValue(rawdecode.Encode(t)); d != nil {
			return *d
		}
	case string:
		if obj := rawdecode.Decode(t); obj != nil {
			return refundValue(obj)
		}
		if !strings.Contains(t, "{") {
			if d, ok := parsed(t); ok {
				return d
			}
		}
		if d := amount.ScanValue(t); d != nil {
			return *d
		}
	default:
		if d, ok := parsed(t); ok {
			return d
		}
	}
	return decimal.Zero
}
