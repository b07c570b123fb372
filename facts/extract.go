// Package facts derives the financial facts of a payment record from the
// record itself and its gateway payload. Every function here is pure and
// total: shapes that do not parse resolve to unknown or zero, never to an
// error.
package facts

import (
	"regexp"

	"github.com/shopspring/decimal"

	"payrecon/amount"
	"payrecon/model"
	"payrecon/rawdecode"
)

var (
	refundStatus  = regexp.MustCompile(`(?i)refund`)
	disputeStatus = regexp.MustCompile(`(?i)disput`)
)

// Extract computes the facts of one record.
func Extract(rec model.PaymentRecord) model.FinancialFacts {
	in := newInput(rec)

	var f model.FinancialFacts
	if gross, ok := grossProbe.First(in); ok {
		f.Gross = &gross
	}
	if fee, ok := feeProbe.First(in); ok {
		f.Fee = &fee
	}
	f.Refunded = refunded(in, f.Gross)
	f.Disputed = disputed(in, f.Gross)
	f.Net = f.GrossOrZero().Sub(f.Refunded).Sub(f.Disputed)
	if t, ok := createdProbe.First(in); ok {
		f.CreatedAt = &t
	}
	f.Currency, _ = currencyProbe.First(in)
	return f
}

// recordField reads a top-level record field as an amount.
func recordField(name string) Extractor[decimal.Decimal] {
	return func(in Input) (decimal.Decimal, bool) {
		return parsed(in.Record.Field(name))
	}
}

// firstOf parses the first key of obj that yields a number.
func firstOf(obj map[string]any, keys ...string) (decimal.Decimal, bool) {
	if obj == nil {
		return decimal.Decimal{}, false
	}
	for _, k := range keys {
		if d, ok := parsed(obj[k]); ok {
			return d, true
		}
	}
	return decimal.Decimal{}, false
}

func parsed(v any) (decimal.Decimal, bool) {
	d := amount.Parse(v)
	if d == nil {
		return decimal.Decimal{}, false
	}
	return *d, true
}

// Gross precedence: modern capture shape, then legacy transactions, then the
// order-level total.
var grossProbe = Probe[decimal.Decimal]{
	recordField("amount"),
	recordField("totalAmount"),
	recordField("total"),
	func(in Input) (decimal.Decimal, bool) {
		pu := firstPurchaseUnit(in)
		if amt, ok := pu["amount"].(map[string]any); ok {
			return firstOf(amt, "value", "total")
		}
		return parsed(pu["amount"])
	},
	func(in Input) (decimal.Decimal, bool) {
		if amt, ok := firstCapture(in)["amount"].(map[string]any); ok {
			return firstOf(amt, "value", "total")
		}
		return decimal.Decimal{}, false
	},
	func(in Input) (decimal.Decimal, bool) {
		tx := firstTransaction(in)
		if amt, ok := tx["amount"].(map[string]any); ok {
			return firstOf(amt, "total", "value")
		}
		return parsed(tx["amount"])
	},
	func(in Input) (decimal.Decimal, bool) {
		order, _ := in.Record.Field("order").(map[string]any)
		return firstOf(order, "total_amount", "total", "amount")
	},
	func(in Input) (decimal.Decimal, bool) {
		return firstOf(in.Payload, "total_amount")
	},
}

var topLevelFeeKeys = []string{"paypal_fee", "fee", "processing_fee", "fees", "processing_fee_amount", "fee_amount"}

func money(v any) (model.Money, bool) {
	m := amount.ParseWithCurrency(v)
	if m == nil {
		return model.Money{}, false
	}
	return *m, true
}

func topLevelFee(obj map[string]any) (model.Money, bool) {
	for _, k := range topLevelFeeKeys {
		if m, ok := money(obj[k]); ok {
			return m, true
		}
	}
	return model.Money{}, false
}

// Fee sources are exclusive; the first that parses is the fee.
var feeProbe = Probe[model.Money]{
	func(in Input) (model.Money, bool) {
		return money(rawdecode.Lookup(firstCapture(in), "seller_receivable_breakdown", "paypal_fee"))
	},
	func(in Input) (model.Money, bool) {
		return money(rawdecode.Lookup(firstTransaction(in), "related_resources", 0, "sale", "transaction_fee"))
	},
	func(in Input) (model.Money, bool) {
		return money(firstTransaction(in)["transaction_fee"])
	},
	func(in Input) (model.Money, bool) {
		return topLevelFee(in.Payload)
	},
	func(in Input) (model.Money, bool) {
		return topLevelFee(in.Record.Fields)
	},
}

func currencyOf(obj map[string]any) (string, bool) {
	if obj == nil {
		return "", false
	}
	c := amount.Currency(obj)
	return c, c != ""
}

// Currency comes from the record when it reports one, else from the payload.
var currencyProbe = Probe[string]{
	func(in Input) (string, bool) {
		return currencyOf(in.Record.Fields)
	},
	func(in Input) (string, bool) {
		return currencyOf(rawdecode.Object(firstPurchaseUnit(in), "amount"))
	},
	func(in Input) (string, bool) {
		return currencyOf(rawdecode.Object(firstCapture(in), "amount"))
	},
	func(in Input) (string, bool) {
		return currencyOf(rawdecode.Object(firstTransaction(in), "amount"))
	},
}

func refunded(in Input, gross *decimal.Decimal) decimal.Decimal {
	if entries, ok := refundSources.First(in); ok {
		return sumRefunds(entries)
	}
	if refundStatus.MatchString(in.Record.Status) && gross != nil {
		return *gross
	}
	return decimal.Zero
}

func disputed(in Input, gross *decimal.Decimal) decimal.Decimal {
	grossOrZero := decimal.Zero
	if gross != nil {
		grossOrZero = *gross
	}
	// status is authoritative over any structured dispute amount
	if disputeStatus.MatchString(in.Record.Status) {
		return grossOrZero
	}
	obj, ok := disputeObject(in)
	if !ok {
		return decimal.Zero
	}
	if d, ok := firstOf(obj, "amount", "value", "disputed_amount", "claimed_amount"); ok {
		return d
	}
	// a dispute without a readable amount counts as fully disputed
	return grossOrZero
}

func disputeObject(in Input) (map[string]any, bool) {
	if obj := rawdecode.Object(in.Payload, "dispute"); obj != nil {
		return obj, true
	}
	if obj := rawdecode.Object(in.Payload, "disputes", 0); obj != nil {
		return obj, true
	}
	return nil, false
}
