// Package amount turns the loosely typed numeric values found in gateway
// payloads into decimals. Anything that does not parse is reported as nil,
// which callers treat as "unknown" rather than zero.
package amount

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"payrecon/model"
)

var (
	numericPrefix = regexp.MustCompile(`^-?(\d+(\.\d*)?|\.\d+)`)
	valueScan     = regexp.MustCompile(`"value"\s*:\s*"?\s*(-?[0-9][0-9,]*(?:\.[0-9]+)?)`)
)

// amountKeys are tried in order when the value is an object.
var amountKeys = []string{"value", "amount", "total", "price"}

var currencyKeys = []string{"currency_code", "currency", "currencyCode"}

// Parse returns the numeric value of v, or nil when v carries no number.
func Parse(v any) *decimal.Decimal {
	switch t := v.(type) {
	case nil, bool:
		return nil
	case string:
		return parseString(t)
	case json.Number:
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return &d
		}
		return parseString(t.String())
	case float64:
		return fromFloat(t)
	case float32:
		return fromFloat(float64(t))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, err := cast.ToInt64E(t)
		if err != nil {
			return nil
		}
		d := decimal.NewFromInt(n)
		return &d
	case map[string]any:
		for _, k := range amountKeys {
			if inner, ok := t[k]; ok {
				return Parse(inner)
			}
		}
		return nil
	case decimal.Decimal:
		return &t
	case *decimal.Decimal:
		return t
	default:
		s, err := cast.ToStringE(t)
		if err != nil {
			return nil
		}
		return parseString(s)
	}
}

// ParseWithCurrency is Parse plus the sibling currency field when v is an
// object. Currency is empty when none is present.
func ParseWithCurrency(v any) *model.Money {
	d := Parse(v)
	if d == nil {
		return nil
	}
	m := &model.Money{Amount: *d}
	if obj, ok := v.(map[string]any); ok {
		m.Currency = Currency(obj)
	}
	return m
}

// Currency reads the first currency-like field of obj.
func Currency(obj map[string]any) string {
	for _, k := range currencyKeys {
		if s := strings.TrimSpace(cast.ToString(obj[k])); s != "" {
			return strings.ToUpper(s)
		}
	}
	return ""
}

// ScanValue finds the first `"value": "<number>"` pair in text. It is the
// last resort for refund entries whose structure could not be read.
func ScanValue(text string) *decimal.Decimal {
	m := valueScan.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return parseString(m[1])
}

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func parseString(s string) *decimal.Decimal {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	m := numericPrefix.FindString(b.String())
	if m == "" {
		return nil
	}
	m = strings.TrimSuffix(m, ".")
	d, err := decimal.NewFromString(m)
	if err != nil {
		return nil
	}
	return &d
}

func fromFloat(f float64) *decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	d := decimal.NewFromFloat(f)
	return &d
}
