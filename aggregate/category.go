package aggregate

import (
	"errors"
	"fmt"
	"strings"
)

// Category is one of the fixed dashboard filters.
type Category string

const (
	Filtered Category = "filtered"
	CashIn   Category = "cash-in"
	PrevDay  Category = "prev-day"
	Today    Category = "today"
	Refunded Category = "refunded"
	Disputed Category = "disputed"
)

// Categories lists every category in dashboard order.
var Categories = []Category{Filtered, CashIn, PrevDay, Today, Refunded, Disputed}

var ErrUnknownCategory = errors.New("unknown category")

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}
