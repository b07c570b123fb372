package facts

import (
	"time"

	"payrecon/model"
)

// DefaultWindowDays is how many whole days after creation a payment stays
// refundable.
const DefaultWindowDays = 3

const day = 24 * time.Hour

// Eligibility reports whether the payment is still inside the refund window
// at now. Days are whole days, truncated. Without a creation date the verdict
// is unknown.
func Eligibility(f model.FinancialFacts, now time.Time, windowDays int) model.Eligibility {
	if f.CreatedAt == nil {
		return model.Eligibility{Verdict: model.VerdictUnknown}
	}
	days := int(now.Sub(*f.CreatedAt) / day)
	v := model.VerdictIneligible
	if days <= windowDays {
		v = model.VerdictEligible
	}
	return model.Eligibility{Verdict: v, DaysSince: &days}
}
