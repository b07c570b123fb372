package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// PaymentRecord is one payment attempt or capture as served by the records
// endpoint. Only a handful of fields are typed; everything else stays in
// Fields so the extractors can probe the loosely structured shapes.
type PaymentRecord struct {
	ID          string
	Provider    string
	Status      string
	Currency    string
	RawResponse any
	Fields      map[string]any
}

var ErrRecordNotObject = errors.New("payment record is not a JSON object")

// NewRecord builds a record from an already decoded field map.
func NewRecord(fields map[string]any) PaymentRecord {
	if fields == nil {
		fields = map[string]any{}
	}
	rec := PaymentRecord{
		ID:       cast.ToString(fields["id"]),
		Provider: cast.ToString(fields["provider"]),
		Status:   cast.ToString(fields["status"]),
		Currency: cast.ToString(fields["currency"]),
		Fields:   fields,
	}
	if raw, ok := fields["raw_response"]; ok {
		rec.RawResponse = raw
	} else if raw, ok := fields["rawResponse"]; ok {
		rec.RawResponse = raw
	}
	return rec
}

// Field returns a top-level field of the original record, or nil.
func (r PaymentRecord) Field(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

func (r *PaymentRecord) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return err
	}
	if fields == nil {
		return ErrRecordNotObject
	}
	*r = NewRecord(fields)
	return nil
}

func (r PaymentRecord) MarshalJSON() ([]byte, error) {
	if r.Fields != nil {
		return json.Marshal(r.Fields)
	}
	return json.Marshal(map[string]any{
		"id":           r.ID,
		"provider":     r.Provider,
		"status":       r.Status,
		"currency":     r.Currency,
		"raw_response": r.RawResponse,
	})
}

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

// FinancialFacts is the pure result of extracting one record.
// Gross is nil when no candidate parsed; Net treats that as zero.
type FinancialFacts struct {
	Gross     *decimal.Decimal `json:"gross"`
	Fee       *Money           `json:"fee"`
	Refunded  decimal.Decimal  `json:"refunded_amount"`
	Disputed  decimal.Decimal  `json:"disputed_amount"`
	Net       decimal.Decimal  `json:"net_amount"`
	CreatedAt *time.Time       `json:"created_at"`
	Currency  string           `json:"currency,omitempty"`
}

// GrossOrZero is the gross amount with unknown collapsed to zero.
func (f FinancialFacts) GrossOrZero() decimal.Decimal {
	if f.Gross == nil {
		return decimal.Zero
	}
	return *f.Gross
}

type Verdict string

const (
	VerdictUnknown    Verdict = "unknown"
	VerdictEligible   Verdict = "eligible"
	VerdictIneligible Verdict = "ineligible"
)

type Eligibility struct {
	Verdict   Verdict `json:"verdict"`
	DaysSince *int    `json:"days_since,omitempty"`
}

type ActionKind string

const (
	ActionHold     ActionKind = "hold"
	ActionReview   ActionKind = "review"
	ActionRefund   ActionKind = "refund"
	ActionRejected ActionKind = "rejected"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionHold, ActionReview, ActionRefund, ActionRejected:
		return true
	}
	return false
}

// RefundAction is the body posted to the action endpoint.
type RefundAction struct {
	PaymentID     string           `json:"payment_id" validate:"required"`
	Action        ActionKind       `json:"action" validate:"required,oneof=hold review refund rejected"`
	RefundAmount  *decimal.Decimal `json:"refund_amount"`
	RefundPercent *decimal.Decimal `json:"refund_percent"`
	Note          string           `json:"note" validate:"max=2000"`
}

func (a RefundAction) MarshalJSON() ([]byte, error) {
	wire := struct {
		PaymentID     string       `json:"payment_id"`
		Action        ActionKind   `json:"action"`
		RefundAmount  *json.Number `json:"refund_amount"`
		RefundPercent *json.Number `json:"refund_percent"`
		Note          string       `json:"note"`
	}{
		PaymentID: a.PaymentID,
		Action:    a.Action,
		Note:      a.Note,
	}
	if a.RefundAmount != nil {
		n := json.Number(a.RefundAmount.StringFixed(2))
		wire.RefundAmount = &n
	}
	if a.RefundPercent != nil {
		n := json.Number(a.RefundPercent.String())
		wire.RefundPercent = &n
	}
	return json.Marshal(wire)
}

// ActionResponse is the action endpoint reply. Success is nil when the
// server did not send a success indicator.
type ActionResponse struct {
	Success        *bool          `json:"success,omitempty"`
	Message        string         `json:"message"`
	UpdatedPayment *PaymentRecord `json:"updated_payment,omitempty"`
}

type AggregateTotals struct {
	FilteredTotal decimal.Decimal `json:"filtered_total"`
	CashIn        decimal.Decimal `json:"cash_in"`
	PrevDay       decimal.Decimal `json:"prev_day"`
	Today         decimal.Decimal `json:"today"`
	RefundedTotal decimal.Decimal `json:"refunded_total"`
	DisputedTotal decimal.Decimal `json:"disputed_total"`
	Currency      string          `json:"currency"`
	Counts        map[string]int  `json:"counts"`
}

type Duration string

const (
	DurationDaily     Duration = "daily"
	DurationYesterday Duration = "yesterday"
	DurationWeekly    Duration = "weekly"
	DurationMonthly   Duration = "monthly"
	DurationYearly    Duration = "yearly"
	DurationCustom    Duration = "custom"
	DurationAll       Duration = "all"
)

func (d Duration) Valid() bool {
	switch d {
	case DurationDaily, DurationYesterday, DurationWeekly, DurationMonthly, DurationYearly, DurationCustom, DurationAll:
		return true
	}
	return false
}

const MaxPerPage = 200

type PageQuery struct {
	Page     int      `json:"page"`
	PerPage  int      `json:"per_page"`
	Duration Duration `json:"duration"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
}

type Page struct {
	Items   []PaymentRecord `json:"items"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
	Total   int             `json:"total"`
	Pages   int             `json:"pages"`
}

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeFailed  Outcome = "failed"
)

// ActionAttempt is one confirm of an admin action, whatever its outcome.
type ActionAttempt struct {
	IdempotencyKey string
	PaymentID      string
	Action         ActionKind
	RefundAmount   *decimal.Decimal
	Note           string
	Outcome        Outcome
	Message        string
	AttemptedAt    time.Time
}
