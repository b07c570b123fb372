package workflow

import (
	"github.com/shopspring/decimal"

	"payrecon/aggregate"
	"payrecon/model"
)

type State string

const (
	StateIdle       State = "idle"
	StateComposing  State = "composing"
	StateSubmitting State = "submitting"
	StateApplied    State = "applied"
	StateFailed     State = "failed"
)

// Draft holds what the operator has entered for the selected record.
type Draft struct {
	Action             model.ActionKind `json:"action,omitempty"`
	Percent            *decimal.Decimal `json:"refund_percent,omitempty"`
	Manual             *decimal.Decimal `json:"refund_amount,omitempty"`
	Note               string           `json:"note,omitempty"`
	RejectionConfirmed bool             `json:"rejection_confirmed"`
}

// Session is the console state owned by one Controller. Page is nil when
// there is no data to show, either before the first load or after a failed
// one.
type Session struct {
	Query    model.PageQuery
	Page     *model.Page
	Rows     []aggregate.Row
	Totals   model.AggregateTotals
	Category aggregate.Category
	Selected *aggregate.Row
	Draft    Draft
	State    State
	Err      string
}

// View is a copy of the session for rendering. Rows holds only the rows of
// the active category.
type View struct {
	Query    model.PageQuery
	Page     int
	PerPage  int
	Pages    int
	Total    int
	HasData  bool
	Rows     []aggregate.Row
	Totals   model.AggregateTotals
	Category aggregate.Category
	Selected *aggregate.Row
	Draft    Draft
	State    State
	Err      string
}

func (s *Session) findRow(id string) (aggregate.Row, bool) {
	for _, r := range s.Rows {
		if r.Record.ID == id {
			return r, true
		}
	}
	return aggregate.Row{}, false
}
