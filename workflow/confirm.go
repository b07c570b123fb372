package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"payrecon/aggregate"
	"payrecon/amount"
	"payrecon/events"
	"payrecon/facts"
	"payrecon/model"
	"payrecon/rawdecode"
)

// Outcome describes an applied action. Record is the refreshed detail of the
// acted-on payment, or nil when it could not be relocated. RefreshErr is set
// when the follow-up page reload failed; the action itself still stands.
type Outcome struct {
	IdempotencyKey string
	Action         model.RefundAction
	Message        string
	Record         *aggregate.Row
	RefreshErr     error
	View           View
}

// Confirm submits the current draft under a fresh idempotency key.
func (c *Controller) Confirm(ctx context.Context) (Outcome, error) {
	return c.ConfirmWithKey(ctx, "")
}

// ConfirmWithKey submits the current draft. Only one submission may be in
// flight; a second call while one is outstanding fails with
// ErrSubmissionInFlight. Validation failures never reach the network.
func (c *Controller) ConfirmWithKey(ctx context.Context, key string) (Outcome, error) {
	c.mu.Lock()
	if c.s.Selected == nil {
		c.mu.Unlock()
		return Outcome{}, ErrNoSelection
	}
	if c.s.State == StateSubmitting {
		c.mu.Unlock()
		return Outcome{}, ErrSubmissionInFlight
	}
	selectedID := c.s.Selected.Record.ID
	action, err := buildAction(*c.s.Selected, c.s.Draft)
	if err == nil {
		err = c.validateAction(action)
	}
	if err != nil {
		c.mu.Unlock()
		return Outcome{}, err
	}
	if key == "" {
		key = c.newKey()
	}
	c.s.State = StateSubmitting
	c.mu.Unlock()

	resp, err := c.actions.SubmitAction(ctx, action, key)
	if err == nil && resp.Success != nil && !*resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "server reported failure"
		}
		err = fmt.Errorf("%w: %s", ErrActionNotApplied, msg)
	}

	now := c.nowFn()
	attempt := model.ActionAttempt{
		IdempotencyKey: key,
		PaymentID:      action.PaymentID,
		Action:         action.Action,
		RefundAmount:   action.RefundAmount,
		Note:           action.Note,
		Outcome:        model.OutcomeApplied,
		Message:        resp.Message,
		AttemptedAt:    now,
	}
	ev := events.Event{
		Type:           events.TypeActionApplied,
		PaymentID:      action.PaymentID,
		Action:         string(action.Action),
		IdempotencyKey: key,
		Message:        resp.Message,
	}
	if action.RefundAmount != nil {
		ev.Amount = action.RefundAmount.StringFixed(2)
	}
	ev.Stamp(now)
	if err != nil {
		attempt.Outcome = model.OutcomeFailed
		attempt.Message = err.Error()
		ev.Type = events.TypeActionFailed
		ev.Message = err.Error()
	}
	if aerr := c.auditor.RecordAttempt(ctx, attempt); aerr != nil {
		c.log.ErrorContext(ctx, "record action attempt", "payment_id", action.PaymentID, "action", action.Action, "error", aerr)
	}

	if err != nil {
		c.mu.Lock()
		c.s.State = StateFailed
		c.s.Err = err.Error()
		c.mu.Unlock()
		c.pub.Publish(ctx, ev)
		c.log.WarnContext(ctx, "action failed", "payment_id", action.PaymentID, "action", action.Action, "error", err)
		return Outcome{IdempotencyKey: key, Action: action, View: c.Snapshot()}, err
	}

	c.mu.Lock()
	c.s.State = StateApplied
	c.s.Err = ""
	c.s.Draft = Draft{}
	if resp.UpdatedPayment != nil {
		rec := *resp.UpdatedPayment
		r := aggregate.Row{Record: rec, Facts: facts.Extract(rec)}
		c.s.Selected = &r
	} else if r, ok := c.s.findRow(selectedID); ok {
		c.s.Selected = &r
	}
	var sel *aggregate.Row
	if c.s.Selected != nil {
		cp := *c.s.Selected
		sel = &cp
	}
	hasPage := c.s.Page != nil
	c.mu.Unlock()

	c.pub.Publish(ctx, ev)
	c.log.InfoContext(ctx, "action applied", "payment_id", action.PaymentID, "action", action.Action, "status", resp.Message)

	out := Outcome{IdempotencyKey: key, Action: action, Message: resp.Message, Record: sel}
	if hasPage {
		if _, rerr := c.Reload(ctx); rerr != nil {
			out.RefreshErr = rerr
		}
	}
	out.View = c.Snapshot()
	return out, nil
}

func (c *Controller) validateAction(a model.RefundAction) error {
	err := c.validate.Struct(a)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w: %s failed %s", ErrInvalidAction, verrs[0].Field(), verrs[0].Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidAction, err)
}

// buildAction turns a draft into the request body. Only refund carries an
// amount; a manual amount beats the preset percentage.
func buildAction(r aggregate.Row, d Draft) (model.RefundAction, error) {
	id := paymentID(r.Record)
	if id == "" {
		return model.RefundAction{}, ErrNoPaymentID
	}
	if d.Action == "" {
		return model.RefundAction{}, ErrNoAction
	}
	if d.Action == model.ActionRejected && !d.RejectionConfirmed {
		return model.RefundAction{}, ErrRejectionUnconfirmed
	}
	a := model.RefundAction{PaymentID: id, Action: d.Action, Note: strings.TrimSpace(d.Note)}
	if d.Action != model.ActionRefund {
		return a, nil
	}

	amt, err := refundAmount(r.Facts, d)
	if err != nil {
		return model.RefundAction{}, err
	}
	a.RefundAmount = &amt
	if d.Manual == nil && d.Percent != nil {
		p := *d.Percent
		a.RefundPercent = &p
	}
	return a, nil
}

func refundAmount(f model.FinancialFacts, d Draft) (decimal.Decimal, error) {
	var amt decimal.Decimal
	switch {
	case d.Manual != nil && d.Manual.IsPositive():
		amt = amount.Round2(*d.Manual)
	case d.Percent != nil:
		if f.Gross == nil {
			return decimal.Zero, fmt.Errorf("%w: gross amount unknown", ErrInvalidAmount)
		}
		amt = amount.Round2(f.Gross.Mul(*d.Percent).Div(decimal.NewFromInt(100)))
	default:
		if f.Gross == nil {
			return decimal.Zero, fmt.Errorf("%w: gross amount unknown", ErrInvalidAmount)
		}
		amt = amount.Round2(*f.Gross)
	}
	if !amt.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amt, nil
}

// paymentID resolves the id to act on: the record id, then the usual
// alternative field names, then the gateway's own id.
func paymentID(rec model.PaymentRecord) string {
	if id := strings.TrimSpace(rec.ID); id != "" {
		return id
	}
	for _, k := range []string{"payment_id", "paymentId"} {
		if id := strings.TrimSpace(cast.ToString(rec.Field(k))); id != "" {
			return id
		}
	}
	return strings.TrimSpace(cast.ToString(rawdecode.Lookup(rawdecode.Decode(rec.RawResponse), "id")))
}
