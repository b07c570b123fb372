package workflow

import (
	"fmt"

	"github.com/shopspring/decimal"

	"payrecon/aggregate"
	"payrecon/model"
)

// RefundPresets are the only percentages the operator can pick.
var RefundPresets = []int64{25, 50, 100}

// Select makes the record with id the subject of a new draft.
func (c *Controller) Select(id string) (aggregate.Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.State == StateSubmitting {
		return aggregate.Row{}, ErrSubmissionInFlight
	}
	r, ok := c.s.findRow(id)
	if !ok {
		return aggregate.Row{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	c.s.Selected = &r
	c.s.Draft = Draft{}
	c.s.State = StateComposing
	return r, nil
}

// edit runs fn against the draft of the selected record. Editing after a
// failure or an applied action starts composing again; a failed draft keeps
// its fields.
func (c *Controller) edit(fn func(d *Draft) error) (Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.Selected == nil {
		return c.s.Draft, ErrNoSelection
	}
	if c.s.State == StateSubmitting {
		return c.s.Draft, ErrSubmissionInFlight
	}
	d := c.s.Draft
	if err := fn(&d); err != nil {
		return c.s.Draft, err
	}
	c.s.Draft = d
	c.s.State = StateComposing
	return d, nil
}

func (c *Controller) SetAction(kind model.ActionKind) (Draft, error) {
	return c.edit(func(d *Draft) error {
		if !kind.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidAction, kind)
		}
		if kind != d.Action {
			d.RejectionConfirmed = false
		}
		d.Action = kind
		return nil
	})
}

// SetPercent picks one of the refund presets.
func (c *Controller) SetPercent(percent int64) (Draft, error) {
	return c.edit(func(d *Draft) error {
		for _, p := range RefundPresets {
			if p == percent {
				v := decimal.NewFromInt(percent)
				d.Percent = &v
				return nil
			}
		}
		return fmt.Errorf("%w: %d", ErrInvalidPercent, percent)
	})
}

// SetManualAmount overrides any preset percentage.
func (c *Controller) SetManualAmount(amount decimal.Decimal) (Draft, error) {
	return c.edit(func(d *Draft) error {
		if !amount.IsPositive() {
			return ErrInvalidAmount
		}
		d.Manual = &amount
		return nil
	})
}

func (c *Controller) ClearManualAmount() (Draft, error) {
	return c.edit(func(d *Draft) error {
		d.Manual = nil
		return nil
	})
}

func (c *Controller) SetNote(note string) (Draft, error) {
	return c.edit(func(d *Draft) error {
		d.Note = note
		return nil
	})
}

// ConfirmRejection is the second confirmation a rejected action needs.
func (c *Controller) ConfirmRejection() (Draft, error) {
	return c.edit(func(d *Draft) error {
		if d.Action != model.ActionRejected {
			return fmt.Errorf("%w: only rejected needs confirmation", ErrInvalidAction)
		}
		d.RejectionConfirmed = true
		return nil
	})
}
