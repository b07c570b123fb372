package workflow

import "errors"

var (
	ErrNoPaymentID          = errors.New("no payment id on the selected record")
	ErrRejectionUnconfirmed = errors.New("rejected requires explicit confirmation")
	ErrNoSelection          = errors.New("no record selected")
	ErrNoAction             = errors.New("no action chosen")
	ErrInvalidAction        = errors.New("invalid action")
	ErrInvalidPercent       = errors.New("refund percent must be 25, 50 or 100")
	ErrInvalidAmount        = errors.New("refund amount must be greater than zero")
	ErrInvalidDuration      = errors.New("unknown duration")
	ErrCustomRangeRequired  = errors.New("custom duration requires from and to as YYYY-MM-DD")
	ErrSubmissionInFlight   = errors.New("an action is already being submitted")
	ErrRecordNotFound       = errors.New("record not on the current page")
	ErrActionNotApplied     = errors.New("action not applied")
)
