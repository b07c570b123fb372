// Package workflow drives the admin console: it loads pages of payment
// records, keeps the dashboard totals and category filter, and walks one
// hold/review/refund/rejected action at a time from draft to submission.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"payrecon/aggregate"
	"payrecon/events"
	"payrecon/facts"
	"payrecon/model"
)

// RecordSource serves pages of payment records.
type RecordSource interface {
	FetchPage(ctx context.Context, q model.PageQuery) (model.Page, error)
}

// ActionSink applies an admin action on the records server.
type ActionSink interface {
	SubmitAction(ctx context.Context, a model.RefundAction, idempotencyKey string) (model.ActionResponse, error)
}

type Auditor interface {
	RecordAttempt(ctx context.Context, a model.ActionAttempt) error
}

type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

type Config struct {
	PerPage         int
	DefaultDuration model.Duration
	WindowDays      int
}

type Dependencies struct {
	Config    Config
	Records   RecordSource
	Actions   ActionSink
	Auditor   Auditor
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
	NewKey    func() string
}

type Controller struct {
	cfg      Config
	records  RecordSource
	actions  ActionSink
	auditor  Auditor
	pub      Publisher
	log      *slog.Logger
	nowFn    func() time.Time
	newKey   func() string
	validate *validator.Validate

	mu sync.Mutex
	s  Session
}

func New(deps Dependencies) *Controller {
	c := &Controller{
		cfg:      deps.Config,
		records:  deps.Records,
		actions:  deps.Actions,
		auditor:  deps.Auditor,
		pub:      deps.Publisher,
		log:      deps.Logger,
		nowFn:    deps.Now,
		newKey:   deps.NewKey,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		s:        Session{Category: aggregate.Filtered, State: StateIdle},
	}
	if c.cfg.PerPage <= 0 {
		c.cfg.PerPage = 25
	}
	if c.cfg.DefaultDuration == "" {
		c.cfg.DefaultDuration = model.DurationDaily
	}
	if c.cfg.WindowDays <= 0 {
		c.cfg.WindowDays = facts.DefaultWindowDays
	}
	if c.auditor == nil {
		c.auditor = nopAuditor{}
	}
	if c.pub == nil {
		c.pub = nopPublisher{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.nowFn == nil {
		c.nowFn = time.Now
	}
	if c.newKey == nil {
		c.newKey = uuid.NewString
	}
	return c
}

// Now is the controller's clock.
func (c *Controller) Now() time.Time { return c.nowFn() }

func (c *Controller) WindowDays() int { return c.cfg.WindowDays }

// NormalizeQuery fills defaults and validates q without any network call.
func (c *Controller) NormalizeQuery(q model.PageQuery) (model.PageQuery, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = c.cfg.PerPage
	}
	q.PerPage = min(q.PerPage, model.MaxPerPage)
	if q.Duration == "" {
		q.Duration = c.cfg.DefaultDuration
	}
	if !q.Duration.Valid() {
		return q, fmt.Errorf("%w: %q", ErrInvalidDuration, q.Duration)
	}
	if q.Duration != model.DurationCustom {
		q.From, q.To = "", ""
		return q, nil
	}
	from, errFrom := time.Parse(time.DateOnly, q.From)
	to, errTo := time.Parse(time.DateOnly, q.To)
	if errFrom != nil || errTo != nil || to.Before(from) {
		return q, ErrCustomRangeRequired
	}
	return q, nil
}

// LoadPage fetches a page and replaces the whole displayed set. On failure
// the display is cleared to no data and the error is returned.
func (c *Controller) LoadPage(ctx context.Context, q model.PageQuery) (View, error) {
	q, err := c.NormalizeQuery(q)
	if err != nil {
		return c.Snapshot(), err
	}

	page, err := c.records.FetchPage(ctx, q)
	var rows []aggregate.Row
	if err == nil {
		rows, err = extractRows(ctx, page.Items)
	}
	if err != nil {
		c.mu.Lock()
		c.s.Query = q
		c.s.Page = nil
		c.s.Rows = nil
		c.s.Totals = aggregate.Totals(nil, c.nowFn())
		c.s.Err = err.Error()
		c.mu.Unlock()
		c.log.WarnContext(ctx, "load page", "page", q.Page, "duration", q.Duration, "error", err)
		return c.Snapshot(), fmt.Errorf("load page: %w", err)
	}

	now := c.nowFn()
	c.mu.Lock()
	c.s.Query = q
	c.s.Page = &page
	c.s.Rows = rows
	c.s.Totals = aggregate.Totals(rows, now)
	c.s.Err = ""
	if c.s.Selected != nil {
		if r, ok := c.s.findRow(c.s.Selected.Record.ID); ok {
			c.s.Selected = &r
		}
	}
	view := c.viewLocked(now)
	c.mu.Unlock()

	ev := events.Event{Type: events.TypePageRendered, Page: page.Page, Count: len(rows)}
	ev.Stamp(now)
	c.pub.Publish(ctx, ev)
	return view, nil
}

// Reload fetches the last requested page again.
func (c *Controller) Reload(ctx context.Context) (View, error) {
	c.mu.Lock()
	q := c.s.Query
	c.mu.Unlock()
	return c.LoadPage(ctx, q)
}

func extractRows(ctx context.Context, recs []model.PaymentRecord) ([]aggregate.Row, error) {
	fs, err := facts.ExtractAll(ctx, recs)
	if err != nil {
		return nil, err
	}
	rows := make([]aggregate.Row, len(recs))
	for i := range recs {
		rows[i] = aggregate.Row{Record: recs[i], Facts: fs[i]}
	}
	return rows, nil
}

// ApplyCategory switches the active filter and returns the matching rows.
func (c *Controller) ApplyCategory(ctx context.Context, cat aggregate.Category) ([]aggregate.Row, error) {
	if _, err := aggregate.ParseCategory(string(cat)); err != nil {
		return nil, err
	}
	now := c.nowFn()
	c.mu.Lock()
	c.s.Category = cat
	rows := aggregate.Filter(c.s.Rows, cat, now)
	c.mu.Unlock()

	ev := events.Event{Type: events.TypeFilterApplied, Category: string(cat), Count: len(rows)}
	ev.Stamp(now)
	c.pub.Publish(ctx, ev)
	return rows, nil
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() View {
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked(now)
}

func (c *Controller) viewLocked(now time.Time) View {
	v := View{
		Query:    c.s.Query,
		HasData:  c.s.Page != nil,
		Rows:     aggregate.Filter(c.s.Rows, c.s.Category, now),
		Totals:   c.s.Totals,
		Category: c.s.Category,
		Draft:    c.s.Draft,
		State:    c.s.State,
		Err:      c.s.Err,
	}
	if c.s.Page != nil {
		v.Page = c.s.Page.Page
		v.PerPage = c.s.Page.PerPage
		v.Pages = c.s.Page.Pages
		v.Total = c.s.Page.Total
	}
	if v.Totals.Counts == nil {
		v.Totals = aggregate.Totals(nil, now)
	}
	if c.s.Selected != nil {
		sel := *c.s.Selected
		v.Selected = &sel
	}
	return v
}

type nopAuditor struct{}

func (nopAuditor) RecordAttempt(context.Context, model.ActionAttempt) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.Event) {}
