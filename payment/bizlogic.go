package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"payrecon/aggregate"
	"payrecon/amount"
	"payrecon/dataservice"
	"payrecon/model"
	"payrecon/render"
	"payrecon/report"
	"payrecon/workflow"
)

const confirmEndpoint = "console.confirm"

// Service is the console use-case layer over one workflow controller. DB is
// optional; without it confirms are not replayed and there is no local audit.
type Service struct {
	Ctl    *workflow.Controller
	DB     *sql.DB
	Logger *slog.Logger
}

func NewService(ctl *workflow.Controller, db *sql.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Ctl: ctl, DB: db, Logger: logger}
}

// ConsoleView is what every console endpoint returns.
type ConsoleView struct {
	Query    model.PageQuery    `json:"query"`
	HasData  bool               `json:"has_data"`
	Page     int                `json:"page"`
	PerPage  int                `json:"per_page"`
	Pages    int                `json:"pages"`
	Total    int                `json:"total"`
	Category aggregate.Category `json:"category"`
	Rows     []render.RowView   `json:"rows"`
	Totals   render.TotalsView  `json:"totals"`
	Selected *render.DetailView `json:"selected,omitempty"`
	Draft    workflow.Draft     `json:"draft"`
	State    workflow.State     `json:"state"`
	Error    string             `json:"error,omitempty"`
}

func (s *Service) present(v workflow.View) ConsoleView {
	now := s.Ctl.Now()
	window := s.Ctl.WindowDays()
	out := ConsoleView{
		Query:    v.Query,
		HasData:  v.HasData,
		Page:     v.Page,
		PerPage:  v.PerPage,
		Pages:    v.Pages,
		Total:    v.Total,
		Category: v.Category,
		Rows:     render.Rows(v.Rows, now, window),
		Totals:   render.Totals(v.Totals),
		Draft:    v.Draft,
		State:    v.State,
		Error:    v.Err,
	}
	if v.Selected != nil {
		d := render.Detail(*v.Selected, now, window)
		out.Selected = &d
	}
	return out
}

func (s *Service) View() ConsoleView {
	return s.present(s.Ctl.Snapshot())
}

func (s *Service) LoadRecords(ctx context.Context, q model.PageQuery) (ConsoleView, error) {
	v, err := s.Ctl.LoadPage(ctx, q)
	return s.present(v), err
}

func (s *Service) ApplyCategory(ctx context.Context, raw string) (ConsoleView, error) {
	cat, err := aggregate.ParseCategory(raw)
	if err != nil {
		return ConsoleView{}, err
	}
	if _, err := s.Ctl.ApplyCategory(ctx, cat); err != nil {
		return ConsoleView{}, err
	}
	return s.View(), nil
}

func (s *Service) Select(id string) (ConsoleView, error) {
	if _, err := s.Ctl.Select(id); err != nil {
		return ConsoleView{}, err
	}
	return s.View(), nil
}

// DraftRequest edits the draft. Absent fields are left as they are.
type DraftRequest struct {
	Action           *string `json:"action" validate:"omitempty,oneof=hold review refund rejected"`
	RefundPercent    *int64  `json:"refund_percent" validate:"omitempty,oneof=25 50 100"`
	RefundAmount     any     `json:"refund_amount"`
	ClearAmount      bool    `json:"clear_amount"`
	Note             *string `json:"note" validate:"omitempty,max=2000"`
	ConfirmRejection bool    `json:"confirm_rejection"`
}

func (s *Service) UpdateDraft(req DraftRequest) (ConsoleView, error) {
	steps := []func() error{}
	if req.Action != nil {
		steps = append(steps, func() error { _, err := s.Ctl.SetAction(model.ActionKind(*req.Action)); return err })
	}
	if req.RefundPercent != nil {
		steps = append(steps, func() error { _, err := s.Ctl.SetPercent(*req.RefundPercent); return err })
	}
	if req.ClearAmount {
		steps = append(steps, func() error { _, err := s.Ctl.ClearManualAmount(); return err })
	}
	if req.RefundAmount != nil {
		steps = append(steps, func() error {
			d := amount.Parse(req.RefundAmount)
			if d == nil {
				return workflow.ErrInvalidAmount
			}
			_, err := s.Ctl.SetManualAmount(*d)
			return err
		})
	}
	if req.Note != nil {
		steps = append(steps, func() error { _, err := s.Ctl.SetNote(*req.Note); return err })
	}
	if req.ConfirmRejection {
		steps = append(steps, func() error { _, err := s.Ctl.ConfirmRejection(); return err })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return s.View(), err
		}
	}
	return s.View(), nil
}

// ConfirmResponse is the reply to a confirm. Replayed is true when it came
// from the idempotency cache instead of a new submission.
type ConfirmResponse struct {
	IdempotencyKey string             `json:"idempotency_key"`
	PaymentID      string             `json:"payment_id"`
	Action         model.ActionKind   `json:"action"`
	RefundAmount   string             `json:"refund_amount,omitempty"`
	Message        string             `json:"message"`
	Record         *render.DetailView `json:"record,omitempty"`
	RefreshError   string             `json:"refresh_error,omitempty"`
	Replayed       bool               `json:"replayed"`
	View           *ConsoleView       `json:"view,omitempty"`
}

// Confirm submits the draft. A repeated idempotencyKey returns the stored
// reply without submitting again.
func (s *Service) Confirm(ctx context.Context, idempotencyKey string) (ConfirmResponse, error) {
	if idempotencyKey != "" && s.DB != nil {
		cached, ok, err := dataservice.GetIdempotency(ctx, s.DB, idempotencyKey, confirmEndpoint)
		if err != nil {
			s.Logger.WarnContext(ctx, "idempotency lookup", "error", err)
		}
		if ok {
			var resp ConfirmResponse
			if err := json.Unmarshal([]byte(cached), &resp); err == nil {
				resp.Replayed = true
				v := s.View()
				resp.View = &v
				return resp, nil
			}
		}
	}

	out, err := s.Ctl.ConfirmWithKey(ctx, idempotencyKey)
	if err != nil {
		return ConfirmResponse{}, err
	}
	resp := ConfirmResponse{
		IdempotencyKey: out.IdempotencyKey,
		PaymentID:      out.Action.PaymentID,
		Action:         out.Action.Action,
		Message:        out.Message,
	}
	if out.Action.RefundAmount != nil {
		resp.RefundAmount = out.Action.RefundAmount.StringFixed(2)
	}
	if out.Record != nil {
		d := render.Detail(*out.Record, s.Ctl.Now(), s.Ctl.WindowDays())
		resp.Record = &d
	}
	if out.RefreshErr != nil {
		resp.RefreshError = out.RefreshErr.Error()
	}

	if s.DB != nil {
		if b, err := json.Marshal(resp); err == nil {
			if err := dataservice.SaveIdempotency(ctx, s.DB, resp.IdempotencyKey, confirmEndpoint, string(b), time.Now().UTC()); err != nil {
				s.Logger.WarnContext(ctx, "save idempotency", "payment_id", resp.PaymentID, "error", err)
			}
		}
	}

	v := s.present(out.View)
	resp.View = &v
	return resp, nil
}

var ErrAuditUnavailable = errors.New("audit store not configured")

func (s *Service) Audit(ctx context.Context, paymentID string, limit int) ([]dataservice.AuditRow, error) {
	if s.DB == nil {
		return nil, ErrAuditUnavailable
	}
	rows, err := dataservice.ListAudit(ctx, s.DB, paymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return rows, nil
}

// Export writes the rows of the active category and the page totals.
func (s *Service) Export(w io.Writer) error {
	v := s.Ctl.Snapshot()
	return report.Write(w, report.Input{
		Query:      v.Query,
		Category:   v.Category,
		Rows:       v.Rows,
		Totals:     v.Totals,
		Now:        s.Ctl.Now(),
		WindowDays: s.Ctl.WindowDays(),
	})
}
