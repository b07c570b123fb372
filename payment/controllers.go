package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"payrecon/aggregate"
	"payrecon/model"
	"payrecon/upstream"
	"payrecon/workflow"
)

type Handler struct {
	Svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, validate: validator.New()}
}

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{Status: "error", Code: code, Message: message})
}

// writeMappedError turns console errors into HTTP replies. Upstream failures
// keep the server's status and body text.
func (h *Handler) writeMappedError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, code := mapError(err)
	fields := []any{
		"operation", operation,
		"status_code", status,
		"error_code", code,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err.Error(),
	}
	if status >= 500 {
		h.Svc.Logger.ErrorContext(r.Context(), "console operation failed", fields...)
	} else {
		h.Svc.Logger.WarnContext(r.Context(), "console operation failed", fields...)
	}
	writeError(w, status, code, err.Error())
}

func mapError(err error) (int, string) {
	var se *upstream.StatusError
	switch {
	case errors.As(err, &se):
		return http.StatusBadGateway, "UPSTREAM_" + strconv.Itoa(se.Code)
	case errors.Is(err, workflow.ErrSubmissionInFlight):
		return http.StatusConflict, "SUBMISSION_IN_FLIGHT"
	case errors.Is(err, workflow.ErrRecordNotFound):
		return http.StatusNotFound, "RECORD_NOT_FOUND"
	case errors.Is(err, workflow.ErrActionNotApplied):
		return http.StatusUnprocessableEntity, "ACTION_NOT_APPLIED"
	case errors.Is(err, workflow.ErrNoSelection),
		errors.Is(err, workflow.ErrNoPaymentID),
		errors.Is(err, workflow.ErrNoAction),
		errors.Is(err, workflow.ErrRejectionUnconfirmed),
		errors.Is(err, workflow.ErrInvalidAction),
		errors.Is(err, workflow.ErrInvalidPercent),
		errors.Is(err, workflow.ErrInvalidAmount),
		errors.Is(err, workflow.ErrInvalidDuration),
		errors.Is(err, workflow.ErrCustomRangeRequired),
		errors.Is(err, aggregate.ErrUnknownCategory):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, ErrAuditUnavailable):
		return http.StatusNotImplemented, "AUDIT_UNAVAILABLE"
	}
	return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handler) Records() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := model.PageQuery{
			Page:     queryInt(r, "page"),
			PerPage:  queryInt(r, "per_page"),
			Duration: model.Duration(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("duration")))),
			From:     strings.TrimSpace(r.URL.Query().Get("from")),
			To:       strings.TrimSpace(r.URL.Query().Get("to")),
		}
		view, err := h.Svc.LoadRecords(r.Context(), q)
		if err != nil {
			status, code := mapError(err)
			h.Svc.Logger.WarnContext(r.Context(), "load records", "status", status, "error", err)
			// the cleared view goes back with the error so the console shows no data
			writeJSON(w, status, map[string]any{"status": "error", "code": code, "message": err.Error(), "data": view})
			return
		}
		writeSuccess(w, view)
	}
}

type categoryRequest struct {
	Category string `json:"category" validate:"required"`
}

func (h *Handler) Category() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req categoryRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		view, err := h.Svc.ApplyCategory(r.Context(), req.Category)
		if err != nil {
			h.writeMappedError(w, r, "category", err)
			return
		}
		writeSuccess(w, view)
	}
}

func (h *Handler) Totals() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, h.Svc.View().Totals)
	}
}

func (h *Handler) Select() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.Svc.Select(chi.URLParam(r, "payment_id"))
		if err != nil {
			h.writeMappedError(w, r, "select", err)
			return
		}
		writeSuccess(w, view)
	}
}

func (h *Handler) Detail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := h.Svc.View()
		if view.Selected == nil {
			h.writeMappedError(w, r, "detail", workflow.ErrNoSelection)
			return
		}
		writeSuccess(w, map[string]any{"record": view.Selected, "draft": view.Draft, "state": view.State})
	}
}

func (h *Handler) Draft() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DraftRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		view, err := h.Svc.UpdateDraft(req)
		if err != nil {
			h.writeMappedError(w, r, "draft", err)
			return
		}
		writeSuccess(w, view)
	}
}

func (h *Handler) Confirm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		resp, err := h.Svc.Confirm(r.Context(), key)
		if err != nil {
			h.writeMappedError(w, r, "confirm", err)
			return
		}
		writeSuccess(w, resp)
	}
}

type auditEntry struct {
	IdempotencyKey string `json:"idempotency_key"`
	Action         string `json:"action"`
	RefundAmount   string `json:"refund_amount,omitempty"`
	Note           string `json:"note,omitempty"`
	Outcome        string `json:"outcome"`
	Message        string `json:"message"`
	AttemptedAt    string `json:"attempted_at"`
}

func (h *Handler) Audit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := h.Svc.Audit(r.Context(), chi.URLParam(r, "payment_id"), queryInt(r, "limit"))
		if err != nil {
			h.writeMappedError(w, r, "audit", err)
			return
		}
		out := make([]auditEntry, 0, len(rows))
		for _, a := range rows {
			out = append(out, auditEntry{
				IdempotencyKey: a.IdempotencyKey,
				Action:         a.Action,
				RefundAmount:   a.RefundAmount.String,
				Note:           a.Note,
				Outcome:        a.Outcome,
				Message:        a.Message,
				AttemptedAt:    a.AttemptedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		writeSuccess(w, out)
	}
}

func (h *Handler) Export() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := h.Svc.Export(&buf); err != nil {
			h.Svc.Logger.ErrorContext(r.Context(), "export workbook", "error", err)
			writeError(w, http.StatusInternalServerError, "EXPORT_FAILED", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="payments.xlsx"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}
