package payment

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/xuri/excelize/v2"

	"payrecon/model"
	"payrecon/upstream"
	"payrecon/workflow"
)

var testNow = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

type stubSource struct {
	page model.Page
	err  error
}

func (s *stubSource) FetchPage(context.Context, model.PageQuery) (model.Page, error) {
	return s.page, s.err
}

type stubSink struct {
	resp  model.ActionResponse
	err   error
	calls int
	keys  []string
}

func (s *stubSink) SubmitAction(_ context.Context, _ model.RefundAction, key string) (model.ActionResponse, error) {
	s.calls++
	s.keys = append(s.keys, key)
	return s.resp, s.err
}

func record(t *testing.T, js string) model.PaymentRecord {
	t.Helper()
	var r model.PaymentRecord
	if err := json.Unmarshal([]byte(js), &r); err != nil {
		t.Fatal(err)
	}
	return r
}

type env struct {
	srv  *httptest.Server
	src  *stubSource
	sink *stubSink
}

func newEnv(t *testing.T) *env {
	return newEnvWithDB(t, nil)
}

func newEnvWithDB(t *testing.T, db *sql.DB) *env {
	t.Helper()
	e := &env{
		src: &stubSource{page: model.Page{
			Items: []model.PaymentRecord{
				record(t, `{"id":"P1","amount":100,"status":"Completed","createdAt":"2024-03-10T09:00:00Z"}`),
				record(t, `{"id":"P2","amount":"50.00","status":"Refunded","createdAt":"2024-03-09T09:00:00Z"}`),
			},
			Page: 1, PerPage: 25, Total: 2, Pages: 1,
		}},
		sink: &stubSink{resp: model.ActionResponse{Message: "ok"}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctl := workflow.New(workflow.Dependencies{
		Records: e.src,
		Actions: e.sink,
		Logger:  logger,
		Now:     func() time.Time { return testNow },
	})
	e.srv = httptest.NewServer(NewRouter(NewService(ctl, db, logger)))
	t.Cleanup(e.srv.Close)
	return e
}

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) call(t *testing.T, method, path string, body any, header map[string]string) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out envelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	code, out := e.call(t, http.MethodGet, "/healthz", nil, nil)
	if code != http.StatusOK || out.Status != "ok" {
		t.Fatalf("healthz = %d %+v", code, out)
	}
}

func TestRecordsAndTotals(t *testing.T) {
	e := newEnv(t)
	code, out := e.call(t, http.MethodGet, "/v1/console/records?duration=daily", nil, nil)
	if code != http.StatusOK || out.Status != "success" {
		t.Fatalf("records = %d %+v", code, out)
	}
	var v ConsoleView
	if err := json.Unmarshal(out.Data, &v); err != nil {
		t.Fatal(err)
	}
	if !v.HasData || len(v.Rows) != 2 || v.Query.Duration != model.DurationDaily {
		t.Errorf("view = %+v", v)
	}
	if v.Totals.FilteredTotal != "150.00" || v.Totals.RefundedTotal != "50.00" {
		t.Errorf("totals = %+v", v.Totals)
	}

	code, out = e.call(t, http.MethodPost, "/v1/console/category", map[string]string{"category": "today"}, nil)
	if code != http.StatusOK {
		t.Fatalf("category = %d %+v", code, out)
	}
	if err := json.Unmarshal(out.Data, &v); err != nil {
		t.Fatal(err)
	}
	if len(v.Rows) != 1 || v.Rows[0].PaymentID != "P1" {
		t.Errorf("today rows = %+v", v.Rows)
	}
}

func TestRecordsUpstreamFailure(t *testing.T) {
	e := newEnv(t)
	e.src.err = &upstream.StatusError{Code: 503, Body: "maintenance"}
	code, out := e.call(t, http.MethodGet, "/v1/console/records", nil, nil)
	if code != http.StatusBadGateway || out.Code != "UPSTREAM_503" {
		t.Fatalf("records = %d %+v", code, out)
	}
	var v ConsoleView
	if err := json.Unmarshal(out.Data, &v); err != nil {
		t.Fatal(err)
	}
	if v.HasData || len(v.Rows) != 0 {
		t.Errorf("display not cleared: %+v", v)
	}
}

func TestBadRequests(t *testing.T) {
	e := newEnv(t)
	e.call(t, http.MethodGet, "/v1/console/records", nil, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown category", http.MethodPost, "/v1/console/category", map[string]string{"category": "weekly"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/console/category", map[string]string{"cat": "today"}, http.StatusBadRequest},
		{"custom without range", http.MethodGet, "/v1/console/records?duration=custom", nil, http.StatusBadRequest},
		{"missing record", http.MethodPost, "/v1/console/select/NOPE", nil, http.StatusNotFound},
		{"confirm without selection", http.MethodPost, "/v1/console/confirm", nil, http.StatusBadRequest},
		{"bad percent", http.MethodPost, "/v1/console/draft", map[string]any{"refund_percent": 30}, http.StatusBadRequest},
		{"audit without store", http.MethodGet, "/v1/console/audit/P1", nil, http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := e.call(t, tt.method, tt.path, tt.body, nil)
			if code != tt.status || out.Status != "error" {
				t.Errorf("%s %s = %d %+v, want %d", tt.method, tt.path, code, out, tt.status)
			}
		})
	}
}

func TestRefundFlow(t *testing.T) {
	e := newEnv(t)
	e.call(t, http.MethodGet, "/v1/console/records", nil, nil)

	if code, out := e.call(t, http.MethodPost, "/v1/console/select/P1", nil, nil); code != http.StatusOK {
		t.Fatalf("select = %d %+v", code, out)
	}
	draft := map[string]any{"action": "refund", "refund_percent": 50, "note": "customer request"}
	if code, out := e.call(t, http.MethodPost, "/v1/console/draft", draft, nil); code != http.StatusOK {
		t.Fatalf("draft = %d %+v", code, out)
	}
	code, out := e.call(t, http.MethodPost, "/v1/console/confirm", nil, map[string]string{"Idempotency-Key": "k-1"})
	if code != http.StatusOK {
		t.Fatalf("confirm = %d %+v", code, out)
	}
	var resp ConfirmResponse
	if err := json.Unmarshal(out.Data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.PaymentID != "P1" || resp.RefundAmount != "50.00" || resp.IdempotencyKey != "k-1" || resp.Replayed {
		t.Errorf("confirm = %+v", resp)
	}
	if e.sink.calls != 1 || e.sink.keys[0] != "k-1" {
		t.Errorf("sink calls = %d keys = %v", e.sink.calls, e.sink.keys)
	}
}

func TestConfirmNotAppliedIs422(t *testing.T) {
	e := newEnv(t)
	e.call(t, http.MethodGet, "/v1/console/records", nil, nil)
	e.call(t, http.MethodPost, "/v1/console/select/P1", nil, nil)
	e.call(t, http.MethodPost, "/v1/console/draft", map[string]any{"action": "hold"}, nil)

	ok := false
	e.sink.resp = model.ActionResponse{Success: &ok, Message: "payment locked"}
	code, out := e.call(t, http.MethodPost, "/v1/console/confirm", nil, nil)
	if code != http.StatusUnprocessableEntity || out.Code != "ACTION_NOT_APPLIED" {
		t.Fatalf("confirm = %d %+v", code, out)
	}

	e.sink.resp = model.ActionResponse{}
	e.sink.err = &upstream.StatusError{Code: 500, Body: "boom"}
	code, out = e.call(t, http.MethodPost, "/v1/console/confirm", nil, nil)
	if code != http.StatusBadGateway || out.Message == "" {
		t.Fatalf("confirm = %d %+v", code, out)
	}
}

func TestConfirmReplaysStoredResponse(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	e := newEnvWithDB(t, db)
	e.call(t, http.MethodGet, "/v1/console/records", nil, nil)

	stored := `{"idempotency_key":"k-9","payment_id":"P1","action":"hold","message":"ok","replayed":false}`
	mock.ExpectQuery(regexp.QuoteMeta("SELECT response_json FROM idempotency_keys")).
		WithArgs("k-9", confirmEndpoint).
		WillReturnRows(sqlmock.NewRows([]string{"response_json"}).AddRow(stored))

	code, out := e.call(t, http.MethodPost, "/v1/console/confirm", nil, map[string]string{"Idempotency-Key": "k-9"})
	if code != http.StatusOK {
		t.Fatalf("confirm = %d %+v", code, out)
	}
	var resp ConfirmResponse
	if err := json.Unmarshal(out.Data, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Replayed || resp.PaymentID != "P1" {
		t.Errorf("resp = %+v", resp)
	}
	if e.sink.calls != 0 {
		t.Errorf("replay submitted again: %d calls", e.sink.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestExportWorkbook(t *testing.T) {
	e := newEnv(t)
	e.call(t, http.MethodGet, "/v1/console/records", nil, nil)

	resp, err := http.Get(e.srv.URL + "/v1/console/export.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	f, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows("Payments")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("payments sheet rows = %d", len(rows))
	}
}
