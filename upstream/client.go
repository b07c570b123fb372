// Package upstream talks to the records server: it lists payment records and
// posts admin actions.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/valyala/fasthttp"

	"payrecon/model"
)

const (
	headerAdminToken  = "X-ADMIN-TOKEN"
	headerIdempotency = "Idempotency-Key"

	defaultTimeout = 15 * time.Second
)

// StatusError is a non-2xx reply. Body is the response text, unmodified.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("upstream returned %d", e.Code)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Code, body)
}

type Client struct {
	RecordsURL string
	ActionURL  string
	AdminToken string
	Timeout    time.Duration
	HTTP       *fasthttp.Client
}

func NewClient(recordsURL, actionURL, adminToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		RecordsURL: recordsURL,
		ActionURL:  actionURL,
		AdminToken: adminToken,
		Timeout:    timeout,
		HTTP: &fasthttp.Client{
			Name:                "payrecon",
			MaxIdleConnDuration: time.Minute,
		},
	}
}

// FetchPage lists one page of records. Duration is always sent.
func (c *Client) FetchPage(ctx context.Context, q model.PageQuery) (model.Page, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.RecordsURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	args := req.URI().QueryArgs()
	args.Set("page", strconv.Itoa(q.Page))
	args.Set("per_page", strconv.Itoa(q.PerPage))
	args.Set("duration", string(q.Duration))
	if q.From != "" {
		args.Set("from", q.From)
	}
	if q.To != "" {
		args.Set("to", q.To)
	}

	if err := c.do(ctx, req, resp); err != nil {
		return model.Page{}, fmt.Errorf("fetch records: %w", err)
	}
	page, err := decodePage(resp.Body())
	if err != nil {
		return model.Page{}, fmt.Errorf("fetch records: %w", err)
	}
	if page.Page == 0 {
		page.Page = q.Page
	}
	if page.PerPage == 0 {
		page.PerPage = q.PerPage
	}
	return page, nil
}

// SubmitAction posts one admin action. The idempotency key lets the server
// recognize a resubmission of the same confirm.
func (c *Client) SubmitAction(ctx context.Context, a model.RefundAction, idempotencyKey string) (model.ActionResponse, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return model.ActionResponse{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.ActionURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotency, idempotencyKey)
	}
	req.SetBody(body)

	if err := c.do(ctx, req, resp); err != nil {
		return model.ActionResponse{}, err
	}
	return decodeActionResponse(resp.Body())
}

func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.AdminToken != "" {
		req.Header.Set(headerAdminToken, c.AdminToken)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	client := c.HTTP
	if client == nil {
		client = &fasthttp.Client{}
	}
	if err := client.DoDeadline(req, resp, deadline); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return &StatusError{Code: code, Body: string(resp.Body())}
	}
	return nil
}

type wirePage struct {
	Items   []json.RawMessage `json:"items"`
	Page    any               `json:"page"`
	PerPage any               `json:"per_page"`
	Total   any               `json:"total"`
	Pages   any               `json:"pages"`
}

// decodePage reads the list envelope. Items that are not JSON objects are
// skipped rather than failing the page.
func decodePage(body []byte) (model.Page, error) {
	var w wirePage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return model.Page{}, fmt.Errorf("decode page: %w", err)
	}
	page := model.Page{
		Items:   make([]model.PaymentRecord, 0, len(w.Items)),
		Page:    cast.ToInt(w.Page),
		PerPage: cast.ToInt(w.PerPage),
		Total:   cast.ToInt(w.Total),
		Pages:   cast.ToInt(w.Pages),
	}
	for _, raw := range w.Items {
		var rec model.PaymentRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		page.Items = append(page.Items, rec)
	}
	if page.Total == 0 {
		page.Total = len(page.Items)
	}
	return page, nil
}

type wireActionResponse struct {
	Success        any             `json:"success"`
	Message        string          `json:"message"`
	Error          string          `json:"error"`
	UpdatedPayment json.RawMessage `json:"updated_payment"`
}

func decodeActionResponse(body []byte) (model.ActionResponse, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return model.ActionResponse{}, nil
	}
	var w wireActionResponse
	if err := json.Unmarshal(body, &w); err != nil {
		// a 2xx with a plain text body still counts as applied
		return model.ActionResponse{Message: strings.TrimSpace(string(body))}, nil
	}
	out := model.ActionResponse{Message: w.Message}
	if out.Message == "" {
		out.Message = w.Error
	}
	if w.Success != nil {
		ok, err := cast.ToBoolE(w.Success)
		if err != nil {
			ok = false
		}
		out.Success = &ok
	}
	if len(w.UpdatedPayment) > 0 && !bytes.Equal(bytes.TrimSpace(w.UpdatedPayment), []byte("null")) {
		var rec model.PaymentRecord
		if err := json.Unmarshal(w.UpdatedPayment, &rec); err == nil {
			out.UpdatedPayment = &rec
		}
	}
	return out, nil
}
