package dataservice

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"payrecon/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestInitDB(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS action_audit")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS idempotency_keys")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := InitDB(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAuditorRecordAttempt(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	amt := decimal.RequireFromString("50")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO action_audit")).
		WithArgs("key-1", "P1", "refund", sql.NullString{String: "50.00", Valid: true}, "partial", "applied", "ok", at).
		WillReturnResult(sqlmock.NewResult(7, 1))

	err := NewAuditor(db).RecordAttempt(context.Background(), model.ActionAttempt{
		IdempotencyKey: "key-1",
		PaymentID:      "P1",
		Action:         model.ActionRefund,
		RefundAmount:   &amt,
		Note:           "partial",
		Outcome:        model.OutcomeApplied,
		Message:        "ok",
		AttemptedAt:    at,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAuditorHoldHasNoAmount(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO action_audit")).
		WithArgs("key-2", "P1", "hold", sql.NullString{}, "", "failed", "upstream returned 500", at).
		WillReturnResult(sqlmock.NewResult(8, 1))

	err := NewAuditor(db).RecordAttempt(context.Background(), model.ActionAttempt{
		IdempotencyKey: "key-2",
		PaymentID:      "P1",
		Action:         model.ActionHold,
		Outcome:        model.OutcomeFailed,
		Message:        "upstream returned 500",
		AttemptedAt:    at,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListAudit(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "idempotency_key", "payment_id", "action", "refund_amount", "note", "outcome", "message", "attempted_at"}).
		AddRow(2, "key-2", "P1", "refund", "25.00", "", "applied", "ok", at).
		AddRow(1, "key-1", "P1", "hold", nil, "check", "applied", "ok", at.Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("FROM action_audit")).WithArgs("P1", 50).WillReturnRows(rows)

	got, err := ListAudit(context.Background(), db, "P1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].RefundAmount.String != "25.00" || got[1].RefundAmount.Valid {
		t.Errorf("rows = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIdempotency(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT response_json FROM idempotency_keys")).
		WithArgs("k1", "confirm").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO idempotency_keys")).
		WithArgs("k1", "confirm", `{"message":"ok"}`, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT response_json FROM idempotency_keys")).
		WithArgs("k1", "confirm").
		WillReturnRows(sqlmock.NewRows([]string{"response_json"}).AddRow(`{"message":"ok"}`))

	ctx := context.Background()
	if _, ok, err := GetIdempotency(ctx, db, "k1", "confirm"); ok || err != nil {
		t.Fatalf("first lookup = %v, %v", ok, err)
	}
	if err := SaveIdempotency(ctx, db, "k1", "confirm", `{"message":"ok"}`, now); err != nil {
		t.Fatal(err)
	}
	got, ok, err := GetIdempotency(ctx, db, "k1", "confirm")
	if err != nil || !ok || got != `{"message":"ok"}` {
		t.Fatalf("second lookup = %q, %v, %v", got, ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
