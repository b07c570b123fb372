package dataservice

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"payrecon/model"
)

// AuditRow is one confirm of an admin action as stored in action_audit.
type AuditRow struct {
	ID             int64
	IdempotencyKey string
	PaymentID      string
	Action         string
	RefundAmount   sql.NullString
	Note           string
	Outcome        string
	Message        string
	AttemptedAt    time.Time
}

func InitDB(ctx context.Context, db *sql.DB) error {
	// 1) every confirm, applied or failed
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS action_audit (
  id              BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  idempotency_key VARCHAR(128) NOT NULL,
  payment_id      VARCHAR(128) NOT NULL,
  action          ENUM('hold','review','refund','rejected') NOT NULL,
  refund_amount   DECIMAL(18,2) NULL,
  note            TEXT         NOT NULL,
  outcome         ENUM('applied','failed') NOT NULL,
  message         TEXT         NOT NULL,
  attempted_at    DATETIME     NOT NULL,
  INDEX (payment_id),
  INDEX (idempotency_key)
)`); err != nil {
		return err
	}

	// 2) replies to console confirms, replayed for a repeated Idempotency-Key
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS idempotency_keys (
  k             VARCHAR(128) NOT NULL,
  endpoint      VARCHAR(64)  NOT NULL,
  response_json TEXT         NOT NULL,
  created_at    DATETIME     NOT NULL,
  PRIMARY KEY (k, endpoint)
)`); err != nil {
		return err
	}

	return nil
}

// InsertAudit saves one attempt and returns its id.
func InsertAudit(ctx context.Context, db *sql.DB, a AuditRow) (int64, error) {
	res, err := db.ExecContext(ctx, `
INSERT INTO action_audit
  (idempotency_key, payment_id, action, refund_amount, note, outcome, message, attempted_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.IdempotencyKey,
		a.PaymentID,
		a.Action,
		a.RefundAmount,
		a.Note,
		a.Outcome,
		a.Message,
		a.AttemptedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAudit returns the latest attempts for one payment, newest first.
func ListAudit(ctx context.Context, db *sql.DB, paymentID string, limit int) ([]AuditRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
SELECT id, idempotency_key, payment_id, action, refund_amount, note, outcome, message, attempted_at
FROM action_audit
WHERE payment_id=?
ORDER BY attempted_at DESC, id DESC
LIMIT ?`, paymentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var a AuditRow
		if err := rows.Scan(&a.ID, &a.IdempotencyKey, &a.PaymentID, &a.Action, &a.RefundAmount, &a.Note, &a.Outcome, &a.Message, &a.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func GetIdempotency(ctx context.Context, db *sql.DB, key, endpoint string) (string, bool, error) {
	var resp string
	err := db.QueryRowContext(ctx, `SELECT response_json FROM idempotency_keys WHERE k=? AND endpoint=?`, key, endpoint).Scan(&resp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return resp, true, nil
}

func SaveIdempotency(ctx context.Context, db *sql.DB, key, endpoint, responseJSON string, now time.Time) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO idempotency_keys (k, endpoint, response_json, created_at)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE response_json=VALUES(response_json), created_at=VALUES(created_at)`,
		key, endpoint, responseJSON, now,
	)
	return err
}

// Auditor records workflow attempts in action_audit.
type Auditor struct {
	DB *sql.DB
}

func NewAuditor(db *sql.DB) *Auditor { return &Auditor{DB: db} }

func (a *Auditor) RecordAttempt(ctx context.Context, at model.ActionAttempt) error {
	row := AuditRow{
		IdempotencyKey: at.IdempotencyKey,
		PaymentID:      at.PaymentID,
		Action:         string(at.Action),
		Note:           at.Note,
		Outcome:        string(at.Outcome),
		Message:        at.Message,
		AttemptedAt:    at.AttemptedAt.UTC(),
	}
	if at.RefundAmount != nil {
		row.RefundAmount = sql.NullString{String: at.RefundAmount.StringFixed(2), Valid: true}
	}
	_, err := InsertAudit(ctx, a.DB, row)
	return err
}
