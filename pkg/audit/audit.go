// Package audit records every tool dispatch. Full detail stays server-side;
// clients only ever see the generic envelope error.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

type Record struct {
	DispatchID  string
	ActorIDHash string
	Tool        string
	Success     bool
	ErrorCode   string
	Args        json.RawMessage
	CreatedAt   time.Time
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if w.Redact {
		rec = redactRecord(rec, w.HashSalt)
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO audit_records
		(dispatch_id, actor_id_hash, tool, success, error_code, args, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.DispatchID, rec.ActorIDHash, rec.Tool, rec.Success, rec.ErrorCode, rec.Args, rec.CreatedAt)
	return err
}

func (w *Writer) Get(ctx context.Context, dispatchID string) (Record, error) {
	var rec Record
	row := w.DB.QueryRow(ctx, `
		SELECT dispatch_id, actor_id_hash, tool, success, error_code, args, created_at
		FROM audit_records WHERE dispatch_id=$1
	`, dispatchID)
	var args json.RawMessage
	if err := row.Scan(&rec.DispatchID, &rec.ActorIDHash, &rec.Tool, &rec.Success, &rec.ErrorCode, &args, &rec.CreatedAt); err != nil {
		return rec, err
	}
	rec.Args = args
	return rec, nil
}
