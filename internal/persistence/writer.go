package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// JournalWriter writes settlement records and queue transitions to
// Postgres using multi-row INSERT. Amounts are stored as NUMERIC text
// so wad-scaled values never truncate.
type JournalWriter struct {
	db *sql.DB
}

// RecordRow represents a row in mintd.settlement_records.
type RecordRow struct {
	RecordID    string
	Action      string
	Participant string
	Amount      string // base-10, NUMERIC column
	Encoded     []byte // exact 53-byte wire form as delivered
	CreatedAt   time.Time
}

// RequestRow represents a row in mintd.queue_requests. A request shows
// up once per transition: queued, then paid.
type RequestRow struct {
	RequestID   string
	Beneficiary string
	Amount      string
	State       string
	CreatedAt   time.Time
}

func NewJournalWriter(db *sql.DB) *JournalWriter {
	return &JournalWriter{db: db}
}

// WriteRecordBatch inserts settlement records inside tx.
func (w *JournalWriter) WriteRecordBatch(ctx context.Context, tx *sql.Tx, records []RecordRow) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO mintd.settlement_records
		(record_id, action, participant, amount, encoded, created_at)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*6)

	for i, r := range records {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			r.RecordID, r.Action, r.Participant, r.Amount, r.Encoded, r.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (record_id) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteRequestBatch inserts queue transitions inside tx.
func (w *JournalWriter) WriteRequestBatch(ctx context.Context, tx *sql.Tx, requests []RequestRow) error {
	if len(requests) == 0 {
		return nil
	}

	query := `INSERT INTO mintd.queue_requests
		(request_id, beneficiary, amount, state, created_at)
		VALUES `

	values := make([]string, 0, len(requests))
	args := make([]interface{}, 0, len(requests)*5)

	for i, r := range requests {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args,
			r.RequestID, r.Beneficiary, r.Amount, r.State, r.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (request_id, state) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
