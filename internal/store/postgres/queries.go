package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// eventColumns is the column list used for SELECT statements on the ledger_events table.
const eventColumns = `event_type, block_number, transaction_hash, log_index,
	consent_id, request_id, patient, provider, data_types, purposes,
	expiration_time, emitted_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryGetWatermark(ctx context.Context, db executor, eventType model.EventType) (uint64, bool, error) {
	var block int64
	err := db.QueryRowContext(ctx,
		`SELECT block_number FROM index_watermarks WHERE event_type = $1`, string(eventType),
	).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(block), true, nil
}

// queryAdvanceWatermark upserts the watermark only when block is above the
// stored value, so retries and concurrent indexers never move it back.
func queryAdvanceWatermark(ctx context.Context, db executor, eventType model.EventType, block uint64) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO index_watermarks (event_type, block_number, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_type) DO UPDATE
			SET block_number = EXCLUDED.block_number, updated_at = EXCLUDED.updated_at
			WHERE index_watermarks.block_number < EXCLUDED.block_number`,
		string(eventType), int64(block),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func queryListWatermarks(ctx context.Context, db executor) ([]model.Watermark, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT event_type, block_number, updated_at FROM index_watermarks ORDER BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWatermarks(rows)
}

// queryInsertEvents inserts events one row at a time. Rows whose dedup key or
// (transaction_hash, log_index) already exists are skipped.
func queryInsertEvents(ctx context.Context, db executor, events []model.Event) (int, error) {
	inserted := 0
	for i := range events {
		e := &events[i]
		res, err := db.ExecContext(ctx, `
			INSERT INTO ledger_events (
				dedup_key, event_type, block_number, transaction_hash, log_index,
				consent_id, request_id, patient, provider, data_types, purposes,
				expiration_time, emitted_at
			) VALUES (
				$1, $2, $3, $4, $5,
				$6, $7, $8, $9, $10, $11,
				$12, $13
			) ON CONFLICT DO NOTHING`,
			e.DedupKey(),
			string(e.Type),
			int64(e.BlockNumber),
			e.TransactionHash,
			nullUint(e.LogIndex),
			nullUint64(e.ConsentID),
			nullUint64(e.RequestID),
			strings.ToLower(e.Patient),
			strings.ToLower(e.Provider),
			pq.Array(nonNil(e.DataTypes)),
			pq.Array(nonNil(e.Purposes)),
			nullTimePtr(e.ExpirationTime),
			e.Timestamp,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert event %s: %w", e.DedupKey(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

func queryEvents(ctx context.Context, db executor, filter model.EventFilter) ([]model.Event, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = nextArg()
			args = append(args, string(t))
		}
		whereClauses = append(whereClauses, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.Patient != "" {
		whereClauses = append(whereClauses, "patient = "+nextArg())
		args = append(args, strings.ToLower(filter.Patient))
	}

	if filter.Provider != "" {
		whereClauses = append(whereClauses, "provider = "+nextArg())
		args = append(args, strings.ToLower(filter.Provider))
	}

	if len(filter.ConsentIDs) > 0 {
		whereClauses = append(whereClauses, "consent_id = ANY("+nextArg()+")")
		args = append(args, pq.Array(toInt64s(filter.ConsentIDs)))
	}

	if len(filter.RequestIDs) > 0 {
		whereClauses = append(whereClauses, "request_id = ANY("+nextArg()+")")
		args = append(args, pq.Array(toInt64s(filter.RequestIDs)))
	}

	if filter.FromBlock != nil {
		whereClauses = append(whereClauses, "block_number >= "+nextArg())
		args = append(args, int64(*filter.FromBlock))
	}

	if filter.ToBlock != nil {
		whereClauses = append(whereClauses, "block_number <= "+nextArg())
		args = append(args, int64(*filter.ToBlock))
	}

	query := `SELECT ` + eventColumns + ` FROM ledger_events`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY block_number ASC, log_index ASC NULLS LAST, seq ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func toInt64s(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
