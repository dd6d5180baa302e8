package postgres

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (model.Event, error) {
	var e model.Event
	var (
		eventType  string
		block      int64
		logIndex   sql.NullInt64
		consentID  sql.NullInt64
		requestID  sql.NullInt64
		expiration sql.NullTime
	)

	err := row.Scan(
		&eventType,
		&block,
		&e.TransactionHash,
		&logIndex,
		&consentID,
		&requestID,
		&e.Patient,
		&e.Provider,
		pq.Array(&e.DataTypes),
		pq.Array(&e.Purposes),
		&expiration,
		&e.Timestamp,
	)
	if err != nil {
		return model.Event{}, err
	}

	e.Type = model.EventType(eventType)
	e.BlockNumber = uint64(block)
	if logIndex.Valid {
		e.LogIndex = model.UintPtr(uint(logIndex.Int64))
	}
	if consentID.Valid {
		e.ConsentID = model.Uint64Ptr(uint64(consentID.Int64))
	}
	if requestID.Valid {
		e.RequestID = model.Uint64Ptr(uint64(requestID.Int64))
	}
	if expiration.Valid {
		t := expiration.Time.UTC()
		e.ExpirationTime = &t
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

// scanEvents scans multiple rows into a slice of model.Event.
func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// scanWatermarks scans multiple rows into a slice of model.Watermark.
func scanWatermarks(rows *sql.Rows) ([]model.Watermark, error) {
	var out []model.Watermark
	for rows.Next() {
		var (
			wm        model.Watermark
			eventType string
			block     int64
		)
		if err := rows.Scan(&eventType, &block, &wm.UpdatedAt); err != nil {
			return nil, err
		}
		wm.EventType = model.EventType(eventType)
		wm.BlockNumber = uint64(block)
		out = append(out, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullUint64 converts an optional id to a sql.NullInt64.
func nullUint64(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// nullUint converts an optional log index to a sql.NullInt64.
func nullUint(v *uint) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
