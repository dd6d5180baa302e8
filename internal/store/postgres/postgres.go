// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultQueryTimeout bounds every statement the store issues.
const DefaultQueryTimeout = 30 * time.Second

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string, queryTimeout time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, model.Connectivity("store.ping", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newWithDB(db, queryTimeout), nil
}

func newWithDB(db *sql.DB, queryTimeout time.Duration) *PostgresStore {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &PostgresStore{db: db, timeout: queryTimeout}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return classify("store.ping", s.db.PingContext(ctx))
}

func (s *PostgresStore) GetWatermark(ctx context.Context, eventType model.EventType) (uint64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	block, ok, err := queryGetWatermark(ctx, s.db, eventType)
	return block, ok, classify("store.getWatermark", err)
}

func (s *PostgresStore) AdvanceWatermark(ctx context.Context, eventType model.EventType, block uint64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	advanced, err := queryAdvanceWatermark(ctx, s.db, eventType, block)
	return advanced, classify("store.advanceWatermark", err)
}

func (s *PostgresStore) ListWatermarks(ctx context.Context) ([]model.Watermark, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	wms, err := queryListWatermarks(ctx, s.db)
	return wms, classify("store.listWatermarks", err)
}

func (s *PostgresStore) QueryEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	events, err := queryEvents(ctx, s.db, filter)
	return events, classify("store.queryEvents", err)
}

// InsertEvents writes the batch in one transaction.
func (s *PostgresStore) InsertEvents(ctx context.Context, events []model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	var inserted int
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		n, err := tx.InsertEvents(ctx, events)
		inserted = n
		return err
	})
	return inserted, err
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("store.begin", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("store.commit", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) GetWatermark(ctx context.Context, eventType model.EventType) (uint64, bool, error) {
	block, ok, err := queryGetWatermark(ctx, s.tx, eventType)
	return block, ok, classify("store.getWatermark", err)
}

func (s *txStore) AdvanceWatermark(ctx context.Context, eventType model.EventType, block uint64) (bool, error) {
	advanced, err := queryAdvanceWatermark(ctx, s.tx, eventType, block)
	return advanced, classify("store.advanceWatermark", err)
}

func (s *txStore) ListWatermarks(ctx context.Context) ([]model.Watermark, error) {
	wms, err := queryListWatermarks(ctx, s.tx)
	return wms, classify("store.listWatermarks", err)
}

func (s *txStore) QueryEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	events, err := queryEvents(ctx, s.tx, filter)
	return events, classify("store.queryEvents", err)
}

func (s *txStore) InsertEvents(ctx context.Context, events []model.Event) (int, error) {
	n, err := queryInsertEvents(ctx, s.tx, events)
	return n, classify("store.insertEvents", err)
}

// Ping is a no-op inside a transaction; the transaction holds a live connection.
func (s *txStore) Ping(context.Context) error {
	return nil
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}

// classify tags err with the store operation. Server-reported SQL errors are
// internal faults; anything else means the database could not be reached.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &model.Error{Kind: model.KindInternal, Op: op, Msg: string(pqErr.Code.Name()), Err: err}
	}
	return model.Connectivity(op, err)
}
