package store

import (
	"context"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// Store defines the persistence interface for the ledger event index.
type Store interface {
	// Watermarks
	GetWatermark(ctx context.Context, eventType model.EventType) (block uint64, ok bool, err error)
	AdvanceWatermark(ctx context.Context, eventType model.EventType, block uint64) (advanced bool, err error)
	ListWatermarks(ctx context.Context) ([]model.Watermark, error)

	// Events
	QueryEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
	InsertEvents(ctx context.Context, events []model.Event) (inserted int, err error)

	// Health
	Ping(ctx context.Context) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
