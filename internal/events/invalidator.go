package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/consentd/internal/cache"
)

// CacheInvalidator drops cached reads affected by a ledger write.
// *query.Service implements it.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, ch cache.Change) (int, error)
}

// Change returns the cache change described by the notification.
func (n WriteNotification) Change() cache.Change {
	return cache.Change{
		Patient:   n.Patient,
		Provider:  n.Provider,
		ConsentID: n.ConsentID,
		RequestID: n.RequestID,
	}
}

// Invalidator turns write notifications into cache invalidations.
type Invalidator struct {
	target CacheInvalidator
	logger *slog.Logger
}

// NewInvalidator creates an Invalidator.
func NewInvalidator(target CacheInvalidator, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{target: target, logger: logger}
}

// Run subscribes to TopicWrites and invalidates until ctx is done or the
// subscription channel closes.
func (inv *Invalidator) Run(ctx context.Context, sub Subscriber) error {
	ch, cancel, err := sub.Subscribe(TopicWrites)
	if err != nil {
		return fmt.Errorf("subscribing to write notifications: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			inv.handle(ctx, data)
		}
	}
}

func (inv *Invalidator) handle(ctx context.Context, data []byte) {
	var n WriteNotification
	if err := json.Unmarshal(data, &n); err != nil {
		inv.logger.Warn("ignoring undecodable write notification", "op", "events.invalidate", "err", err)
		return
	}
	deleted, err := inv.target.Invalidate(ctx, n.Change())
	if err != nil {
		inv.logger.Warn("cache invalidation rejected", "op", "events.invalidate",
			"transaction_hash", n.TransactionHash, "err", err)
		return
	}
	inv.logger.Debug("cache invalidated from write notification",
		"transaction_hash", n.TransactionHash, "deleted", deleted)
}
