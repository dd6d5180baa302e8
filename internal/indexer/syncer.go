package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/consentd/internal/events"
	"github.com/alfredjeanlab/consentd/internal/ledger"
	"github.com/alfredjeanlab/consentd/internal/model"
)

// ErrIndexDisabled is returned by Sync when no persisted index is configured.
var ErrIndexDisabled = errors.New("event index is disabled")

// SyncResult summarises one Sync call.
type SyncResult struct {
	EventType model.EventType `json:"event_type"`
	FromBlock uint64          `json:"from_block"`
	ToBlock   uint64          `json:"to_block"`
	Fetched   int             `json:"fetched"`
	Inserted  int             `json:"inserted"`
	Advanced  bool            `json:"advanced"`
}

// Sync catches the index up to the current ledger height for one event type.
// The range is fetched in chunks of at most MaxBlockRange blocks; events are
// stored and the watermark advanced after each chunk, so an interrupted sync
// resumes where it stopped.
func (ix *Indexer) Sync(ctx context.Context, eventType model.EventType) (SyncResult, error) {
	res := SyncResult{EventType: eventType}
	if ix.store == nil {
		return res, ErrIndexDisabled
	}

	w, ok, err := ix.store.GetWatermark(ctx, eventType)
	if err != nil {
		return res, fmt.Errorf("reading watermark: %w", err)
	}
	start := ix.genesis
	if ok && w+1 > start {
		start = w + 1
	}
	height, err := ix.ledger.CurrentBlockHeight(ctx)
	if err != nil {
		return res, err
	}
	res.FromBlock = start
	if start > height {
		res.ToBlock = height
		return res, nil
	}

	for from := start; from <= height; {
		to := min(from+ix.maxRange-1, height)
		fetched, err := ix.ledger.QueryEvents(ctx, eventType, ledger.Query{}, &from, &to)
		if err != nil {
			return res, err
		}
		n, err := ix.store.InsertEvents(ctx, fetched)
		if err != nil {
			return res, fmt.Errorf("storing blocks %d-%d: %w", from, to, err)
		}
		advanced, err := ix.store.AdvanceWatermark(ctx, eventType, to)
		if err != nil {
			return res, fmt.Errorf("advancing watermark to %d: %w", to, err)
		}
		res.Fetched += len(fetched)
		res.Inserted += n
		res.Advanced = res.Advanced || advanced
		res.ToBlock = to
		from = to + 1
	}

	if res.Advanced {
		err := ix.publisher.Publish(ctx, events.TopicIndexAdvanced, events.IndexAdvanced{
			EventType:   eventType,
			FromBlock:   res.FromBlock,
			BlockNumber: res.ToBlock,
			Inserted:    res.Inserted,
			At:          time.Now().UTC(),
		})
		if err != nil {
			ix.logger.Warn("publishing index advance failed", "event_type", eventType, "err", err)
		}
	}
	return res, nil
}

// SyncAll runs Sync for every ledger event type. A failing type does not
// stop the others; their errors are joined.
func (ix *Indexer) SyncAll(ctx context.Context) ([]SyncResult, error) {
	var (
		results []SyncResult
		errs    []error
	)
	for _, t := range model.LedgerEventTypes {
		res, err := ix.Sync(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Syncer runs SyncAll periodically.
type Syncer struct {
	indexer  *Indexer
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer creates a syncer that catches the index up at the given interval.
func NewSyncer(ix *Indexer, interval time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		indexer:  ix,
		interval: interval,
		logger:   logger,
	}
}

// Start begins periodic sync. It runs an initial sync immediately, then
// on each tick.
func (s *Syncer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the syncer and waits for the current sync (if any) to finish.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Syncer) run(ctx context.Context) {
	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Syncer) syncOnce(ctx context.Context) {
	results, err := s.indexer.SyncAll(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("index sync failed", "err", err)
	}
	inserted := 0
	for _, r := range results {
		inserted += r.Inserted
	}
	s.logger.Debug("index sync completed", "types", len(results), "inserted", inserted)
}
