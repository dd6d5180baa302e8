// Package indexer decides how much of a query can be answered from the
// persisted event index and how much must be fetched from the ledger, and
// keeps the index and its watermarks moving forward.
package indexer

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/consentd/internal/events"
	"github.com/alfredjeanlab/consentd/internal/ledger"
	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/store"
)

// FetchRange is the outcome of ResolveFetchRange for one event type.
type FetchRange struct {
	// UseIndexOnly is set when the index covers the whole requested range.
	UseIndexOnly bool
	// From is the first block to fetch from the ledger.
	From uint64
	// To is the last block to fetch; nil means the latest block.
	To *uint64
	// IndexAvailable reports whether the index could be consulted.
	IndexAvailable bool
	// Contiguous is set when From directly follows the indexed prefix, so a
	// complete unfiltered fetch may advance the watermark.
	Contiguous bool
	// Covered is set when a watermark exists and the index holds every block
	// before From. Only then can a failed ledger fetch be read as "nothing new".
	Covered bool
}

// Config holds the Indexer's tunables.
type Config struct {
	GenesisBlock  uint64
	MaxBlockRange uint64
}

// Indexer combines the ledger and the persisted index.
type Indexer struct {
	ledger    ledger.Client
	store     store.Store
	publisher events.Publisher
	genesis   uint64
	maxRange  uint64
	logger    *slog.Logger
}

// New creates an Indexer. A nil store disables the index; every query then
// fetches its full range from the ledger. A nil publisher drops notifications.
func New(l ledger.Client, s store.Store, pub events.Publisher, cfg Config, logger *slog.Logger) *Indexer {
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = model.DefaultMaxBlockRange
	}
	return &Indexer{
		ledger:    l,
		store:     s,
		publisher: pub,
		genesis:   cfg.GenesisBlock,
		maxRange:  cfg.MaxBlockRange,
		logger:    logger,
	}
}

// Enabled reports whether a persisted index is configured.
func (ix *Indexer) Enabled() bool {
	return ix.store != nil
}

// Ledger returns the ledger the indexer reads from.
func (ix *Indexer) Ledger() ledger.Client {
	return ix.ledger
}

// ResolveFetchRange works out which part of [from, to] must come from the ledger.
// It never fails: an unreadable watermark degrades to a full-range fetch.
func (ix *Indexer) ResolveFetchRange(ctx context.Context, eventType model.EventType, from, to *uint64) FetchRange {
	full := FetchRange{From: ix.genesis, To: to}
	if from != nil {
		full.From = *from
	}
	if ix.store == nil {
		return full
	}

	w, ok, err := ix.store.GetWatermark(ctx, eventType)
	if err != nil {
		ix.logger.Warn("index unavailable, fetching full range from ledger",
			"op", "indexer.resolveFetchRange", "event_type", eventType, "err", err)
		return full
	}
	full.IndexAvailable = true
	if !ok {
		// Nothing indexed yet.
		full.Contiguous = full.From <= ix.genesis
		return full
	}

	if to != nil && *to <= w {
		return FetchRange{UseIndexOnly: true, From: w + 1, To: to, IndexAvailable: true, Covered: true}
	}
	r := FetchRange{From: w + 1, To: to, IndexAvailable: true, Contiguous: true, Covered: true}
	if from != nil && *from > w+1 {
		r.From = *from
		r.Contiguous = false
		r.Covered = false
	}
	return r
}

// StoreEvents persists events. It is a no-op without an index.
func (ix *Indexer) StoreEvents(ctx context.Context, evs []model.Event) (int, error) {
	if ix.store == nil || len(evs) == 0 {
		return 0, nil
	}
	return ix.store.InsertEvents(ctx, evs)
}

// AdvanceWatermark moves the watermark for eventType up to block. Calling it
// with a value at or below the current watermark changes nothing.
func (ix *Indexer) AdvanceWatermark(ctx context.Context, eventType model.EventType, block uint64) (bool, error) {
	if ix.store == nil {
		return false, nil
	}
	return ix.store.AdvanceWatermark(ctx, eventType, block)
}

// Watermarks lists the stored watermarks. Without an index it returns none.
func (ix *Indexer) Watermarks(ctx context.Context) ([]model.Watermark, error) {
	if ix.store == nil {
		return nil, nil
	}
	return ix.store.ListWatermarks(ctx)
}

// Events returns the canonical sequence of events of the given types that
// match filter. Each type is resolved concurrently.
func (ix *Indexer) Events(ctx context.Context, types []model.EventType, filter model.EventFilter) ([]model.Event, error) {
	if len(types) == 0 {
		types = model.LedgerEventTypes
	}
	indexed := make([][]model.Event, len(types))
	fresh := make([][]model.Event, len(types))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() error {
			var err error
			indexed[i], fresh[i], err = ix.fetchType(gctx, t, filter)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var allIndexed, allFresh []model.Event
	for i := range types {
		allIndexed = append(allIndexed, indexed[i]...)
		allFresh = append(allFresh, fresh[i]...)
	}
	return Merge(allIndexed, allFresh), nil
}

// fetchType reads one event type from the index and the ledger.
func (ix *Indexer) fetchType(ctx context.Context, t model.EventType, filter model.EventFilter) (indexed, fresh []model.Event, err error) {
	if !t.IsLedgerType() {
		return nil, nil, nil
	}
	filter.Types = []model.EventType{t}
	r := ix.ResolveFetchRange(ctx, t, filter.FromBlock, filter.ToBlock)

	if r.IndexAvailable {
		indexed, err = ix.store.QueryEvents(ctx, filter)
		if err != nil {
			ix.logger.Warn("index query failed, fetching full range from ledger",
				"op", "indexer.events", "event_type", t, "err", err)
			indexed = nil
			r = FetchRange{From: ix.genesis, To: filter.ToBlock}
			if filter.FromBlock != nil {
				r.From = *filter.FromBlock
			}
		}
	}
	if r.UseIndexOnly {
		return indexed, nil, nil
	}

	fetched, err := ix.ledger.QueryEvents(ctx, t, ledger.QueryFromFilter(filter), &r.From, r.To)
	if err != nil {
		if !r.Covered {
			return nil, nil, err
		}
		ix.logger.Warn("ledger fetch failed, treating as zero new events",
			"op", "indexer.events", "event_type", t, "from_block", r.From, "err", err)
		return indexed, nil, nil
	}
	for i := range fetched {
		if filter.Matches(&fetched[i]) {
			fresh = append(fresh, fetched[i])
		}
	}

	if r.IndexAvailable {
		ix.persist(ctx, t, fetched, r, isUnfiltered(filter))
	}
	return indexed, fresh, nil
}

// persist stores fetched events and, for complete unfiltered fetches that
// continue the indexed prefix, advances the watermark to the highest block seen.
func (ix *Indexer) persist(ctx context.Context, t model.EventType, fetched []model.Event, r FetchRange, unfiltered bool) {
	if len(fetched) == 0 {
		return
	}
	if _, err := ix.store.InsertEvents(ctx, fetched); err != nil {
		ix.logger.Warn("storing fetched events failed",
			"op", "indexer.storeEvents", "event_type", t, "count", len(fetched), "err", err)
		return
	}
	if !unfiltered || !r.Contiguous {
		return
	}
	var high uint64
	for i := range fetched {
		if fetched[i].BlockNumber > high {
			high = fetched[i].BlockNumber
		}
	}
	if r.To != nil && *r.To < high {
		high = *r.To
	}
	if _, err := ix.store.AdvanceWatermark(ctx, t, high); err != nil {
		ix.logger.Warn("advancing watermark failed",
			"op", "indexer.advanceWatermark", "event_type", t, "block", high, "err", err)
	}
}

func isUnfiltered(f model.EventFilter) bool {
	return f.Patient == "" && f.Provider == "" && len(f.ConsentIDs) == 0 && len(f.RequestIDs) == 0
}
