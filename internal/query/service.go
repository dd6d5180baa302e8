// Package query is the entry point for consent reads. It validates inputs
// before any I/O, answers from the cache when it can, and otherwise delegates
// to the resolver and indexer.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/consentd/internal/cache"
	"github.com/alfredjeanlab/consentd/internal/indexer"
	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/resolver"
)

// Service answers consent queries.
type Service struct {
	indexer  *indexer.Indexer
	resolver *resolver.Resolver
	cache    *cache.Cache
	maxRange uint64
	logger   *slog.Logger
}

// Config holds the Service's tunables.
type Config struct {
	// MaxBlockRange caps the width of caller-supplied block windows.
	MaxBlockRange uint64
}

// New creates a Service. A nil cache disables caching.
func New(ix *indexer.Indexer, r *resolver.Resolver, c *cache.Cache, cfg Config, logger *slog.Logger) *Service {
	if c == nil {
		c = cache.New(nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = model.DefaultMaxBlockRange
	}
	return &Service{
		indexer:  ix,
		resolver: r,
		cache:    c,
		maxRange: cfg.MaxBlockRange,
		logger:   logger,
	}
}

// readThrough returns the cached value under key or loads, caches and
// returns a fresh one. ttl picks the lifetime from the loaded value.
func readThrough[T any](ctx context.Context, s *Service, key string, ttl func(T) time.Duration, load func() (T, error)) (T, error) {
	var v T
	if s.cache.Get(ctx, key, &v) {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	s.cache.Set(ctx, key, v, ttl(v))
	return v, nil
}

func fixed[T any](d time.Duration) func(T) time.Duration {
	return func(T) time.Duration { return d }
}

// ConsentStatus reports whether patient currently consents to provider for dataType.
func (s *Service) ConsentStatus(ctx context.Context, patient, provider, dataType string) (model.ConsentStatus, error) {
	var ve model.ValidationError
	patient = collect(&ve, patient, model.NormalizeAddress, "patient")
	provider = collect(&ve, provider, model.NormalizeAddress, "provider")
	dataType = collect(&ve, dataType, model.RequireString, "data_type")
	if err := ve.Err(); err != nil {
		return model.ConsentStatus{}, err
	}

	key := cache.Key(cache.EntityStatus, patient, provider, dataType)
	return readThrough(ctx, s, key, fixed[model.ConsentStatus](cache.TTLMutable), func() (model.ConsentStatus, error) {
		return s.resolver.ConsentStatus(ctx, patient, provider, dataType)
	})
}

// Consent returns one consent record. Revoked and expired records change no
// further and are cached longer.
func (s *Service) Consent(ctx context.Context, id uint64) (*model.ConsentRecord, error) {
	key := cache.Key(cache.EntityConsent, id)
	return readThrough(ctx, s, key, func(rec *model.ConsentRecord) time.Duration {
		if rec.Current() {
			return cache.TTLMutable
		}
		return cache.TTLSettledByID
	}, func() (*model.ConsentRecord, error) {
		return s.resolver.Consent(ctx, id)
	})
}

// AccessRequest returns one access request. Settled requests are cached longer.
func (s *Service) AccessRequest(ctx context.Context, id uint64) (*model.AccessRequest, error) {
	key := cache.Key(cache.EntityRequest, id)
	return readThrough(ctx, s, key, func(req *model.AccessRequest) time.Duration {
		if req.Status.IsSettled() {
			return cache.TTLSettledByID
		}
		return cache.TTLPending
	}, func() (*model.AccessRequest, error) {
		return s.resolver.AccessRequest(ctx, id)
	})
}

// PatientConsents lists the consents patient has granted.
func (s *Service) PatientConsents(ctx context.Context, patient string, includeInactive bool) ([]model.ConsentRecord, error) {
	patient, err := model.NormalizeAddress("patient", patient)
	if err != nil {
		return nil, err
	}
	key := cache.Key(cache.EntityPatientConsents, patient, includeInactive)
	return readThrough(ctx, s, key, fixed[[]model.ConsentRecord](cache.TTLMutable), func() ([]model.ConsentRecord, error) {
		return s.resolver.PatientConsents(ctx, patient, includeInactive)
	})
}

// ProviderConsents lists the consents granted to provider.
func (s *Service) ProviderConsents(ctx context.Context, provider string, includeInactive bool) ([]model.ConsentRecord, error) {
	provider, err := model.NormalizeAddress("provider", provider)
	if err != nil {
		return nil, err
	}
	key := cache.Key(cache.EntityProviderConsents, provider, includeInactive)
	return readThrough(ctx, s, key, fixed[[]model.ConsentRecord](cache.TTLMutable), func() ([]model.ConsentRecord, error) {
		return s.resolver.ProviderConsents(ctx, provider, includeInactive)
	})
}

// PendingRequests lists unanswered access requests for a patient, a
// requester, or both. At least one must be given.
func (s *Service) PendingRequests(ctx context.Context, patient, requester string) ([]model.AccessRequest, error) {
	var ve model.ValidationError
	if patient == "" && requester == "" {
		ve.Add("patient", "patient or requester is required")
	}
	if patient != "" {
		patient = collect(&ve, patient, model.NormalizeAddress, "patient")
	}
	if requester != "" {
		requester = collect(&ve, requester, model.NormalizeAddress, "requester")
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	key := cache.Key(cache.EntityPending, patient, requester)
	return readThrough(ctx, s, key, fixed[[]model.AccessRequest](cache.TTLPending), func() ([]model.AccessRequest, error) {
		return s.resolver.PendingRequests(ctx, resolver.PendingFilter{Patient: patient, Requester: requester})
	})
}

// History returns a patient's events, newest first, including synthesized
// expirations.
func (s *Service) History(ctx context.Context, patient string, types []model.EventType, r model.BlockRange) ([]model.Event, error) {
	var ve model.ValidationError
	patient = collect(&ve, patient, model.NormalizeAddress, "patient")
	for _, t := range types {
		if !t.IsValid() {
			ve.Add("types", "invalid event type %q", t)
		}
	}
	if err := model.ValidateBlockRange(r, s.maxRange); err != nil {
		return nil, err
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	filter := model.EventFilter{Types: types, Patient: patient}.WithRange(r)
	key := cache.Key(cache.EntityHistory, patient, types, r.From, r.To)
	return readThrough(ctx, s, key, fixed[[]model.Event](rangeTTL(r)), func() ([]model.Event, error) {
		return s.resolver.History(ctx, filter)
	})
}

// Events returns the canonical event sequence matching filter. Expirations
// are not synthesized here.
func (s *Service) Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	var ve model.ValidationError
	for _, t := range filter.Types {
		if !t.IsLedgerType() {
			ve.Add("types", "invalid ledger event type %q", t)
		}
	}
	if filter.Patient != "" {
		filter.Patient = collect(&ve, filter.Patient, model.NormalizeAddress, "patient")
	}
	if filter.Provider != "" {
		filter.Provider = collect(&ve, filter.Provider, model.NormalizeAddress, "provider")
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}
	if err := model.ValidateBlockRange(filter.Range(), s.maxRange); err != nil {
		return nil, err
	}

	key := cache.Key(cache.EntityEvents, filter.Types, filter.Patient, filter.Provider,
		filter.ConsentIDs, filter.RequestIDs, filter.FromBlock, filter.ToBlock)
	return readThrough(ctx, s, key, fixed[[]model.Event](rangeTTL(filter.Range())), func() ([]model.Event, error) {
		return s.indexer.Events(ctx, filter.Types, filter)
	})
}

// Watermarks lists the index watermarks. The result is never cached.
func (s *Service) Watermarks(ctx context.Context) ([]model.Watermark, error) {
	return s.indexer.Watermarks(ctx)
}

// Invalidate drops every cached read a ledger write may have changed and
// returns how many keys were deleted.
func (s *Service) Invalidate(ctx context.Context, ch cache.Change) (int, error) {
	var ve model.ValidationError
	if ch.Patient != "" {
		ch.Patient = collect(&ve, ch.Patient, model.NormalizeAddress, "patient")
	}
	if ch.Provider != "" {
		ch.Provider = collect(&ve, ch.Provider, model.NormalizeAddress, "provider")
	}
	if ch.Patient == "" && ch.Provider == "" && ch.ConsentID == nil && ch.RequestID == nil && !ve.HasErrors() {
		ve.Add("change", "at least one of patient, provider, consent_id, request_id is required")
	}
	if err := ve.Err(); err != nil {
		return 0, err
	}
	n := s.cache.Invalidate(ctx, ch)
	s.logger.Debug("cache invalidated", "patient", ch.Patient, "provider", ch.Provider, "deleted", n)
	return n, nil
}

// rangeTTL caches windows that end at a fixed block longer than open ones.
func rangeTTL(r model.BlockRange) time.Duration {
	if r.To != nil {
		return cache.TTLSettled
	}
	return cache.TTLBulk
}

// collect runs a field normaliser and folds its validation errors into ve.
func collect(ve *model.ValidationError, value string, normalize func(field, s string) (string, error), field string) string {
	out, err := normalize(field, value)
	if err != nil {
		if fe, ok := err.(*model.ValidationError); ok {
			ve.Errors = append(ve.Errors, fe.Errors...)
		} else {
			ve.Add(field, "%v", err)
		}
		return value
	}
	return out
}
