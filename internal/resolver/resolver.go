// Package resolver turns canonical event sequences into current consent and
// access-request state.
package resolver

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alfredjeanlab/consentd/internal/ledger"
	"github.com/alfredjeanlab/consentd/internal/model"
)

// DefaultBatchSize is the number of records resolved concurrently in listings.
const DefaultBatchSize = 50

// Resolver answers state questions over an EventSource.
type Resolver struct {
	source     EventSource
	strategies []Strategy
	batchSize  int
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBatchSize sets how many records a listing resolves at once.
func WithBatchSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger used for skipped records and strategy fallbacks.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithStrategies replaces the default strategy order.
func WithStrategies(s ...Strategy) Option {
	return func(r *Resolver) { r.strategies = s }
}

// New creates a Resolver. With a ledger client the record strategy is tried
// first and replay is the fallback; without one only replay is used.
func New(source EventSource, l ledger.Client, opts ...Option) *Resolver {
	r := &Resolver{
		source:    source,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.strategies == nil {
		if l != nil {
			r.strategies = append(r.strategies, NewRecordStrategy(l, r.now))
		}
		r.strategies = append(r.strategies, NewReplayStrategy(source, r.now))
	}
	return r
}

// ConsentStatus reports whether patient currently consents to provider for
// dataType. Grants are walked newest first; a grant that was revoked or has
// expired retires its id and the walk continues with older grants.
func (r *Resolver) ConsentStatus(ctx context.Context, patient, provider, dataType string) (model.ConsentStatus, error) {
	evs, err := r.source.Events(ctx,
		[]model.EventType{model.EventConsentGranted, model.EventConsentRevoked},
		model.EventFilter{Patient: patient})
	if err != nil {
		return model.ConsentStatus{}, err
	}

	retired := make(map[uint64]bool)
	for i := range evs {
		e := &evs[i]
		if e.ConsentID != nil && (e.Type == model.EventConsentRevoked || e.Type == model.EventConsentExpired) {
			retired[*e.ConsentID] = true
		}
	}

	now := r.now()
	var status model.ConsentStatus
	for _, e := range SortRecentFirst(evs) {
		if e.Type != model.EventConsentGranted || e.ConsentID == nil {
			continue
		}
		if !model.SameAddress(e.Provider, provider) || !e.HasDataType(dataType) {
			continue
		}
		id := *e.ConsentID
		if retired[id] {
			continue
		}
		if model.IsExpired(e.ExpirationTime, now) {
			retired[id] = true
			if status.ConsentID == nil {
				status = model.ConsentStatus{
					ConsentID:      model.Uint64Ptr(id),
					IsExpired:      true,
					ExpirationTime: e.ExpirationTime,
				}
			}
			continue
		}
		return model.ConsentStatus{
			HasConsent:     true,
			ConsentID:      model.Uint64Ptr(id),
			ExpirationTime: e.ExpirationTime,
		}, nil
	}
	return status, nil
}

// Consent resolves one consent record by id.
func (r *Resolver) Consent(ctx context.Context, id uint64) (*model.ConsentRecord, error) {
	return firstResult(r, "consent", id, func(s Strategy) (*model.ConsentRecord, error) {
		return s.Consent(ctx, id)
	})
}

// AccessRequest resolves one access request by id.
func (r *Resolver) AccessRequest(ctx context.Context, id uint64) (*model.AccessRequest, error) {
	return firstResult(r, "access_request", id, func(s Strategy) (*model.AccessRequest, error) {
		return s.AccessRequest(ctx, id)
	})
}

func firstResult[T any](r *Resolver, what string, id uint64, fn func(Strategy) (*T, error)) (*T, error) {
	var lastErr error
	for _, s := range r.strategies {
		v, err := fn(s)
		if err == nil {
			return v, nil
		}
		if final(err) {
			return nil, err
		}
		r.logger.Warn("resolve strategy failed, trying next",
			"op", "resolver."+what, "strategy", s.Name(), "id", id, "err", err)
		lastErr = err
	}
	return nil, lastErr
}

// PatientConsents lists the consents granted by patient, ordered by id.
// Revoked and expired consents are omitted unless includeInactive is set.
func (r *Resolver) PatientConsents(ctx context.Context, patient string, includeInactive bool) ([]model.ConsentRecord, error) {
	ids, err := r.consentIDs(ctx, model.EventFilter{Patient: patient})
	if err != nil {
		return nil, err
	}
	recs, err := r.resolveConsents(ctx, ids)
	if err != nil {
		return nil, err
	}
	return keepConsents(recs, func(c *model.ConsentRecord) bool {
		return model.SameAddress(c.Patient, patient) && (includeInactive || c.Current())
	}), nil
}

// ProviderConsents lists the consents granted to provider, ordered by id. Ids
// come from both grants and approvals so consents minted by an approval are
// included.
func (r *Resolver) ProviderConsents(ctx context.Context, provider string, includeInactive bool) ([]model.ConsentRecord, error) {
	ids, err := r.consentIDs(ctx, model.EventFilter{Provider: provider})
	if err != nil {
		return nil, err
	}
	recs, err := r.resolveConsents(ctx, ids)
	if err != nil {
		return nil, err
	}
	return keepConsents(recs, func(c *model.ConsentRecord) bool {
		return model.SameAddress(c.Provider, provider) && (includeInactive || c.Current())
	}), nil
}

// consentIDs returns the distinct consent ids named by grants and approvals
// matching filter, ascending.
func (r *Resolver) consentIDs(ctx context.Context, filter model.EventFilter) ([]uint64, error) {
	evs, err := r.source.Events(ctx,
		[]model.EventType{model.EventConsentGranted, model.EventAccessApproved}, filter)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]struct{})
	for i := range evs {
		if evs[i].ConsentID != nil {
			seen[*evs[i].ConsentID] = struct{}{}
		}
	}
	return sortedIDs(seen), nil
}

// PendingFilter narrows PendingRequests. Empty fields match anything.
type PendingFilter struct {
	Patient   string
	Requester string
}

// PendingRequests lists access requests that have been neither approved nor
// denied, ordered by id.
func (r *Resolver) PendingRequests(ctx context.Context, f PendingFilter) ([]model.AccessRequest, error) {
	evs, err := r.source.Events(ctx,
		[]model.EventType{model.EventAccessRequested, model.EventAccessApproved, model.EventAccessDenied},
		model.EventFilter{Patient: f.Patient, Provider: f.Requester})
	if err != nil {
		return nil, err
	}
	requests := ReplayRequests(evs)
	out := make([]model.AccessRequest, 0, len(requests))
	for _, id := range sortedIDs(requests) {
		if req := requests[id]; req.Status == model.RequestPending {
			out = append(out, *req)
		}
	}
	return out, nil
}

// History returns the events matching filter, newest first, together with
// synthesized ConsentExpired events for consents that lapsed without being
// revoked.
func (r *Resolver) History(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	types := filter.Types
	wantExpired := len(types) == 0
	var ledgerTypes []model.EventType
	for _, t := range types {
		if t == model.EventConsentExpired {
			wantExpired = true
			continue
		}
		ledgerTypes = append(ledgerTypes, t)
	}
	if wantExpired && len(types) > 0 {
		// Expirations are derived from grants and revocations.
		for _, t := range []model.EventType{model.EventConsentGranted, model.EventConsentRevoked} {
			if !containsType(ledgerTypes, t) {
				ledgerTypes = append(ledgerTypes, t)
			}
		}
	}

	evs, err := r.source.Events(ctx, ledgerTypes, filter)
	if err != nil {
		return nil, err
	}
	if wantExpired {
		evs = append(evs, SynthesizeExpired(evs, r.now())...)
	}

	out := SortRecentFirst(evs)
	if len(types) > 0 {
		kept := out[:0]
		for i := range out {
			if containsType(types, out[i].Type) {
				kept = append(kept, out[i])
			}
		}
		out = kept
	}
	return out, nil
}

func keepConsents(recs []*model.ConsentRecord, keep func(*model.ConsentRecord) bool) []model.ConsentRecord {
	out := make([]model.ConsentRecord, 0, len(recs))
	for _, rec := range recs {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func containsType(types []model.EventType, t model.EventType) bool {
	for _, c := range types {
		if c == t {
			return true
		}
	}
	return false
}
