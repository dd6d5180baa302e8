package resolver

import (
	"context"
	"time"

	"github.com/alfredjeanlab/consentd/internal/ledger"
	"github.com/alfredjeanlab/consentd/internal/model"
)

// EventSource returns canonical event sequences. *indexer.Indexer implements it.
type EventSource interface {
	Events(ctx context.Context, types []model.EventType, filter model.EventFilter) ([]model.Event, error)
}

// Strategy resolves single records by id. A Resolver tries its strategies in
// order: a not-found or validation error is final, any other error moves on
// to the next strategy.
type Strategy interface {
	Name() string
	Consent(ctx context.Context, id uint64) (*model.ConsentRecord, error)
	AccessRequest(ctx context.Context, id uint64) (*model.AccessRequest, error)
}

// RecordStrategy reads current-state records directly from the ledger.
type RecordStrategy struct {
	ledger ledger.Client
	now    func() time.Time
}

// NewRecordStrategy creates a strategy backed by ledger record reads.
func NewRecordStrategy(l ledger.Client, now func() time.Time) *RecordStrategy {
	if now == nil {
		now = time.Now
	}
	return &RecordStrategy{ledger: l, now: now}
}

// Name implements Strategy.
func (s *RecordStrategy) Name() string { return "record" }

// Consent implements Strategy.
func (s *RecordStrategy) Consent(ctx context.Context, id uint64) (*model.ConsentRecord, error) {
	rec, err := s.ledger.ReadConsent(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.IsExpired = rec.IsExpired || rec.ExpiredAt(s.now())
	return rec, nil
}

// AccessRequest implements Strategy.
func (s *RecordStrategy) AccessRequest(ctx context.Context, id uint64) (*model.AccessRequest, error) {
	return s.ledger.ReadRequest(ctx, id)
}

// ReplayStrategy rebuilds records by replaying the events that name them.
type ReplayStrategy struct {
	source EventSource
	now    func() time.Time
}

// NewReplayStrategy creates a strategy backed by event replay.
func NewReplayStrategy(source EventSource, now func() time.Time) *ReplayStrategy {
	if now == nil {
		now = time.Now
	}
	return &ReplayStrategy{source: source, now: now}
}

// Name implements Strategy.
func (s *ReplayStrategy) Name() string { return "replay" }

// Consent implements Strategy.
func (s *ReplayStrategy) Consent(ctx context.Context, id uint64) (*model.ConsentRecord, error) {
	evs, err := s.source.Events(ctx,
		[]model.EventType{model.EventConsentGranted, model.EventConsentRevoked, model.EventAccessApproved},
		model.EventFilter{ConsentIDs: []uint64{id}})
	if err != nil {
		return nil, err
	}

	// A consent minted by an approval takes its terms from the request.
	var requestIDs []uint64
	granted := false
	for i := range evs {
		switch evs[i].Type {
		case model.EventConsentGranted:
			granted = true
		case model.EventAccessApproved:
			if evs[i].RequestID != nil {
				requestIDs = append(requestIDs, *evs[i].RequestID)
			}
		}
	}
	if !granted && len(requestIDs) > 0 {
		reqs, err := s.source.Events(ctx,
			[]model.EventType{model.EventAccessRequested},
			model.EventFilter{RequestIDs: requestIDs})
		if err != nil {
			return nil, err
		}
		evs = append(reqs, evs...)
	}

	rec, ok := ReplayConsents(evs, s.now())[id]
	if !ok {
		return nil, model.NotFound("resolver.consent", "consent %d not found", id)
	}
	return rec, nil
}

// AccessRequest implements Strategy.
func (s *ReplayStrategy) AccessRequest(ctx context.Context, id uint64) (*model.AccessRequest, error) {
	evs, err := s.source.Events(ctx,
		[]model.EventType{model.EventAccessRequested, model.EventAccessApproved, model.EventAccessDenied},
		model.EventFilter{RequestIDs: []uint64{id}})
	if err != nil {
		return nil, err
	}
	req, ok := ReplayRequests(evs)[id]
	if !ok {
		return nil, model.NotFound("resolver.accessRequest", "access request %d not found", id)
	}
	return req, nil
}

// final reports whether err ends the strategy chain.
func final(err error) bool {
	switch model.KindOf(err) {
	case model.KindNotFound, model.KindValidation, model.KindInvalidID:
		return true
	}
	return false
}
