// Package ledger is the boundary to the consent ledger. Every implementation
// decodes raw ledger output into the canonical model types in one step, so
// nothing above this package sees transport shapes.
package ledger

import (
	"context"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// Query is the indexed-field filter applied by the ledger itself.
// Empty fields match anything.
type Query struct {
	Patient   string
	Provider  string // provider for consent events, requester for access events
	ConsentID *uint64
	RequestID *uint64
}

// Matches reports whether e satisfies q.
func (q Query) Matches(e *model.Event) bool {
	if q.Patient != "" && !model.SameAddress(q.Patient, e.Patient) {
		return false
	}
	if q.Provider != "" && !model.SameAddress(q.Provider, e.Provider) {
		return false
	}
	if q.ConsentID != nil && (e.ConsentID == nil || *e.ConsentID != *q.ConsentID) {
		return false
	}
	if q.RequestID != nil && (e.RequestID == nil || *e.RequestID != *q.RequestID) {
		return false
	}
	return true
}

// QueryFromFilter derives the ledger-side query from an event filter.
// Only single-id filters can be pushed down; multi-id filters are applied
// after the fetch.
func QueryFromFilter(f model.EventFilter) Query {
	q := Query{Patient: f.Patient, Provider: f.Provider}
	if len(f.ConsentIDs) == 1 {
		q.ConsentID = model.Uint64Ptr(f.ConsentIDs[0])
	}
	if len(f.RequestIDs) == 1 {
		q.RequestID = model.Uint64Ptr(f.RequestIDs[0])
	}
	return q
}

// Client is the read interface to the ledger.
type Client interface {
	// QueryEvents returns events of one type in [from, to]. A nil from starts
	// at genesis, a nil to means the latest block.
	QueryEvents(ctx context.Context, eventType model.EventType, q Query, from, to *uint64) ([]model.Event, error)

	// ReadConsent reads the current consent record. A missing id yields a
	// not_found error.
	ReadConsent(ctx context.Context, id uint64) (*model.ConsentRecord, error)

	// ReadRequest reads the current access request. A missing id yields a
	// not_found error.
	ReadRequest(ctx context.Context, id uint64) (*model.AccessRequest, error)

	// CurrentBlockHeight returns the latest block number.
	CurrentBlockHeight(ctx context.Context) (uint64, error)
}
