package model

import "time"

// DefaultMaxBlockRange caps the width of a caller-supplied block window.
const DefaultMaxBlockRange = 10_000

// EventFilter holds criteria for querying events. Empty fields match anything.
type EventFilter struct {
	Types      []EventType `json:"types,omitempty"`
	Patient    string      `json:"patient,omitempty"`
	Provider   string      `json:"provider,omitempty"` // provider or requester
	ConsentIDs []uint64    `json:"consent_ids,omitempty"`
	RequestIDs []uint64    `json:"request_ids,omitempty"`
	FromBlock  *uint64     `json:"from_block,omitempty"`
	ToBlock    *uint64     `json:"to_block,omitempty"`
}

// Range returns the filter's block window.
func (f EventFilter) Range() BlockRange {
	return BlockRange{From: f.FromBlock, To: f.ToBlock}
}

// WithRange returns a copy of f restricted to r.
func (f EventFilter) WithRange(r BlockRange) EventFilter {
	f.FromBlock = r.From
	f.ToBlock = r.To
	return f
}

// Matches reports whether e satisfies every non-empty criterion of f.
func (f EventFilter) Matches(e *Event) bool {
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if f.Patient != "" && !SameAddress(f.Patient, e.Patient) {
		return false
	}
	if f.Provider != "" && !SameAddress(f.Provider, e.Provider) {
		return false
	}
	if len(f.ConsentIDs) > 0 && (e.ConsentID == nil || !containsID(f.ConsentIDs, *e.ConsentID)) {
		return false
	}
	if len(f.RequestIDs) > 0 && (e.RequestID == nil || !containsID(f.RequestIDs, *e.RequestID)) {
		return false
	}
	if f.FromBlock != nil && e.BlockNumber < *f.FromBlock {
		return false
	}
	if f.ToBlock != nil && e.BlockNumber > *f.ToBlock {
		return false
	}
	return true
}

// BlockRange is an inclusive block window. A nil bound is open.
type BlockRange struct {
	From *uint64 `json:"from,omitempty"`
	To   *uint64 `json:"to,omitempty"`
}

// Watermark records the highest block fully indexed for one event type.
type Watermark struct {
	EventType   EventType `json:"event_type"`
	BlockNumber uint64    `json:"block_number"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func containsType(types []EventType, t EventType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
