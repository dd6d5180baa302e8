package model

import (
	"strconv"
	"time"
)

// EventType names a consent ledger event.
type EventType string

const (
	EventConsentGranted  EventType = "ConsentGranted"
	EventConsentRevoked  EventType = "ConsentRevoked"
	EventAccessRequested EventType = "AccessRequested"
	EventAccessApproved  EventType = "AccessApproved"
	EventAccessDenied    EventType = "AccessDenied"

	// EventConsentExpired is never emitted by the ledger. The resolver
	// synthesizes it for grants whose expiration time has passed.
	EventConsentExpired EventType = "ConsentExpired"
)

// LedgerEventTypes lists every event type the ledger emits, in indexing order.
var LedgerEventTypes = []EventType{
	EventConsentGranted,
	EventConsentRevoked,
	EventAccessRequested,
	EventAccessApproved,
	EventAccessDenied,
}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid checks whether the event type is a known value.
func (t EventType) IsValid() bool {
	return t.IsLedgerType() || t == EventConsentExpired
}

// IsLedgerType reports whether events of this type come from the ledger.
func (t EventType) IsLedgerType() bool {
	switch t {
	case EventConsentGranted, EventConsentRevoked, EventAccessRequested, EventAccessApproved, EventAccessDenied:
		return true
	}
	return false
}

// IsAccessEvent reports whether the event belongs to the access-request lifecycle.
func (t EventType) IsAccessEvent() bool {
	switch t {
	case EventAccessRequested, EventAccessApproved, EventAccessDenied:
		return true
	}
	return false
}

// Event is a single ledger fact decoded into its canonical shape.
type Event struct {
	Type            EventType  `json:"type"`
	BlockNumber     uint64     `json:"block_number"`
	TransactionHash string     `json:"transaction_hash"`
	LogIndex        *uint      `json:"log_index,omitempty"`
	ConsentID       *uint64    `json:"consent_id,omitempty"`
	RequestID       *uint64    `json:"request_id,omitempty"`
	Patient         string     `json:"patient"`
	Provider        string     `json:"provider,omitempty"` // provider for consent events, requester for access events
	DataTypes       []string   `json:"data_types,omitempty"`
	Purposes        []string   `json:"purposes,omitempty"`
	ExpirationTime  *time.Time `json:"expiration_time,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Subject returns the id the event is primarily about: the request id for
// access events and the consent id otherwise. It falls back to the event type
// when the event carries no id.
func (e *Event) Subject() string {
	if e.Type.IsAccessEvent() {
		if e.RequestID != nil {
			return "request:" + strconv.FormatUint(*e.RequestID, 10)
		}
	} else if e.ConsentID != nil {
		return "consent:" + strconv.FormatUint(*e.ConsentID, 10)
	}
	return string(e.Type)
}

// DedupKey identifies an event across overlapping fetch windows.
func (e *Event) DedupKey() string {
	return e.TransactionHash + "-" + e.Subject()
}

// IsSynthetic reports whether the event was derived rather than read from the ledger.
func (e *Event) IsSynthetic() bool {
	return e.BlockNumber == 0 && e.Type == EventConsentExpired
}

// HasDataType reports whether the event covers the given data type.
func (e *Event) HasDataType(dataType string) bool {
	for _, dt := range e.DataTypes {
		if dt == dataType {
			return true
		}
	}
	return false
}

// Uint64Ptr returns a pointer to v.
func Uint64Ptr(v uint64) *uint64 { return &v }

// UintPtr returns a pointer to v.
func UintPtr(v uint) *uint { return &v }
