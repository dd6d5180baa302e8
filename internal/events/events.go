package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// Event topic constants
const (
	// Write-path notifications, emitted by the service that submits consent
	// transactions once they are confirmed.
	TopicConsentGranted   = "consent.write.granted"
	TopicConsentRevoked   = "consent.write.revoked"
	TopicRequestResponded = "consent.write.responded"

	// TopicWrites matches every write-path notification.
	TopicWrites = "consent.write.>"

	// TopicIndexAdvanced is emitted after the indexer moves a watermark.
	TopicIndexAdvanced = "consent.index.advanced"
)

// Event types

// WriteNotification describes a confirmed write that may change cached answers.
type WriteNotification struct {
	Patient         string  `json:"patient"`
	Provider        string  `json:"provider,omitempty"`
	ConsentID       *uint64 `json:"consent_id,omitempty"`
	RequestID       *uint64 `json:"request_id,omitempty"`
	TransactionHash string  `json:"transaction_hash,omitempty"`
}

// IndexAdvanced reports a completed sync cycle for one event type.
type IndexAdvanced struct {
	EventType   model.EventType `json:"event_type"`
	FromBlock   uint64          `json:"from_block"`
	BlockNumber uint64          `json:"block_number"`
	Inserted    int             `json:"inserted"`
	At          time.Time       `json:"at"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
