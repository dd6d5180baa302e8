// Package client provides a transport-agnostic interface for the consentd
// query API with HTTP/JSON and gRPC implementations.
package client

import (
	"context"

	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/server"
)

// ConsentClient is the interface all consentd CLI commands use to talk to a
// running server. It is implemented by HTTPClient (default) and GRPCClient.
type ConsentClient interface {
	Health(ctx context.Context) (*server.HealthResponse, error)

	// Consents
	ConsentStatus(ctx context.Context, patient, provider, dataType string) (*model.ConsentStatus, error)
	Consent(ctx context.Context, id string) (*model.ConsentRecord, error)
	PatientConsents(ctx context.Context, patient string, includeInactive bool) ([]model.ConsentRecord, error)
	ProviderConsents(ctx context.Context, provider string, includeInactive bool) ([]model.ConsentRecord, error)

	// Access requests
	AccessRequest(ctx context.Context, id string) (*model.AccessRequest, error)
	PendingRequests(ctx context.Context, patient, requester string) ([]model.AccessRequest, error)

	// Events
	History(ctx context.Context, req *server.HistoryRequest) ([]model.Event, error)
	Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error)

	// Index and cache
	Watermarks(ctx context.Context) ([]model.Watermark, error)
	Invalidate(ctx context.Context, req *server.InvalidateRequest) (int, error)

	// Lifecycle
	Close() error
}

var (
	_ ConsentClient = (*HTTPClient)(nil)
	_ ConsentClient = (*GRPCClient)(nil)
)
