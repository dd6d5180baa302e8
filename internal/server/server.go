// Package server exposes the consent query facade over HTTP/JSON and gRPC.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/consentd/internal/cache"
	"github.com/alfredjeanlab/consentd/internal/model"
)

// DefaultReadTimeout bounds each query when no timeout is configured.
const DefaultReadTimeout = 30 * time.Second

// Querier is the read API the server exposes. *query.Service implements it.
type Querier interface {
	ConsentStatus(ctx context.Context, patient, provider, dataType string) (model.ConsentStatus, error)
	Consent(ctx context.Context, id uint64) (*model.ConsentRecord, error)
	AccessRequest(ctx context.Context, id uint64) (*model.AccessRequest, error)
	PatientConsents(ctx context.Context, patient string, includeInactive bool) ([]model.ConsentRecord, error)
	ProviderConsents(ctx context.Context, provider string, includeInactive bool) ([]model.ConsentRecord, error)
	PendingRequests(ctx context.Context, patient, requester string) ([]model.AccessRequest, error)
	History(ctx context.Context, patient string, types []model.EventType, r model.BlockRange) ([]model.Event, error)
	Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
	Watermarks(ctx context.Context) ([]model.Watermark, error)
	Invalidate(ctx context.Context, ch cache.Change) (int, error)
}

// ConsentQueryServer is the gRPC service interface. *Server implements it.
type ConsentQueryServer interface {
	Health(ctx context.Context, req *Empty) (*HealthResponse, error)
	ConsentStatus(ctx context.Context, req *StatusRequest) (*model.ConsentStatus, error)
	Consent(ctx context.Context, req *IDRequest) (*model.ConsentRecord, error)
	AccessRequest(ctx context.Context, req *IDRequest) (*model.AccessRequest, error)
	PatientConsents(ctx context.Context, req *ConsentsRequest) (*ConsentsResponse, error)
	ProviderConsents(ctx context.Context, req *ConsentsRequest) (*ConsentsResponse, error)
	PendingRequests(ctx context.Context, req *PendingRequest) (*RequestsResponse, error)
	History(ctx context.Context, req *HistoryRequest) (*EventsResponse, error)
	Events(ctx context.Context, req *model.EventFilter) (*EventsResponse, error)
	Watermarks(ctx context.Context, req *Empty) (*WatermarksResponse, error)
	Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error)
}

// Server implements both transports on top of a Querier. Every call runs
// under the configured read timeout.
type Server struct {
	query        Querier
	readTimeout  time.Duration
	indexEnabled bool
	logger       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithReadTimeout bounds every query. Non-positive values keep the default.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIndexEnabled reports a persisted index in health responses.
func WithIndexEnabled(enabled bool) Option {
	return func(s *Server) { s.indexEnabled = enabled }
}

// New returns a Server answering from q.
func New(q Querier, opts ...Option) *Server {
	s := &Server{
		query:       q,
		readTimeout: DefaultReadTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.readTimeout)
}

// Health reports liveness. It never touches the ledger or the index.
func (s *Server) Health(_ context.Context, _ *Empty) (*HealthResponse, error) {
	return &HealthResponse{Status: "ok", Index: s.indexEnabled}, nil
}

// ConsentStatus answers whether a patient currently consents to a provider
// for a data type.
func (s *Server) ConsentStatus(ctx context.Context, req *StatusRequest) (*model.ConsentStatus, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	st, err := s.query.ConsentStatus(ctx, req.Patient, req.Provider, req.DataType)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Consent returns one consent record.
func (s *Server) Consent(ctx context.Context, req *IDRequest) (*model.ConsentRecord, error) {
	id, err := model.ParseID("consent_id", req.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.query.Consent(ctx, id)
}

// AccessRequest returns one access request.
func (s *Server) AccessRequest(ctx context.Context, req *IDRequest) (*model.AccessRequest, error) {
	id, err := model.ParseID("request_id", req.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.query.AccessRequest(ctx, id)
}

// PatientConsents lists the consents a patient granted.
func (s *Server) PatientConsents(ctx context.Context, req *ConsentsRequest) (*ConsentsResponse, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	recs, err := s.query.PatientConsents(ctx, req.Address, req.IncludeInactive)
	if err != nil {
		return nil, err
	}
	return &ConsentsResponse{Consents: nonNil(recs)}, nil
}

// ProviderConsents lists the consents held by a provider.
func (s *Server) ProviderConsents(ctx context.Context, req *ConsentsRequest) (*ConsentsResponse, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	recs, err := s.query.ProviderConsents(ctx, req.Address, req.IncludeInactive)
	if err != nil {
		return nil, err
	}
	return &ConsentsResponse{Consents: nonNil(recs)}, nil
}

// PendingRequests lists unanswered access requests.
func (s *Server) PendingRequests(ctx context.Context, req *PendingRequest) (*RequestsResponse, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	reqs, err := s.query.PendingRequests(ctx, req.Patient, req.Requester)
	if err != nil {
		return nil, err
	}
	return &RequestsResponse{Requests: nonNil(reqs)}, nil
}

// History returns a patient's events, newest first.
func (s *Server) History(ctx context.Context, req *HistoryRequest) (*EventsResponse, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	evs, err := s.query.History(ctx, req.Patient, req.Types, model.BlockRange{From: req.FromBlock, To: req.ToBlock})
	if err != nil {
		return nil, err
	}
	return &EventsResponse{Events: nonNil(evs)}, nil
}

// Events returns canonical ledger events matching a filter.
func (s *Server) Events(ctx context.Context, req *model.EventFilter) (*EventsResponse, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	evs, err := s.query.Events(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &EventsResponse{Events: nonNil(evs)}, nil
}

// Watermarks lists the index watermarks.
func (s *Server) Watermarks(ctx context.Context, _ *Empty) (*WatermarksResponse, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	wms, err := s.query.Watermarks(ctx)
	if err != nil {
		return nil, err
	}
	return &WatermarksResponse{Watermarks: nonNil(wms)}, nil
}

// Invalidate drops cached reads affected by a ledger write.
func (s *Server) Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	n, err := s.query.Invalidate(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &InvalidateResponse{Deleted: n}, nil
}

// nonNil keeps empty listings encoding as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
