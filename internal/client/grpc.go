package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/server"
)

// GRPCClient implements ConsentClient using the gRPC transport.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

// NewGRPCClient connects to the given gRPC address and returns a client.
// Extra dial options are appended after the defaults.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	return c.conn.Invoke(ctx, method, req, resp)
}

func (c *GRPCClient) Health(ctx context.Context) (*server.HealthResponse, error) {
	var resp server.HealthResponse
	if err := c.invoke(ctx, server.MethodHealth, &server.Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Consents ---

func (c *GRPCClient) ConsentStatus(ctx context.Context, patient, provider, dataType string) (*model.ConsentStatus, error) {
	var st model.ConsentStatus
	req := &server.StatusRequest{Patient: patient, Provider: provider, DataType: dataType}
	if err := c.invoke(ctx, server.MethodConsentStatus, req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *GRPCClient) Consent(ctx context.Context, id string) (*model.ConsentRecord, error) {
	var rec model.ConsentRecord
	if err := c.invoke(ctx, server.MethodConsent, &server.IDRequest{ID: id}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *GRPCClient) PatientConsents(ctx context.Context, patient string, includeInactive bool) ([]model.ConsentRecord, error) {
	var resp server.ConsentsResponse
	req := &server.ConsentsRequest{Address: patient, IncludeInactive: includeInactive}
	if err := c.invoke(ctx, server.MethodPatientConsents, req, &resp); err != nil {
		return nil, err
	}
	return resp.Consents, nil
}

func (c *GRPCClient) ProviderConsents(ctx context.Context, provider string, includeInactive bool) ([]model.ConsentRecord, error) {
	var resp server.ConsentsResponse
	req := &server.ConsentsRequest{Address: provider, IncludeInactive: includeInactive}
	if err := c.invoke(ctx, server.MethodProviderConsents, req, &resp); err != nil {
		return nil, err
	}
	return resp.Consents, nil
}

// --- Access requests ---

func (c *GRPCClient) AccessRequest(ctx context.Context, id string) (*model.AccessRequest, error) {
	var req model.AccessRequest
	if err := c.invoke(ctx, server.MethodAccessRequest, &server.IDRequest{ID: id}, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *GRPCClient) PendingRequests(ctx context.Context, patient, requester string) ([]model.AccessRequest, error) {
	var resp server.RequestsResponse
	req := &server.PendingRequest{Patient: patient, Requester: requester}
	if err := c.invoke(ctx, server.MethodPendingRequests, req, &resp); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

// --- Events ---

func (c *GRPCClient) History(ctx context.Context, req *server.HistoryRequest) ([]model.Event, error) {
	var resp server.EventsResponse
	if err := c.invoke(ctx, server.MethodHistory, req, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *GRPCClient) Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	var resp server.EventsResponse
	if err := c.invoke(ctx, server.MethodEvents, &filter, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// --- Index and cache ---

func (c *GRPCClient) Watermarks(ctx context.Context) ([]model.Watermark, error) {
	var resp server.WatermarksResponse
	if err := c.invoke(ctx, server.MethodWatermarks, &server.Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Watermarks, nil
}

func (c *GRPCClient) Invalidate(ctx context.Context, req *server.InvalidateRequest) (int, error) {
	var resp server.InvalidateResponse
	if err := c.invoke(ctx, server.MethodInvalidate, req, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}
