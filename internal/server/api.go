package server

import (
	"github.com/alfredjeanlab/consentd/internal/cache"
	"github.com/alfredjeanlab/consentd/internal/model"
)

// ServiceName is the gRPC service name of the consent query API.
const ServiceName = "consentd.v1.ConsentQuery"

// Full gRPC method names.
const (
	MethodHealth           = "/" + ServiceName + "/Health"
	MethodConsentStatus    = "/" + ServiceName + "/ConsentStatus"
	MethodConsent          = "/" + ServiceName + "/Consent"
	MethodAccessRequest    = "/" + ServiceName + "/AccessRequest"
	MethodPatientConsents  = "/" + ServiceName + "/PatientConsents"
	MethodProviderConsents = "/" + ServiceName + "/ProviderConsents"
	MethodPendingRequests  = "/" + ServiceName + "/PendingRequests"
	MethodHistory          = "/" + ServiceName + "/History"
	MethodEvents           = "/" + ServiceName + "/Events"
	MethodWatermarks       = "/" + ServiceName + "/Watermarks"
	MethodInvalidate       = "/" + ServiceName + "/Invalidate"
)

// Empty is the request of parameterless calls.
type Empty struct{}

// HealthResponse reports server liveness.
type HealthResponse struct {
	Status string `json:"status"`
	Index  bool   `json:"index"`
}

// StatusRequest asks whether a patient consents to a provider for a data type.
type StatusRequest struct {
	Patient  string `json:"patient"`
	Provider string `json:"provider"`
	DataType string `json:"data_type"`
}

// IDRequest names a consent or access request by its decimal id.
type IDRequest struct {
	ID string `json:"id"`
}

// ConsentsRequest lists consents for one patient or provider address.
type ConsentsRequest struct {
	Address         string `json:"address"`
	IncludeInactive bool   `json:"include_inactive,omitempty"`
}

// ConsentsResponse wraps a consent listing.
type ConsentsResponse struct {
	Consents []model.ConsentRecord `json:"consents"`
}

// PendingRequest filters unanswered access requests.
type PendingRequest struct {
	Patient   string `json:"patient,omitempty"`
	Requester string `json:"requester,omitempty"`
}

// RequestsResponse wraps an access request listing.
type RequestsResponse struct {
	Requests []model.AccessRequest `json:"requests"`
}

// HistoryRequest selects a patient's history.
type HistoryRequest struct {
	Patient   string            `json:"patient"`
	Types     []model.EventType `json:"types,omitempty"`
	FromBlock *uint64           `json:"from_block,omitempty"`
	ToBlock   *uint64           `json:"to_block,omitempty"`
}

// EventsResponse wraps an event sequence.
type EventsResponse struct {
	Events []model.Event `json:"events"`
}

// WatermarksResponse wraps the index watermarks.
type WatermarksResponse struct {
	Watermarks []model.Watermark `json:"watermarks"`
}

// InvalidateResponse reports how many cache keys were deleted.
type InvalidateResponse struct {
	Deleted int `json:"deleted"`
}

// InvalidateRequest is the body of a cache invalidation call.
type InvalidateRequest = cache.Change
