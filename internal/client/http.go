package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/server"
)

// HTTPClient implements ConsentClient using the consentd HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Health(ctx context.Context) (*server.HealthResponse, error) {
	var resp server.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Consents ---

func (c *HTTPClient) ConsentStatus(ctx context.Context, patient, provider, dataType string) (*model.ConsentStatus, error) {
	q := url.Values{}
	q.Set("patient", patient)
	q.Set("provider", provider)
	q.Set("data_type", dataType)

	var st model.ConsentStatus
	if err := c.doJSON(ctx, http.MethodGet, "/v1/consents/status?"+q.Encode(), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) Consent(ctx context.Context, id string) (*model.ConsentRecord, error) {
	var rec model.ConsentRecord
	if err := c.doJSON(ctx, http.MethodGet, "/v1/consents/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) PatientConsents(ctx context.Context, patient string, includeInactive bool) ([]model.ConsentRecord, error) {
	return c.consents(ctx, "/v1/patients/"+url.PathEscape(patient)+"/consents", includeInactive)
}

func (c *HTTPClient) ProviderConsents(ctx context.Context, provider string, includeInactive bool) ([]model.ConsentRecord, error) {
	return c.consents(ctx, "/v1/providers/"+url.PathEscape(provider)+"/consents", includeInactive)
}

func (c *HTTPClient) consents(ctx context.Context, path string, includeInactive bool) ([]model.ConsentRecord, error) {
	if includeInactive {
		path += "?include_inactive=true"
	}
	var resp server.ConsentsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Consents, nil
}

// --- Access requests ---

func (c *HTTPClient) AccessRequest(ctx context.Context, id string) (*model.AccessRequest, error) {
	var req model.AccessRequest
	if err := c.doJSON(ctx, http.MethodGet, "/v1/requests/"+url.PathEscape(id), nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *HTTPClient) PendingRequests(ctx context.Context, patient, requester string) ([]model.AccessRequest, error) {
	q := url.Values{}
	if patient != "" {
		q.Set("patient", patient)
	}
	if requester != "" {
		q.Set("requester", requester)
	}
	path := "/v1/requests/pending"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp server.RequestsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

// --- Events ---

func (c *HTTPClient) History(ctx context.Context, req *server.HistoryRequest) ([]model.Event, error) {
	q := url.Values{}
	setTypes(q, req.Types)
	setBlock(q, "from_block", req.FromBlock)
	setBlock(q, "to_block", req.ToBlock)

	path := "/v1/patients/" + url.PathEscape(req.Patient) + "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp server.EventsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *HTTPClient) Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	q := url.Values{}
	setTypes(q, filter.Types)
	if filter.Patient != "" {
		q.Set("patient", filter.Patient)
	}
	if filter.Provider != "" {
		q.Set("provider", filter.Provider)
	}
	for _, id := range filter.ConsentIDs {
		q.Add("consent_id", strconv.FormatUint(id, 10))
	}
	for _, id := range filter.RequestIDs {
		q.Add("request_id", strconv.FormatUint(id, 10))
	}
	setBlock(q, "from_block", filter.FromBlock)
	setBlock(q, "to_block", filter.ToBlock)

	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp server.EventsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func setTypes(q url.Values, types []model.EventType) {
	if len(types) == 0 {
		return
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	q.Set("types", strings.Join(names, ","))
}

func setBlock(q url.Values, key string, block *uint64) {
	if block != nil {
		q.Set(key, strconv.FormatUint(*block, 10))
	}
}

// --- Index and cache ---

func (c *HTTPClient) Watermarks(ctx context.Context) ([]model.Watermark, error) {
	var resp server.WatermarksResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/index/watermarks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Watermarks, nil
}

func (c *HTTPClient) Invalidate(ctx context.Context, req *server.InvalidateRequest) (int, error) {
	var resp server.InvalidateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/cache/invalidate", req, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
