package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/server"
)

const (
	patient  = "0x00000000000000000000000000000000000000aa"
	provider = "0x00000000000000000000000000000000000000bb"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method string
	path   string
	query  url.Values
	body   string
	auth   string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.query = r.URL.Query()
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token)
}

func TestHTTPClient_ConsentStatus(t *testing.T) {
	h := &testHandler{responseBody: `{"has_consent": true, "consent_id": 7, "is_expired": false, "expiration_time": null}`}
	c := newTestClient(t, h, "tok")

	st, err := c.ConsentStatus(context.Background(), patient, provider, "medical records")
	if err != nil {
		t.Fatalf("ConsentStatus() error = %v", err)
	}
	if !st.HasConsent || st.ConsentID == nil || *st.ConsentID != 7 {
		t.Errorf("status = %+v", st)
	}
	if h.method != http.MethodGet || h.path != "/v1/consents/status" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.query.Get("data_type") != "medical records" || h.query.Get("patient") != patient {
		t.Errorf("query = %v", h.query)
	}
	if h.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", h.auth)
	}
}

func TestHTTPClient_Paths(t *testing.T) {
	from := uint64(5)
	for _, tc := range []struct {
		name      string
		body      string
		call      func(c *HTTPClient) error
		wantPath  string
		wantQuery url.Values
	}{
		{
			name: "Consent",
			body: `{"id": 3}`,
			call: func(c *HTTPClient) error {
				_, err := c.Consent(context.Background(), "3")
				return err
			},
			wantPath: "/v1/consents/3",
		},
		{
			name: "PatientConsents",
			body: `{"consents": []}`,
			call: func(c *HTTPClient) error {
				_, err := c.PatientConsents(context.Background(), patient, true)
				return err
			},
			wantPath:  "/v1/patients/" + patient + "/consents",
			wantQuery: url.Values{"include_inactive": {"true"}},
		},
		{
			name: "ProviderConsents",
			body: `{"consents": []}`,
			call: func(c *HTTPClient) error {
				_, err := c.ProviderConsents(context.Background(), provider, false)
				return err
			},
			wantPath: "/v1/providers/" + provider + "/consents",
		},
		{
			name: "PendingRequests",
			body: `{"requests": []}`,
			call: func(c *HTTPClient) error {
				_, err := c.PendingRequests(context.Background(), "", provider)
				return err
			},
			wantPath:  "/v1/requests/pending",
			wantQuery: url.Values{"requester": {provider}},
		},
		{
			name: "AccessRequest",
			body: `{"id": 9, "status": "pending"}`,
			call: func(c *HTTPClient) error {
				_, err := c.AccessRequest(context.Background(), "9")
				return err
			},
			wantPath: "/v1/requests/9",
		},
		{
			name: "History",
			body: `{"events": []}`,
			call: func(c *HTTPClient) error {
				_, err := c.History(context.Background(), &server.HistoryRequest{
					Patient:   patient,
					Types:     []model.EventType{model.EventConsentGranted, model.EventConsentExpired},
					FromBlock: &from,
				})
				return err
			},
			wantPath:  "/v1/patients/" + patient + "/history",
			wantQuery: url.Values{"types": {"ConsentGranted,ConsentExpired"}, "from_block": {"5"}},
		},
		{
			name: "Events",
			body: `{"events": []}`,
			call: func(c *HTTPClient) error {
				_, err := c.Events(context.Background(), model.EventFilter{
					Provider:   provider,
					ConsentIDs: []uint64{1, 2},
				})
				return err
			},
			wantPath:  "/v1/events",
			wantQuery: url.Values{"provider": {provider}, "consent_id": {"1", "2"}},
		},
		{
			name: "Watermarks",
			body: `{"watermarks": []}`,
			call: func(c *HTTPClient) error {
				_, err := c.Watermarks(context.Background())
				return err
			},
			wantPath: "/v1/index/watermarks",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := &testHandler{responseBody: tc.body}
			c := newTestClient(t, h, "")
			if err := tc.call(c); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if h.path != tc.wantPath {
				t.Errorf("path = %q, want %q", h.path, tc.wantPath)
			}
			for k, want := range tc.wantQuery {
				got := h.query[k]
				if len(got) != len(want) {
					t.Errorf("query[%s] = %v, want %v", k, got, want)
					continue
				}
				for i := range want {
					if got[i] != want[i] {
						t.Errorf("query[%s] = %v, want %v", k, got, want)
					}
				}
			}
			if h.auth != "" {
				t.Errorf("unexpected Authorization header %q", h.auth)
			}
		})
	}
}

func TestHTTPClient_Invalidate(t *testing.T) {
	h := &testHandler{responseBody: `{"deleted": 4}`}
	c := newTestClient(t, h, "")

	n, err := c.Invalidate(context.Background(), &server.InvalidateRequest{Patient: patient, ConsentID: model.Uint64Ptr(3)})
	if err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if n != 4 {
		t.Errorf("deleted = %d, want 4", n)
	}
	if h.method != http.MethodPost || h.path != "/v1/cache/invalidate" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.body != `{"patient":"`+patient+`","consent_id":3}` {
		t.Errorf("body = %s", h.body)
	}
}

func TestHTTPClient_Error_Coded(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusNotFound,
		responseBody: `{"error": "resolver.consent: consent 99 not found", "code": "not_found"}`,
	}
	c := newTestClient(t, h, "")

	_, err := c.Consent(context.Background(), "99")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Errorf("error = %+v", apiErr)
	}
	if apiErr.Message != "resolver.consent: consent 99 not found" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestHTTPClient_Error_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Watermarks(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream unavailable" {
		t.Errorf("error = %+v", apiErr)
	}
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewHTTPClient(srv.URL, "")
	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("expected error for a closed server")
	}
}
