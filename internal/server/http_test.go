package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alfredjeanlab/consentd/internal/ledger"
	"github.com/alfredjeanlab/consentd/internal/model"
)

func doRequest(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestHTTP_Health(t *testing.T) {
	h := newTestServer(t, nil).NewHTTPHandler("secret")
	rec := doRequest(t, h, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[HealthResponse](t, rec); got.Status != "ok" {
		t.Errorf("health = %+v", got)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestHTTP_ConsentStatus(t *testing.T) {
	h := newTestServer(t, nil).NewHTTPHandler("")

	rec := doRequest(t, h, http.MethodGet, "/v1/consents/status?patient="+patient+"&provider="+provider+"&data_type=medical_records", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	st := decode[model.ConsentStatus](t, rec)
	if !st.HasConsent || st.ConsentID == nil || *st.ConsentID != 1 {
		t.Errorf("status = %+v, want consent 1", st)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/consents/status?patient="+patient+"&provider="+provider+"&data_type=imaging", nil)
	if st := decode[model.ConsentStatus](t, rec); st.HasConsent || st.ConsentID != nil {
		t.Errorf("revoked data type = %+v, want no consent", st)
	}
}

func TestHTTP_ErrorMapping(t *testing.T) {
	h := newTestServer(t, nil).NewHTTPHandler("")
	for _, tc := range []struct {
		name   string
		method string
		path   string
		body   []byte
		status int
		code   string
	}{
		{"status missing patient", http.MethodGet, "/v1/consents/status?provider=" + provider + "&data_type=x", nil, 400, "validation"},
		{"consent id not a number", http.MethodGet, "/v1/consents/abc", nil, 400, "invalid_id"},
		{"consent id negative", http.MethodGet, "/v1/consents/-1", nil, 400, "invalid_id"},
		{"consent not found", http.MethodGet, "/v1/consents/99", nil, 404, "not_found"},
		{"request not found", http.MethodGet, "/v1/requests/42", nil, 404, "not_found"},
		{"bad include_inactive", http.MethodGet, "/v1/patients/" + patient + "/consents?include_inactive=maybe", nil, 400, "validation"},
		{"bad patient address", http.MethodGet, "/v1/patients/nobody/consents", nil, 400, "validation"},
		{"pending without party", http.MethodGet, "/v1/requests/pending", nil, 400, "validation"},
		{"history bad type", http.MethodGet, "/v1/patients/" + patient + "/history?types=Bogus", nil, 400, "validation"},
		{"history bad block", http.MethodGet, "/v1/patients/" + patient + "/history?from_block=x", nil, 400, "validation"},
		{"history inverted range", http.MethodGet, "/v1/patients/" + patient + "/history?from_block=20&to_block=10", nil, 400, "validation"},
		{"events synthetic type", http.MethodGet, "/v1/events?types=ConsentExpired", nil, 400, "validation"},
		{"events bad id", http.MethodGet, "/v1/events?consent_id=x", nil, 400, "invalid_id"},
		{"events negative id", http.MethodGet, "/v1/events?consent_id=-1", nil, 400, "invalid_id"},
		{"events bad id in list", http.MethodGet, "/v1/events?request_id=4,nope", nil, 400, "invalid_id"},
		{"invalidate bad json", http.MethodPost, "/v1/cache/invalidate", []byte("{"), 400, "validation"},
		{"invalidate empty change", http.MethodPost, "/v1/cache/invalidate", []byte("{}"), 400, "validation"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
			body := decode[map[string]string](t, rec)
			if body["code"] != tc.code {
				t.Errorf("code = %q, want %q", body["code"], tc.code)
			}
			if body["error"] == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestHTTP_LedgerOutage(t *testing.T) {
	l := ledger.NewMemoryLedger()
	l.Fail = func(op string) error { return model.Connectivity(op, errors.New("connection refused")) }
	h := newTestServer(t, l).NewHTTPHandler("")

	rec := doRequest(t, h, http.MethodGet, "/v1/patients/"+patient+"/consents", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
	if body := decode[map[string]string](t, rec); body["code"] != "connectivity" {
		t.Errorf("code = %q", body["code"])
	}
}

func TestHTTP_Listings(t *testing.T) {
	h := newTestServer(t, nil).NewHTTPHandler("")

	current := decode[ConsentsResponse](t, doRequest(t, h, http.MethodGet, "/v1/patients/"+patient+"/consents", nil))
	if len(current.Consents) != 1 || current.Consents[0].ID != 1 {
		t.Errorf("current consents = %+v", current.Consents)
	}
	all := decode[ConsentsResponse](t, doRequest(t, h, http.MethodGet, "/v1/patients/"+patient+"/consents?include_inactive=true", nil))
	if len(all.Consents) != 2 {
		t.Errorf("got %d consents with inactive, want 2", len(all.Consents))
	}
	byProvider := decode[ConsentsResponse](t, doRequest(t, h, http.MethodGet, "/v1/providers/"+provider+"/consents", nil))
	if len(byProvider.Consents) != 1 {
		t.Errorf("provider consents = %+v", byProvider.Consents)
	}

	pending := decode[RequestsResponse](t, doRequest(t, h, http.MethodGet, "/v1/requests/pending?patient="+patient, nil))
	if len(pending.Requests) != 1 || pending.Requests[0].Status != model.RequestPending {
		t.Errorf("pending = %+v", pending.Requests)
	}
	req := decode[model.AccessRequest](t, doRequest(t, h, http.MethodGet, "/v1/requests/1", nil))
	if req.ID != 1 || req.Requester != provider {
		t.Errorf("request = %+v", req)
	}

	rec := doRequest(t, h, http.MethodGet, "/v1/consents/2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consent 2 status = %d", rec.Code)
	}
	if rec2 := decode[model.ConsentRecord](t, rec); rec2.IsActive {
		t.Errorf("consent 2 should be revoked: %+v", rec2)
	}
}

func TestHTTP_HistoryAndEvents(t *testing.T) {
	h := newTestServer(t, nil).NewHTTPHandler("")

	history := decode[EventsResponse](t, doRequest(t, h, http.MethodGet, "/v1/patients/"+patient+"/history", nil))
	if len(history.Events) != 4 {
		t.Fatalf("history has %d events, want 4", len(history.Events))
	}
	if history.Events[0].BlockNumber != 13 {
		t.Errorf("history should be newest first, got block %d", history.Events[0].BlockNumber)
	}

	grants := decode[EventsResponse](t, doRequest(t, h, http.MethodGet, "/v1/events?types=ConsentGranted&consent_id=2", nil))
	if len(grants.Events) != 1 || *grants.Events[0].ConsentID != 2 {
		t.Errorf("events = %+v", grants.Events)
	}

	windowed := decode[EventsResponse](t, doRequest(t, h, http.MethodGet, "/v1/events?from_block=11&to_block=12", nil))
	if len(windowed.Events) != 2 {
		t.Errorf("windowed events = %d, want 2", len(windowed.Events))
	}
}

func TestHTTP_WatermarksAndInvalidate(t *testing.T) {
	h := newTestServer(t, nil).NewHTTPHandler("")

	rec := doRequest(t, h, http.MethodGet, "/v1/index/watermarks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if wms := decode[WatermarksResponse](t, rec); len(wms.Watermarks) != 0 {
		t.Errorf("watermarks without an index = %+v", wms.Watermarks)
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/cache/invalidate", []byte(`{"patient":"`+patient+`","consent_id":1}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[InvalidateResponse](t, rec); got.Deleted != 0 {
		t.Errorf("disabled cache deleted %d keys", got.Deleted)
	}
}

func TestHTTP_AuthRequired(t *testing.T) {
	h := newTestServer(t, nil).NewHTTPHandler("secret")

	rec := doRequest(t, h, http.MethodGet, "/v1/consents/1", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/consents/1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}
