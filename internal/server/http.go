package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/consents/status", s.handleConsentStatus)
	mux.HandleFunc("GET /v1/consents/{id}", s.handleConsent)
	mux.HandleFunc("GET /v1/patients/{address}/consents", s.handlePatientConsents)
	mux.HandleFunc("GET /v1/patients/{address}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/providers/{address}/consents", s.handleProviderConsents)
	mux.HandleFunc("GET /v1/requests/pending", s.handlePendingRequests)
	mux.HandleFunc("GET /v1/requests/{id}", s.handleAccessRequest)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/index/watermarks", s.handleWatermarks)
	mux.HandleFunc("POST /v1/cache/invalidate", s.handleInvalidate)
	return RequestLogger(s.logger, AuthMiddleware(authToken, mux))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, _ := s.Health(r.Context(), &Empty{})
	writeJSON(w, http.StatusOK, resp)
}

// handleConsentStatus handles GET /v1/consents/status.
func (s *Server) handleConsentStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.ConsentStatus(r.Context(), &StatusRequest{
		Patient:  q.Get("patient"),
		Provider: q.Get("provider"),
		DataType: q.Get("data_type"),
	})
	s.respond(w, r, resp, err)
}

// handleConsent handles GET /v1/consents/{id}.
func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Consent(r.Context(), &IDRequest{ID: r.PathValue("id")})
	s.respond(w, r, resp, err)
}

// handleAccessRequest handles GET /v1/requests/{id}.
func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	resp, err := s.AccessRequest(r.Context(), &IDRequest{ID: r.PathValue("id")})
	s.respond(w, r, resp, err)
}

// handlePatientConsents handles GET /v1/patients/{address}/consents.
func (s *Server) handlePatientConsents(w http.ResponseWriter, r *http.Request) {
	req, err := consentsRequest(r)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	resp, err := s.PatientConsents(r.Context(), req)
	s.respond(w, r, resp, err)
}

// handleProviderConsents handles GET /v1/providers/{address}/consents.
func (s *Server) handleProviderConsents(w http.ResponseWriter, r *http.Request) {
	req, err := consentsRequest(r)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	resp, err := s.ProviderConsents(r.Context(), req)
	s.respond(w, r, resp, err)
}

func consentsRequest(r *http.Request) (*ConsentsRequest, error) {
	req := &ConsentsRequest{Address: r.PathValue("address")}
	if v := r.URL.Query().Get("include_inactive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			var ve model.ValidationError
			ve.Add("include_inactive", "must be a boolean, got %q", v)
			return nil, ve.Err()
		}
		req.IncludeInactive = b
	}
	return req, nil
}

// handlePendingRequests handles GET /v1/requests/pending.
func (s *Server) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.PendingRequests(r.Context(), &PendingRequest{
		Patient:   q.Get("patient"),
		Requester: q.Get("requester"),
	})
	s.respond(w, r, resp, err)
}

// handleHistory handles GET /v1/patients/{address}/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ve model.ValidationError
	req := &HistoryRequest{
		Patient:   r.PathValue("address"),
		Types:     eventTypes(q.Get("types")),
		FromBlock: block(&ve, "from_block", q.Get("from_block")),
		ToBlock:   block(&ve, "to_block", q.Get("to_block")),
	}
	if err := ve.Err(); err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	resp, err := s.History(r.Context(), req)
	s.respond(w, r, resp, err)
}

// handleEvents handles GET /v1/events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	consentIDs, err := ids("consent_id", q["consent_id"])
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	requestIDs, err := ids("request_id", q["request_id"])
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	var ve model.ValidationError
	filter := &model.EventFilter{
		Types:      eventTypes(q.Get("types")),
		Patient:    q.Get("patient"),
		Provider:   q.Get("provider"),
		ConsentIDs: consentIDs,
		RequestIDs: requestIDs,
		FromBlock:  block(&ve, "from_block", q.Get("from_block")),
		ToBlock:    block(&ve, "to_block", q.Get("to_block")),
	}
	if err := ve.Err(); err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	resp, err := s.Events(r.Context(), filter)
	s.respond(w, r, resp, err)
}

// handleWatermarks handles GET /v1/index/watermarks.
func (s *Server) handleWatermarks(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Watermarks(r.Context(), &Empty{})
	s.respond(w, r, resp, err)
}

// handleInvalidate handles POST /v1/cache/invalidate.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.KindValidation, "invalid JSON body: "+err.Error())
		return
	}
	resp, err := s.Invalidate(r.Context(), &req)
	s.respond(w, r, resp, err)
}

// eventTypes splits a comma-separated types parameter. Unknown names are
// passed through for the query layer to reject.
func eventTypes(raw string) []model.EventType {
	var out []model.EventType
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, model.EventType(part))
		}
	}
	return out
}

func block(ve *model.ValidationError, field, raw string) *uint64 {
	n, err := model.ParseBlock(field, raw)
	if err != nil {
		ve.Add(field, "must be a non-negative block number, got %q", raw)
	}
	return n
}

// ids parses repeated or comma-separated id parameters. The first bad id
// is returned as an invalid_id error.
func ids(field string, raw []string) ([]uint64, error) {
	var out []uint64
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := model.ParseID(field, part)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, resp any, err error) {
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeQueryError maps a classified error onto its HTTP status.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	status := httpStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()), "code", kind, "err", err)
	}
	writeError(w, status, kind, publicMessage(kind, err))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code model.ErrorKind, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": string(code)})
}
