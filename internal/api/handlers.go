package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/keybridge/internal/client"
	"github.com/mattjoyce/keybridge/internal/failure"
	"github.com/mattjoyce/keybridge/internal/journal"
)

const (
	defaultCallsLimit = 50
	maxCallsLimit     = 500
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleCall handles POST /call/{api}/{method}.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	apiName := chi.URLParam(r, "api")
	method := chi.URLParam(r, "method")

	var req CallRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.TimeoutMS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return
	}

	var options any
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &options); err != nil {
			s.writeError(w, http.StatusBadRequest, "options must be valid JSON")
			return
		}
	}

	result, err := s.caller.Call(r.Context(), client.APICall{
		API:     apiName,
		Method:  method,
		Options: options,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		s.writeCallError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CallResponse{API: apiName, Method: method, Result: result})
}

// handleCalls handles GET /calls.
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal is disabled")
		return
	}

	limit := defaultCallsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxCallsLimit)
	}

	entries, err := s.history.List(r.Context(), journal.Filter{API: r.URL.Query().Get("api"), Limit: limit})
	if err != nil {
		s.logger.Error("failed to list calls", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, CallsResponse{Calls: entries})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.APIs))
}

// writeCallError maps a call failure to an HTTP status.
func (s *Server) writeCallError(w http.ResponseWriter, err error) {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusBadGateway
	switch fe.Kind {
	case failure.KindNotInitialized:
		status = http.StatusServiceUnavailable
	case failure.KindApplication:
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, ErrorResponse{Error: fe.Message, Kind: string(fe.Kind), ExitCode: fe.ExitCode})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
