// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"net/http"
	"runtime"
	"time"

	tlerrors "github.com/tombee/tracelight/pkg/errors"
	"github.com/tombee/tracelight/pkg/observability"
)

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/spans", s.handleStartSpan)
	mux.HandleFunc("POST /v1/spans/{id}/end", s.handleEndSpan)
	mux.HandleFunc("POST /v1/messages", s.handleRecordMessage)
	mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	mux.HandleFunc("POST /v1/sessions/{id}/end", s.handleEndSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionDetails)
	mux.HandleFunc("GET /v1/sessions/{id}/graph", s.handleSessionGraph)
}

// handleStartSpan handles POST /v1/spans.
func (s *Server) handleStartSpan(w http.ResponseWriter, r *http.Request) {
	var req observability.StartSpanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ref, err := s.rec.StartSpan(r.Context(), req)
	if err != nil {
		s.writeRecorderError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, ref)
}

// handleEndSpan handles POST /v1/spans/{id}/end.
func (s *Server) handleEndSpan(w http.ResponseWriter, r *http.Request) {
	var req observability.EndSpanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.rec.EndSpan(r.Context(), r.PathValue("id"), req); err != nil {
		s.writeRecorderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRecordMessage handles POST /v1/messages.
func (s *Server) handleRecordMessage(w http.ResponseWriter, r *http.Request) {
	var req observability.RecordMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.rec.RecordMessage(r.Context(), req); err != nil {
		s.writeRecorderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartSession handles POST /v1/sessions.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var opts observability.SessionOptions
	if !decodeJSON(w, r, &opts) {
		return
	}
	session, err := s.rec.StartSession(r.Context(), opts)
	if err != nil {
		s.writeRecorderError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, session)
}

// handleEndSession handles POST /v1/sessions/{id}/end.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.rec.EndSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeRecorderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSessions handles GET /v1/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := observability.ParseListFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "query", err.Error())
		return
	}
	page, err := s.rec.ListSessions(r.Context(), filter)
	if err != nil {
		s.writeRecorderError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// handleSummary handles GET /v1/sessions/summary.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	tr, err := observability.ParseTimeRange(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "query", err.Error())
		return
	}
	summary, err := s.rec.GetSessionsSummary(r.Context(), tr)
	if err != nil {
		s.writeRecorderError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

// handleSessionDetails handles GET /v1/sessions/{id}.
func (s *Server) handleSessionDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.rec.GetSessionDetails(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRecorderError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, details)
}

// handleSessionGraph handles GET /v1/sessions/{id}/graph.
func (s *Server) handleSessionGraph(w http.ResponseWriter, r *http.Request) {
	graph, err := s.rec.GetSessionGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRecorderError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, graph)
}

// HealthResponse is the response format for /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version,omitempty"`
	GoVersion string `json:"go_version"`
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Version:   s.version,
		GoVersion: runtime.Version(),
	})
}

// writeRecorderError maps err onto a status and error body.
func (s *Server) writeRecorderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound   *tlerrors.NotFoundError
		validation *tlerrors.ValidationError
		conflict   *tlerrors.ConflictError
		timeout    *tlerrors.TimeoutError
	)
	switch {
	case tlerrors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case tlerrors.As(err, &validation):
		code := validation.Field
		if code == "" {
			code = "validation"
		}
		writeError(w, http.StatusBadRequest, code, validation.Message)
	case tlerrors.As(err, &conflict):
		writeError(w, http.StatusConflict, "conflict", conflict.Reason)
	case tlerrors.As(err, &timeout):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		s.logger.Error("recorder operation failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error_type", tlerrors.TypeOf(err),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
