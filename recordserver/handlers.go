// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package recordserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jothanjoseph26-ctrl/election/internal/auth"
	"github.com/jothanjoseph26-ctrl/election/remote"
)

const maxRequestBody = 1 << 20

// Handlers serves the REST contract over a Service
type Handlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHandlers creates HTTP handlers for service
func NewHandlers(service *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// HandleInsertReport handles POST /v1/reports
func (h *Handlers) HandleInsertReport(w http.ResponseWriter, r *http.Request) {
	agentID, ok := auth.AgentID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", "agent identity missing")
		return
	}

	var payload remote.ReportPayload
	if !h.decodeBody(w, r, &payload) {
		return
	}

	resp, err := h.service.InsertReport(r.Context(), agentID, payload)
	if err != nil {
		h.writeServiceError(w, "insert_report_failed", err, "agent_id", agentID, "client_ref", payload.ClientRef)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

// HandleUpdateEntity handles PATCH /v1/entities/{kind}/{id}
func (h *Handlers) HandleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	agentID, ok := auth.AgentID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", "agent identity missing")
		return
	}
	kind, id := r.PathValue("kind"), r.PathValue("id")

	var req remote.UpdateEntityRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	n, err := h.service.UpdateEntity(r.Context(), agentID, kind, id, req.Fields)
	if err != nil {
		h.writeServiceError(w, "update_failed", err, "agent_id", agentID, "kind", kind, "id", id)
		return
	}
	h.writeJSON(w, http.StatusOK, remote.UpdateEntityResponse{Kind: kind, ID: id, Updated: n})
}

// HandleListBroadcasts handles GET /v1/broadcasts?limit=N
func (h *Handlers) HandleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	broadcasts, err := h.service.ListBroadcasts(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "list_failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, remote.BroadcastListResponse{Broadcasts: broadcasts})
}

// HandleGetAgent handles GET /v1/agents/{id}
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.service.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "lookup_failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, agent)
}

// HandleHealth reports healthy when the database answers a ping
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, remote.HealthResponse{Status: "unhealthy"})
		return
	}
	h.writeJSON(w, http.StatusOK, remote.HealthResponse{Status: "healthy"})
}

func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return false
	}
	return true
}

// writeServiceError maps service errors to status codes. Validation and
// ownership failures are permanent (4xx); anything else is a 500.
func (h *Handlers) writeServiceError(w http.ResponseWriter, code string, err error, attrs ...any) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrNotOwned):
		h.writeError(w, http.StatusUnprocessableEntity, "not_owned", err.Error())
	case errors.Is(err, ErrValidation):
		h.writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	default:
		h.logger.Error("Request failed", append(attrs, "error", err)...)
		h.writeError(w, http.StatusInternalServerError, code, "Internal error")
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSON(w, statusCode, remote.ErrorResponse{Error: errorCode, Message: message})
}
