package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/1274866478-stack/data-agent-sub005/internal/agent"
	"github.com/1274866478-stack/data-agent-sub005/internal/telemetry"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if s.policy != nil {
		resp["policy_version"] = s.policy.VersionTag
	}
	if s.sessions != nil {
		resp["active_sessions"] = s.sessions.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req agent.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	// The tenant behind the API key wins. A body that names a different
	// tenant is rejected rather than silently rewritten.
	if auth := authTenant(r.Context()); auth != "" {
		if req.TenantID != "" && req.TenantID != auth {
			writeError(w, http.StatusForbidden, "forbidden", "tenant_id does not match API key")
			return
		}
		req.TenantID = auth
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "natural_language_query is required")
		return
	}

	resp, err := s.orch.Ask(r.Context(), req)
	if err != nil {
		log.Debug().Err(err).
			Str("correlation_id", resp.CorrelationID).
			Str("category", resp.ErrorCategory).
			Msg("ask_aborted")
	}
	writeJSON(w, statusForCategory(resp.ErrorCategory), resp)
}

// statusForCategory maps delivered and aborted outcomes to HTTP status.
// Delivered non-success outcomes (clarifications, empty results, blocked
// answers) are still 200: the client got an answer body.
func statusForCategory(category string) int {
	switch telemetry.Category(category) {
	case "", telemetry.CategorySuccess,
		telemetry.CategoryAmbiguousQuery,
		telemetry.CategoryEmptyResult,
		telemetry.CategoryHallucinationBlocked:
		return http.StatusOK
	case telemetry.CategoryMissingTenant, telemetry.CategoryInvalidRequest:
		return http.StatusBadRequest
	case telemetry.CategoryTimeout:
		return http.StatusGatewayTimeout
	case telemetry.CategoryDataSourceConnectionFailure, telemetry.CategoryLLMProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		writeError(w, http.StatusNotFound, "not_found", "telemetry is disabled")
		return
	}

	windowDays := 30
	if v := r.URL.Query().Get("window_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "window_days must be a positive integer")
			return
		}
		windowDays = n
	}

	// Authenticated callers only see their own tenant's numbers.
	tenantID := authTenant(r.Context())
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}

	report, err := s.telemetry.Report(r.Context(), windowDays, tenantID)
	if err != nil {
		log.Error().Err(err).Msg("report_failed")
		writeError(w, http.StatusInternalServerError, "internal", "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleTelemetryExport(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		writeError(w, http.StatusNotFound, "not_found", "telemetry is disabled")
		return
	}

	windowDays := 30
	if v := r.URL.Query().Get("window_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "window_days must be a positive integer")
			return
		}
		windowDays = n
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="telemetry.jsonl"`)
	if err := s.telemetry.WriteJSONL(r.Context(), w, windowDays); err != nil {
		log.Error().Err(err).Msg("telemetry_export_failed")
	}
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	if s.policy == nil {
		writeError(w, http.StatusNotFound, "not_found", "no policy loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":       s.policy.Agent,
		"version_tag": s.policy.VersionTag,
		"hash":        s.policy.Hash,
		"limits":      s.policy.Limits,
	})
}
