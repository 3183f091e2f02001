package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/opsline/switchyard/pkg/orchestrator"
	"github.com/opsline/switchyard/pkg/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

type rollbackResponse struct {
	RolledBack bool `json:"rolled_back"`
}

type startRolloutResponse struct {
	RolloutID string `json:"rollout_id"`
}

type abortResponse struct {
	Aborted bool `json:"aborted"`
}

func (s *Server) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var spec types.DeploymentSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid deployment spec: %w", err))
		return
	}

	result, err := s.automation.DeployService(r.Context(), &spec)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var oerr *orchestrator.OrchestratorError
		if errors.As(err, &oerr) && result != nil {
			// The deployment was dispatched and failed; the result carries
			// the failure detail.
			writeJSON(w, http.StatusBadGateway, result)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	filter := types.DeploymentFilter{
		ServiceName: r.URL.Query().Get("service"),
		Status:      types.DeploymentStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	writeJSON(w, http.StatusOK, s.automation.ListDeployments(filter))
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	result, ok := s.automation.GetDeploymentStatus(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("deployment not found"))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRollbackDeployment(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid rollback request: %w", err))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual rollback"
	}

	ok, err := s.automation.RollbackService(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, rollbackResponse{RolledBack: ok})
}

func (s *Server) handleStartRollout(w http.ResponseWriter, r *http.Request) {
	var config types.RolloutConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid rollout config: %w", err))
		return
	}

	rolloutID, err := s.rollouts.StartRollout(r.Context(), config)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startRolloutResponse{RolloutID: rolloutID})
}

func (s *Server) handleListRollouts(w http.ResponseWriter, r *http.Request) {
	active := s.rollouts.ListActiveRollouts()
	if active == nil {
		active = []*types.RolloutState{}
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleGetRollout(w http.ResponseWriter, r *http.Request) {
	state, ok := s.rollouts.GetRolloutStatus(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("rollout not found"))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAbortRollout(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid abort request: %w", err))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual abort"
	}

	aborted := s.rollouts.AbortRollout(r.PathValue("id"), req.Reason)
	if !aborted {
		writeError(w, http.StatusConflict, fmt.Errorf("rollout not found or already terminal"))
		return
	}
	writeJSON(w, http.StatusOK, abortResponse{Aborted: true})
}

// handleEvents streams lifecycle events as newline-delimited JSON until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("event streaming not enabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming not supported"))
		return
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	encoder := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub:
			if !open {
				return
			}
			if err := encoder.Encode(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
