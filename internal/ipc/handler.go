// Package ipc provides the HTTP and WebSocket API for the engine.
package ipc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/autodev-labs/autodev-engine/internal/broadcast"
	"github.com/autodev-labs/autodev-engine/internal/domain"
	"github.com/autodev-labs/autodev-engine/internal/hitl"
	"github.com/autodev-labs/autodev-engine/internal/orchestrator"
	"github.com/autodev-labs/autodev-engine/internal/store"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Checkpoints  *hitl.Manager
	Bus          *broadcast.Broadcaster
	Store        *store.Store
}

// CreateExecutionResponse is the body returned by POST /api/v1/executions.
type CreateExecutionResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status"`
}

// ResolveCheckpointRequest is the body for POST /api/v1/checkpoints/{checkpointID}/resolve.
type ResolveCheckpointRequest struct {
	Decision domain.Decision `json:"decision"`
	Reviewer string          `json:"reviewer"`
	Reason   string          `json:"reason"`
}

// CostSummary is the response for GET /api/v1/executions/{executionID}/cost.
type CostSummary struct {
	BudgetUSD  float64            `json:"budget_usd"`
	CostUSD    float64            `json:"cost_usd"`
	TokensUsed int64              `json:"tokens_used"`
	Deltas     []domain.CostDelta `json:"deltas"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateExecution handles POST /api/v1/executions.
func (h *Handler) CreateExecution(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.TemplateID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "template_id is required"})
		return
	}
	if req.BudgetUSD < 0 {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "budget_usd must not be negative"})
		return
	}

	executionID, err := h.Orchestrator.Start(req)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := h.Orchestrator.Status(executionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateExecutionResponse{ExecutionID: executionID, Status: status})
}

// GetExecution handles GET /api/v1/executions/{executionID}.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("executionID")
	status, err := h.Orchestrator.Status(executionID)
	if err != nil {
		// Fall back to the archive for executions from before a restart.
		if h.Store != nil {
			if row, storeErr := h.Store.GetExecution(r.Context(), executionID); storeErr == nil {
				writeJSON(w, http.StatusOK, row.Status)
				return
			}
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// CancelExecution handles POST /api/v1/executions/{executionID}/cancel.
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("executionID")
	if err := h.Orchestrator.Cancel(executionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEvents handles GET /api/v1/executions/{executionID}/events?since_seq=N.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("executionID")
	sinceSeq := int64(0)
	if s := r.URL.Query().Get("since_seq"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			sinceSeq = parsed
		}
	}

	events, err := h.Store.ListEvents(r.Context(), executionID, sinceSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.StreamEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetCost handles GET /api/v1/executions/{executionID}/cost.
func (h *Handler) GetCost(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("executionID")

	var summary CostSummary
	status, err := h.Orchestrator.Status(executionID)
	if err == nil {
		summary.CostUSD = status.Metrics.CostUSD
		summary.TokensUsed = status.Metrics.TokensUsed
	}

	var row store.ExecutionRow
	if h.Store != nil {
		row, err = h.Store.GetExecution(r.Context(), executionID)
		if err != nil {
			writeError(w, err)
			return
		}
		summary.BudgetUSD = row.Request.BudgetUSD
		if summary.CostUSD == 0 {
			summary.CostUSD = row.Status.Metrics.CostUSD
			summary.TokensUsed = row.Status.Metrics.TokensUsed
		}
		deltas, err := h.Store.ListCostDeltas(r.Context(), executionID)
		if err != nil {
			writeError(w, err)
			return
		}
		summary.Deltas = deltas
	} else if err != nil {
		writeError(w, err)
		return
	}
	if summary.Deltas == nil {
		summary.Deltas = []domain.CostDelta{}
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListCheckpoints handles GET /api/v1/checkpoints?execution_id=X.
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	pending := h.Checkpoints.ListPending(r.URL.Query().Get("execution_id"))
	if pending == nil {
		pending = []domain.Checkpoint{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// ResolveCheckpoint handles POST /api/v1/checkpoints/{checkpointID}/resolve.
func (h *Handler) ResolveCheckpoint(w http.ResponseWriter, r *http.Request) {
	checkpointID := r.PathValue("checkpointID")
	var req ResolveCheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	cp, err := h.Checkpoints.Resolve(checkpointID, req.Decision, req.Reviewer, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if engErr, ok := err.(*domain.EngineError); ok {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrExecutionNotFound.Code, domain.ErrCheckpointNotFound.Code,
			domain.ErrTrackerNotFound.Code, domain.ErrTemplateNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrDuplicateExecution.Code, domain.ErrExecutionDone.Code,
			domain.ErrCheckpointResolved.Code:
			status = http.StatusConflict
		case domain.ErrBudgetExceeded.Code:
			status = http.StatusForbidden
		case domain.ErrRateLimitExceeded.Code:
			status = http.StatusTooManyRequests
		case domain.ErrInvalidTransition.Code:
			status = http.StatusUnprocessableEntity
		case domain.ErrConfigInvalid.Code, domain.ErrInvalidDecision.Code:
			status = http.StatusBadRequest
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}
