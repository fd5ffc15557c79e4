package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/database"
	"github.com/CrowderSoup/kanban-studio/metrics"
	"github.com/CrowderSoup/kanban-studio/services"
)

type AssistantHandler struct {
	assistant *services.Assistant
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewAssistantHandler(assistant *services.Assistant, m *metrics.Metrics, logger *zap.Logger) *AssistantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssistantHandler{assistant: assistant, metrics: m, logger: logger}
}

// Chat forwards a message to the assistant on behalf of the caller.
func (h *AssistantHandler) Chat(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	var req api.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.UserID != 0 && req.UserID != identity.UserID {
		writeError(w, r, h.logger, database.ErrNotFound)
		return
	}

	resp, err := h.assistant.Chat(r.Context(), identity.UserID, req.Message)
	h.metrics.RecordAssistantRequest(outcome(resp, err))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func outcome(resp api.ChatResponse, err error) string {
	switch {
	case errors.Is(err, services.ErrAssistantUnavailable):
		return metrics.OutcomeUnavailable
	case errors.Is(err, services.ErrPlanRejected):
		return metrics.OutcomeRejected
	case err != nil:
		return metrics.OutcomeError
	case resp.Board != nil:
		return metrics.OutcomeApplied
	default:
		return metrics.OutcomeReplied
	}
}
