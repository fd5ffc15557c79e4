package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/database"
	"github.com/CrowderSoup/kanban-studio/metrics"
	"github.com/CrowderSoup/kanban-studio/services"
)

func TestChat_Unconfigured(t *testing.T) {
	srv := newTestServer(t, nil)
	tok := srv.register(t, "alice")

	status, body := srv.call(t, http.MethodPost, "/api/ai/chat", tok.AccessToken, api.ChatRequest{Message: "hi"})

	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "assistant unavailable", decode[api.ErrorResponse](t, body).Detail)
	assert.Equal(t, 1.0, counterValue(t, srv.metrics.AssistantRequestsTotal.WithLabelValues(metrics.OutcomeUnavailable)))
}

func TestChat_AppliesPlan(t *testing.T) {
	title := "Book flights"
	planner := &MockPlanner{
		PlanFunc: func(ctx context.Context, b api.Board, message string) (services.Plan, error) {
			return services.Plan{
				Reply: "Added it to " + b.Columns[0].Title + ".",
				Actions: []database.Action{
					{Type: database.ActionCreateCard, ColumnID: b.Columns[0].ID, Title: &title},
				},
			}, nil
		},
	}
	srv := newTestServer(t, planner)
	tok := srv.register(t, "alice")

	status, body := srv.call(t, http.MethodPost, "/api/ai/chat", tok.AccessToken, api.ChatRequest{Message: "remind me to book flights", UserID: tok.UserID})
	require.Equal(t, http.StatusOK, status, string(body))

	resp := decode[api.ChatResponse](t, body)
	assert.Equal(t, "Added it to Backlog.", resp.ResponseMessage)
	require.NotNil(t, resp.Board)
	require.Len(t, resp.Board.Columns[0].Cards, 1)
	assert.Equal(t, title, resp.Board.Columns[0].Cards[0].Title)
	assert.Equal(t, 1.0, counterValue(t, srv.metrics.AssistantRequestsTotal.WithLabelValues(metrics.OutcomeApplied)))
}

func TestChat_Errors(t *testing.T) {
	var providerDown atomic.Bool
	planner := &MockPlanner{
		PlanFunc: func(ctx context.Context, b api.Board, message string) (services.Plan, error) {
			if providerDown.Load() {
				return services.Plan{}, errors.New("provider down")
			}
			return services.Plan{Reply: "done", Actions: []database.Action{{Type: database.ActionDeleteCard, CardID: 999999}}}, nil
		},
	}
	srv := newTestServer(t, planner)
	tok := srv.register(t, "alice")

	status, _ := srv.call(t, http.MethodPost, "/api/ai/chat", tok.AccessToken, api.ChatRequest{Message: "delete it"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	providerDown.Store(true)
	status, _ = srv.call(t, http.MethodPost, "/api/ai/chat", tok.AccessToken, api.ChatRequest{Message: "delete it"})
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = srv.call(t, http.MethodPost, "/api/ai/chat", tok.AccessToken, api.ChatRequest{Message: "delete it", UserID: tok.UserID + 1})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = srv.call(t, http.MethodPost, "/api/ai/chat", tok.AccessToken, api.ChatRequest{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, 1.0, counterValue(t, srv.metrics.AssistantRequestsTotal.WithLabelValues(metrics.OutcomeRejected)))
	assert.Equal(t, 1.0, counterValue(t, srv.metrics.AssistantRequestsTotal.WithLabelValues(metrics.OutcomeUnavailable)))
}
