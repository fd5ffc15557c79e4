package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/board"
	"github.com/CrowderSoup/kanban-studio/database"
)

var (
	// ErrAssistantUnavailable means no planner is configured or the provider
	// could not be reached.
	ErrAssistantUnavailable = errors.New("assistant unavailable")
	// ErrPlanRejected means the planner proposed edits that cannot be applied.
	ErrPlanRejected = errors.New("assistant proposed invalid changes")
)

// Plan is a reply to the user plus the board edits that go with it.
type Plan struct {
	Reply   string            `json:"reply"`
	Actions []database.Action `json:"actions"`
}

// Planner turns a message about a board into a Plan.
type Planner interface {
	Plan(ctx context.Context, b api.Board, message string) (Plan, error)
}

// Publisher delivers change-feed events. *Hub implements it.
type Publisher interface {
	Publish(userID int64, ev api.Event)
}

type Assistant struct {
	repo    database.BoardRepository
	planner Planner
	events  Publisher
	logger  *zap.Logger
}

// NewAssistant creates the assistant. A nil planner makes every Chat call
// fail with ErrAssistantUnavailable.
func NewAssistant(repo database.BoardRepository, planner Planner, events Publisher, logger *zap.Logger) *Assistant {
	return &Assistant{repo: repo, planner: planner, events: events, logger: logger}
}

// Enabled reports whether a planner is configured.
func (a *Assistant) Enabled() bool {
	return a.planner != nil
}

// Chat plans and applies the edits asked for in message on the user's first
// board. The board is returned only when something changed.
func (a *Assistant) Chat(ctx context.Context, userID int64, message string) (api.ChatResponse, error) {
	if a.planner == nil {
		return api.ChatResponse{}, ErrAssistantUnavailable
	}

	current, err := a.firstBoard(ctx, userID)
	if err != nil {
		return api.ChatResponse{}, err
	}

	plan, err := a.planner.Plan(ctx, current.API(), message)
	if err != nil {
		a.logger.Warn("assistant planner failed", zap.Int64("user_id", userID), zap.Error(err))
		return api.ChatResponse{}, fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}

	resp := api.ChatResponse{ResponseMessage: strings.TrimSpace(plan.Reply)}
	if len(plan.Actions) == 0 {
		return resp, nil
	}

	if err := a.repo.ApplyActions(ctx, current.ID, plan.Actions); err != nil {
		if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrInvalidAction) {
			a.logger.Warn("assistant plan rejected", zap.Int64("user_id", userID), zap.Error(err))
			return api.ChatResponse{}, fmt.Errorf("%w: %v", ErrPlanRejected, err)
		}
		return api.ChatResponse{}, err
	}

	updated, err := a.repo.BoardByID(ctx, current.ID)
	if err != nil {
		return api.ChatResponse{}, err
	}
	b := updated.API()
	resp.Board = &b

	if ev, err := api.NewEvent(api.EventBoardReplaced, b); err == nil {
		a.events.Publish(userID, ev)
	}
	a.logger.Info("assistant applied plan", zap.Int64("user_id", userID), zap.Int("actions", len(plan.Actions)))
	return resp, nil
}

// firstBoard returns the user's oldest board, creating the default one when
// the user has none.
func (a *Assistant) firstBoard(ctx context.Context, userID int64) (*database.Board, error) {
	boards, err := a.repo.BoardsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(boards) > 0 {
		return &boards[0], nil
	}
	return a.repo.CreateBoard(ctx, userID, DefaultBoardTitle, board.DefaultColumnTitles...)
}

const plannerPrompt = `You manage a kanban board for the user. You receive the board as JSON
followed by the user's message. Answer with one JSON object:
{"reply": "<short answer for the user>", "actions": [...]}
Each action is one of:
{"type":"create_card","column_id":N,"title":"...","description":"..."}
{"type":"update_card","card_id":N,"title":"...","description":"..."}
{"type":"move_card","card_id":N,"column_id":N,"order":N}
{"type":"delete_card","card_id":N}
{"type":"rename_column","column_id":N,"title":"..."}
Only use ids that appear on the board. Use an empty actions list when the
message does not ask for a change.`

// OpenAIPlanner asks an OpenAI-compatible chat completion API for a plan in
// JSON mode.
type OpenAIPlanner struct {
	client *openai.Client
	model  string
}

// NewOpenAIPlanner creates a planner. An empty baseURL uses the provider
// default.
func NewOpenAIPlanner(apiKey, baseURL, model string) *OpenAIPlanner {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIPlanner{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIPlanner) Plan(ctx context.Context, b api.Board, message string) (Plan, error) {
	boardJSON, err := json.Marshal(b)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to encode board: %w", err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: plannerPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Board:\n" + string(boardJSON) + "\n\nMessage:\n" + message},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Plan{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Plan{}, errors.New("chat completion returned no choices")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &plan); err != nil {
		return Plan{}, fmt.Errorf("failed to decode plan: %w", err)
	}
	return plan, nil
}
