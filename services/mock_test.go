package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/database"
)

var errNotMocked = errors.New("not mocked")

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{Driver: "sqlite", DSN: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return db
}

// MockSessionStore is a mock implementation of SessionStore
type MockSessionStore struct {
	CreateFunc       func(ctx context.Context, s Session) error
	ActiveFunc       func(ctx context.Context, id string) (bool, error)
	RevokeFunc       func(ctx context.Context, id string) error
	PurgeExpiredFunc func(ctx context.Context) (int64, error)
}

func (m *MockSessionStore) Create(ctx context.Context, s Session) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	return nil
}

func (m *MockSessionStore) Active(ctx context.Context, id string) (bool, error) {
	if m.ActiveFunc != nil {
		return m.ActiveFunc(ctx, id)
	}
	return false, errNotMocked
}

func (m *MockSessionStore) Revoke(ctx context.Context, id string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id)
	}
	return nil
}

func (m *MockSessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	if m.PurgeExpiredFunc != nil {
		return m.PurgeExpiredFunc(ctx)
	}
	return 0, nil
}

// MockPlanner is a mock implementation of Planner
type MockPlanner struct {
	PlanFunc func(ctx context.Context, b api.Board, message string) (Plan, error)
}

func (m *MockPlanner) Plan(ctx context.Context, b api.Board, message string) (Plan, error) {
	if m.PlanFunc != nil {
		return m.PlanFunc(ctx, b, message)
	}
	return Plan{}, errNotMocked
}

type publishedEvent struct {
	userID int64
	event  api.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(userID int64, ev api.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{userID: userID, event: ev})
}

func (p *recordingPublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}
