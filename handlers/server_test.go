package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/database"
	"github.com/CrowderSoup/kanban-studio/metrics"
	"github.com/CrowderSoup/kanban-studio/services"
)

// MockPlanner is a mock implementation of services.Planner
type MockPlanner struct {
	PlanFunc func(ctx context.Context, b api.Board, message string) (services.Plan, error)
}

func (m *MockPlanner) Plan(ctx context.Context, b api.Board, message string) (services.Plan, error) {
	if m.PlanFunc != nil {
		return m.PlanFunc(ctx, b, message)
	}
	return services.Plan{}, nil
}

type testServer struct {
	*httptest.Server
	repo     database.BoardRepository
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

// newTestServer starts the full router on an in-memory database. A nil
// planner leaves the assistant unconfigured.
func newTestServer(t *testing.T, planner services.Planner) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := database.Open(context.Background(), database.Config{Driver: "sqlite", DSN: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	repo := database.NewBoardRepository(db)
	auth := services.NewAuthService(repo, services.NewDBSessionStore(db), services.AuthConfig{
		JWTSecret:        "test-secret",
		TokenTTL:         time.Hour,
		SeedDefaultBoard: true,
		BcryptCost:       bcrypt.MinCost,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	// Hub goroutines may outlive the test; keep them off the test logger.
	hub := services.NewHub(zap.NewNop())
	go hub.Run(ctx)

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, logger)

	srv := httptest.NewServer(NewRouter(Deps{
		Repo:           repo,
		Auth:           auth,
		Assistant:      services.NewAssistant(repo, planner, hub, logger),
		Hub:            hub,
		Metrics:        m,
		Gatherer:       reg,
		AllowedOrigins: []string{"*"},
		Logger:         logger,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &testServer{Server: srv, repo: repo, metrics: m, registry: reg}
}

// call sends a JSON request and returns the status and raw body.
func (s *testServer) call(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

// register signs up username and returns the issued token.
func (s *testServer) register(t *testing.T, username string) api.TokenResponse {
	t.Helper()
	status, body := s.call(t, http.MethodPost, "/api/auth/register", "", api.Credentials{Username: username, Password: "secret-" + username})
	require.Equal(t, http.StatusCreated, status, string(body))
	return decode[api.TokenResponse](t, body)
}

func (s *testServer) firstBoard(t *testing.T, tok api.TokenResponse) api.Board {
	t.Helper()
	status, body := s.call(t, http.MethodGet, "/api/users/"+itoa(tok.UserID)+"/boards", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	boards := decode[[]api.Board](t, body)
	require.NotEmpty(t, boards)
	return boards[0]
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}
