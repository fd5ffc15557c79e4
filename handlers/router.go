package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/database"
	"github.com/CrowderSoup/kanban-studio/metrics"
	"github.com/CrowderSoup/kanban-studio/services"
)

// Deps are the services the router serves.
type Deps struct {
	Repo      database.BoardRepository
	Auth      *services.AuthService
	Assistant *services.Assistant
	Hub       *services.Hub
	Metrics   *metrics.Metrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	// StaticDir is served at / when set.
	StaticDir      string
	AllowedOrigins []string
	CookieSecure   bool
	Logger         *zap.Logger
}

// NewRouter wires every endpoint of the server.
func NewRouter(d Deps) *mux.Router {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	authHandler := NewAuthHandler(d.Auth, d.CookieSecure, logger)
	boardHandler := NewBoardHandler(d.Repo, d.Hub, d.Metrics, logger)
	assistantHandler := NewAssistantHandler(d.Assistant, d.Metrics, logger)
	feedHandler := NewFeedHandler(d.Hub, d.AllowedOrigins, logger)
	authMiddleware := NewAuthMiddleware(d.Auth, logger)

	r := mux.NewRouter()
	r.Use(RequestID(logger), Recovery(logger), Metrics(d.Metrics))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/hello", boardHandler.Hello).Methods(http.MethodGet)
	api.HandleFunc("/auth/register", authHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)

	protected := api.NewRoute().Subrouter()
	protected.Use(authMiddleware.Auth)
	protected.HandleFunc("/auth/logout", authHandler.Logout).Methods(http.MethodPost)
	protected.HandleFunc("/auth/verify", authHandler.VerifyToken).Methods(http.MethodGet)
	protected.HandleFunc("/users/me", boardHandler.Me).Methods(http.MethodGet)
	protected.HandleFunc("/users/{id:[0-9]+}/boards", boardHandler.UserBoards).Methods(http.MethodGet)
	protected.HandleFunc("/users/{username}", boardHandler.UserByUsername).Methods(http.MethodGet)
	protected.HandleFunc("/boards", boardHandler.CreateBoard).Methods(http.MethodPost)
	protected.HandleFunc("/columns", boardHandler.CreateColumn).Methods(http.MethodPost)
	protected.HandleFunc("/columns/{id:[0-9]+}", boardHandler.UpdateColumn).Methods(http.MethodPatch)
	protected.HandleFunc("/columns/{id:[0-9]+}", boardHandler.DeleteColumn).Methods(http.MethodDelete)
	protected.HandleFunc("/cards", boardHandler.CreateCard).Methods(http.MethodPost)
	protected.HandleFunc("/cards/{id:[0-9]+}", boardHandler.UpdateCard).Methods(http.MethodPatch)
	protected.HandleFunc("/cards/{id:[0-9]+}", boardHandler.DeleteCard).Methods(http.MethodDelete)
	protected.HandleFunc("/ai/chat", assistantHandler.Chat).Methods(http.MethodPost)
	protected.HandleFunc("/ws", feedHandler.HandleWebSocket).Methods(http.MethodGet)

	if d.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(d.StaticDir)))
	}

	return r
}
