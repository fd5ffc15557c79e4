package handlers

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/services"
)

// FeedHandler upgrades authenticated requests to the change feed.
type FeedHandler struct {
	hub      *services.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewFeedHandler creates the handler. Origins lists the browser origins
// allowed to connect; "*" allows any. Requests without an Origin header
// (non-browser clients) are always allowed.
func NewFeedHandler(hub *services.Hub, origins []string, logger *zap.Logger) *FeedHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
			},
		},
		logger: logger,
	}
}

// HandleWebSocket upgrades the HTTP connection to a WebSocket connection
func (h *FeedHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		LoggerFrom(r.Context(), h.logger).Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	services.NewClient(h.hub, conn, identity.UserID).Serve()
	LoggerFrom(r.Context(), h.logger).Debug("websocket client registered")
}
