package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/services"
)

// AuthHandler handles authentication-related endpoints
type AuthHandler struct {
	authService  *services.AuthService
	cookieSecure bool
	logger       *zap.Logger
}

func NewAuthHandler(authService *services.AuthService, cookieSecure bool, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		authService:  authService,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// Register creates an account and signs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var creds api.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	issued, err := h.authService.Register(r.Context(), creds)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.respondIssued(w, http.StatusCreated, issued)
}

// Login checks the credentials and issues a new session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds api.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	issued, err := h.authService.Login(r.Context(), creds)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.respondIssued(w, http.StatusOK, issued)
}

func (h *AuthHandler) respondIssued(w http.ResponseWriter, status int, issued *services.Issued) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    issued.Token,
		Path:     "/",
		Expires:  issued.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, status, api.TokenResponse{
		AccessToken: issued.Token,
		UserID:      issued.UserID,
		Username:    issued.Username,
	})
}

// Logout revokes the caller's session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	if err := h.authService.Logout(r.Context(), *identity); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// VerifyToken reports the identity behind a valid token.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  identity.UserID,
		"username": identity.Username,
		"status":   "valid",
	})
}
