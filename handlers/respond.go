package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/database"
	"github.com/CrowderSoup/kanban-studio/services"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("invalid request format")

func errorBody(detail string) api.ErrorResponse {
	return api.ErrorResponse{Detail: detail}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v and validates it when v knows how.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if val, ok := v.(interface{ Validate() error }); ok {
		return val.Validate()
	}
	return nil
}

// statusFor maps an error to the response status and the detail shown to
// the caller. Internal errors never leak their text.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, api.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid username or password"
	case errors.Is(err, errUnauthenticated),
		errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrSessionRevoked):
		return http.StatusUnauthorized, "not authenticated"
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, services.ErrUsernameTaken):
		return http.StatusConflict, "username already registered"
	case errors.Is(err, database.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrPlanRejected):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, services.ErrAssistantUnavailable):
		return http.StatusServiceUnavailable, "assistant unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, detail := statusFor(err)
	log := LoggerFrom(r.Context(), logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody(detail))
}
