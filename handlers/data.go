package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/database"
	"github.com/CrowderSoup/kanban-studio/metrics"
	"github.com/CrowderSoup/kanban-studio/services"
)

// BoardHandler serves users, boards, columns and cards. Every mutation is
// published on the owner's change feed.
type BoardHandler struct {
	repo    database.BoardRepository
	events  services.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewBoardHandler(repo database.BoardRepository, events services.Publisher, m *metrics.Metrics, logger *zap.Logger) *BoardHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoardHandler{
		repo:    repo,
		events:  events,
		metrics: m,
		logger:  logger,
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return id, nil
}

// authorize fails with ErrNotFound unless the entity behind owner belongs to
// the caller, so foreign ids look the same as missing ones.
func authorize(ctx context.Context, userID int64, owner func(context.Context, int64) (int64, error), id int64) error {
	ownerID, err := owner(ctx, id)
	if err != nil {
		return err
	}
	if ownerID != userID {
		return database.ErrNotFound
	}
	return nil
}

func (h *BoardHandler) publish(ctx context.Context, userID int64, eventType string, data any) {
	ev, err := api.NewEvent(eventType, data)
	if err != nil {
		LoggerFrom(ctx, h.logger).Error("failed to build event", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.events.Publish(userID, ev)
}

// publishBoard sends the complete board, used when a change touches more
// than one entity.
func (h *BoardHandler) publishBoard(ctx context.Context, userID, boardID int64) {
	b, err := h.repo.BoardByID(ctx, boardID)
	if err != nil {
		LoggerFrom(ctx, h.logger).Warn("failed to reload board for change feed", zap.Int64("board_id", boardID), zap.Error(err))
		return
	}
	h.publish(ctx, userID, api.EventBoardReplaced, b.API())
}

func (h *BoardHandler) Hello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "hello world"})
}

// Me returns the authenticated user.
func (h *BoardHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	user, err := h.repo.UserByID(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user.API())
}

// UserByUsername looks up a user by name. Callers may only see themselves.
func (h *BoardHandler) UserByUsername(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	user, err := h.repo.UserByUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if user.ID != identity.UserID {
		writeError(w, r, h.logger, database.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user.API())
}

// UserBoards returns the caller's boards with columns and cards nested.
func (h *BoardHandler) UserBoards(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if userID != identity.UserID {
		writeError(w, r, h.logger, database.ErrNotFound)
		return
	}

	boards, err := h.repo.BoardsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := make([]api.Board, 0, len(boards))
	for _, b := range boards {
		out = append(out, b.API())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BoardHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	var req api.BoardCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.UserID != 0 && req.UserID != identity.UserID {
		writeError(w, r, h.logger, database.ErrNotFound)
		return
	}

	b, err := h.repo.CreateBoard(r.Context(), identity.UserID, req.Title)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := b.API()
	h.publish(r.Context(), identity.UserID, api.EventBoardReplaced, out)
	writeJSON(w, http.StatusCreated, out)
}

func (h *BoardHandler) CreateColumn(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	var req api.ColumnCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), identity.UserID, h.repo.BoardOwner, req.BoardID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	col, err := h.repo.CreateColumn(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := col.API()
	h.publish(r.Context(), identity.UserID, api.EventColumnUpdated, out)
	writeJSON(w, http.StatusCreated, out)
}

func (h *BoardHandler) UpdateColumn(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var patch api.ColumnPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), identity.UserID, h.repo.ColumnOwner, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	col, err := h.repo.UpdateColumn(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if patch.Title != nil {
		h.metrics.IncrementColumnRenamed()
	}

	out := col.API()
	h.publish(r.Context(), identity.UserID, api.EventColumnUpdated, out)
	writeJSON(w, http.StatusOK, out)
}

func (h *BoardHandler) DeleteColumn(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), identity.UserID, h.repo.ColumnOwner, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	col, err := h.repo.DeleteColumn(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.publishBoard(r.Context(), identity.UserID, col.BoardID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *BoardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	var req api.CardCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), identity.UserID, h.repo.ColumnOwner, req.ColumnID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	card, err := h.repo.CreateCard(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.metrics.IncrementCardCreated()

	out := card.API()
	h.publish(r.Context(), identity.UserID, api.EventCardCreated, out)
	writeJSON(w, http.StatusCreated, out)
}

// UpdateCard applies a partial update. Moving a card requires the caller to
// own both the card and the target column.
func (h *BoardHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var patch api.CardPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), identity.UserID, h.repo.CardOwner, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if patch.ColumnID != nil {
		if err := authorize(r.Context(), identity.UserID, h.repo.ColumnOwner, *patch.ColumnID); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	card, err := h.repo.UpdateCard(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if patch.ColumnID != nil || patch.Order != nil {
		h.metrics.IncrementCardMoved()
	}

	out := card.API()
	h.publish(r.Context(), identity.UserID, api.EventCardUpdated, out)
	writeJSON(w, http.StatusOK, out)
}

func (h *BoardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), identity.UserID, h.repo.CardOwner, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	card, err := h.repo.DeleteCard(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.metrics.IncrementCardDeleted()

	h.publish(r.Context(), identity.UserID, api.EventCardDeleted, api.DeletedCard{ID: card.ID, ColumnID: card.ColumnID})
	w.WriteHeader(http.StatusNoContent)
}
