// Package kanban is the client-side board store. Every mutation is applied to
// the local snapshot synchronously and then persisted in the background
// through a Syncer. Local state is never rolled back when persistence fails;
// the affected entity is marked Failed instead and can be retried.
package kanban

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/board"
)

// DefaultDetails is stored on cards added without details.
const DefaultDetails = "No details yet."

const (
	opCreateCard   = "create_card"
	opMoveCard     = "move_card"
	opDeleteCard   = "delete_card"
	opRenameColumn = "rename_column"
)

var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrUnknownCard   = errors.New("unknown card")
	ErrEmptyTitle    = errors.New("title must not be empty")
)

// Remote is the server the store persists to.
type Remote interface {
	CurrentUser(ctx context.Context) (api.User, error)
	Boards(ctx context.Context, userID int64) ([]api.Board, error)
	CreateCard(ctx context.Context, card api.CardCreate) (api.Card, error)
	UpdateCard(ctx context.Context, id int64, patch api.CardPatch) (api.Card, error)
	DeleteCard(ctx context.Context, id int64) error
	UpdateColumn(ctx context.Context, id int64, patch api.ColumnPatch) (api.Column, error)
	Chat(ctx context.Context, req api.ChatRequest) (api.ChatResponse, error)
}

type dragOrigin struct {
	cardID   string
	columnID string
	index    int
}

// Store holds the board snapshot. Safe for concurrent use.
type Store struct {
	remote Remote
	syncer *Syncer
	logger *zap.Logger
	ids    board.IDGenerator

	mu      sync.RWMutex
	board   board.Board
	userID  int64
	boardID int64
	drag    *dragOrigin
	// optimistic ids deleted locally while their create was in flight
	deleted map[string]bool
}

// NewStore creates a store showing the default board until Load is called.
func NewStore(remote Remote, syncer *Syncer, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		remote:  remote,
		syncer:  syncer,
		logger:  logger,
		board:   board.Default(),
		deleted: make(map[string]bool),
	}
}

// Load fetches the acting user's first board. When the user or their boards
// cannot be fetched, or there are none, the default board is shown instead.
// It reports whether the remote board was loaded.
func (s *Store) Load(ctx context.Context) bool {
	user, err := s.remote.CurrentUser(ctx)
	if err != nil {
		s.logger.Warn("failed to resolve current user, using default board", zap.Error(err))
		s.reset(0)
		return false
	}

	boards, err := s.remote.Boards(ctx, user.ID)
	if err != nil {
		s.logger.Warn("failed to load boards, using default board",
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)
		s.reset(user.ID)
		return false
	}
	if len(boards) == 0 {
		s.logger.Info("user has no boards, using default board", zap.Int64("user_id", user.ID))
		s.reset(user.ID)
		return false
	}

	s.mu.Lock()
	s.userID = user.ID
	s.setRemoteLocked(boards[0])
	s.mu.Unlock()
	return true
}

func (s *Store) reset(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userID = userID
	s.boardID = 0
	s.board = board.Default()
	s.drag = nil
}

func (s *Store) setRemoteLocked(remote api.Board) {
	s.board = board.FromRemote(remote)
	s.boardID = remote.ID
	s.drag = nil
}

// Snapshot returns a deep copy of the current board.
func (s *Store) Snapshot() board.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.Clone()
}

// UserID is the acting user, or zero before a successful Load.
func (s *Store) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// BoardID is the server id of the shown board, or zero for the default board.
func (s *Store) BoardID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.boardID
}

// RenameColumn sets a column title.
func (s *Store) RenameColumn(ctx context.Context, columnID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	s.mu.Lock()
	i := board.ColumnIndex(s.board.Columns, columnID)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownColumn, columnID)
	}
	columns := slices.Clone(s.board.Columns)
	columns[i].Title = title
	s.board.Columns = columns
	s.mu.Unlock()

	if n, ok := board.ParseColumnID(columnID); ok {
		s.syncer.Submit(ctx, s.renameOp(columnID, n))
	}
	return nil
}

// AddCard appends a card with an optimistic id to a column and returns that
// id. The id is swapped for the server id once the create succeeds.
func (s *Store) AddCard(ctx context.Context, columnID, title, details string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}
	if strings.TrimSpace(details) == "" {
		details = DefaultDetails
	}

	id := s.ids.Next("card")

	s.mu.Lock()
	i := board.ColumnIndex(s.board.Columns, columnID)
	if i < 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownColumn, columnID)
	}
	columns := slices.Clone(s.board.Columns)
	columns[i].CardIDs = append(slices.Clone(columns[i].CardIDs), id)
	s.board.Columns = columns
	s.board.Cards[id] = board.Card{ID: id, Title: title, Details: details}
	s.mu.Unlock()

	if _, ok := board.ParseColumnID(columnID); ok {
		s.syncer.Submit(ctx, s.createOp(id))
	}
	return id, nil
}

// DeleteCard removes a card. Deleting an unknown id is a no-op and reports
// false.
func (s *Store) DeleteCard(ctx context.Context, cardID string) bool {
	s.mu.Lock()
	col, idx, found := s.board.Position(cardID)
	if !s.removeLocked(cardID) {
		s.mu.Unlock()
		return false
	}
	var followers []string
	if found {
		followers = slices.Clone(s.board.Columns[col].CardIDs[idx:])
	}
	if board.IsOptimistic(cardID) {
		s.deleted[cardID] = true
	}
	s.mu.Unlock()

	// Cards below the removed one shift up; keep their server order
	// contiguous so later appends land at the end.
	s.persistPositions(ctx, followers)

	if n, ok := board.ParseCardID(cardID); ok {
		s.syncer.Forget(cardID)
		s.syncer.Submit(ctx, s.deleteOp(cardID, n))
		return true
	}
	// A queued or running create finds the card gone and cleans up itself.
	if state, tracked := s.syncer.State(cardID); !tracked || state == Failed {
		s.syncer.Forget(cardID)
		s.mu.Lock()
		delete(s.deleted, cardID)
		s.mu.Unlock()
	}
	return true
}

func (s *Store) removeLocked(cardID string) bool {
	if _, ok := s.board.Cards[cardID]; !ok {
		return false
	}
	columns := slices.Clone(s.board.Columns)
	for i, col := range columns {
		if slices.Contains(col.CardIDs, cardID) {
			columns[i].CardIDs = slices.DeleteFunc(slices.Clone(col.CardIDs), func(id string) bool { return id == cardID })
		}
	}
	s.board.Columns = columns
	delete(s.board.Cards, cardID)
	if s.drag != nil && s.drag.cardID == cardID {
		s.drag = nil
	}
	return true
}

// DragStart records where a card was when the drag began so DragEnd can
// tell which columns changed.
func (s *Store) DragStart(cardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drag = nil
	col, idx, ok := s.board.Position(cardID)
	if !ok {
		return
	}
	s.drag = &dragOrigin{cardID: cardID, columnID: s.board.Columns[col].ID, index: idx}
}

// DragOver applies the move for live feedback. Nothing is persisted. It
// reports whether the board changed.
func (s *Store) DragOver(activeID, overID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := board.MoveCard(s.board.Columns, activeID, overID)
	if sameColumns(next, s.board.Columns) {
		return false
	}
	s.board.Columns = next
	return true
}

// DragEnd resolves the drop target, applies the final move and persists the
// order of every card in the affected columns. It reports whether the card
// ended up somewhere other than where the drag started.
func (s *Store) DragEnd(ctx context.Context, ev board.DropEvent, layout board.Layout) bool {
	s.mu.Lock()
	origin := s.drag
	s.drag = nil
	if origin == nil || origin.cardID != ev.ActiveID {
		o, ok := s.originLocked(ev.ActiveID)
		if !ok {
			s.mu.Unlock()
			return false
		}
		origin = o
	}

	if target, ok := board.ResolveDropTarget(ev, layout, s.board.Columns); ok {
		s.board.Columns = board.MoveCard(s.board.Columns, ev.ActiveID, target)
	}
	affected, moved := s.affectedLocked(origin)
	s.mu.Unlock()

	s.persistPositions(ctx, affected)
	return moved
}

// MoveCard moves a card relative to overID (a card or a column) as a
// complete drag with a known drop target, applied under one lock. A drag in
// progress is left alone.
func (s *Store) MoveCard(ctx context.Context, cardID, overID string) bool {
	s.mu.Lock()
	origin, ok := s.originLocked(cardID)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.board.Columns = board.MoveCard(s.board.Columns, cardID, overID)
	affected, moved := s.affectedLocked(origin)
	s.mu.Unlock()

	s.persistPositions(ctx, affected)
	return moved
}

func (s *Store) originLocked(cardID string) (*dragOrigin, bool) {
	col, idx, ok := s.board.Position(cardID)
	if !ok {
		return nil, false
	}
	return &dragOrigin{cardID: cardID, columnID: s.board.Columns[col].ID, index: idx}, true
}

// affectedLocked lists the cards whose position must be persisted after the
// card in origin was dropped: the cards of its current column and, when it
// changed columns, those of the column it left.
func (s *Store) affectedLocked(origin *dragOrigin) ([]string, bool) {
	col, idx, ok := s.board.Position(origin.cardID)
	if !ok {
		return nil, false
	}
	current := s.board.Columns[col]
	if current.ID == origin.columnID && idx == origin.index {
		return nil, false
	}

	affected := slices.Clone(current.CardIDs)
	if current.ID != origin.columnID {
		if src := board.ColumnIndex(s.board.Columns, origin.columnID); src >= 0 {
			affected = append(affected, s.board.Columns[src].CardIDs...)
		}
	}
	return affected, true
}

// persistPositions queues a position update for every server card in ids.
// Optimistic cards send their position with their create.
func (s *Store) persistPositions(ctx context.Context, ids []string) {
	for _, id := range ids {
		if n, ok := board.ParseCardID(id); ok {
			s.syncer.Submit(ctx, s.moveOp(id, n))
		}
	}
}

// Replace swaps the whole board for a server snapshot. Optimistic edits that
// are still in flight are not merged into it.
func (s *Store) Replace(remote api.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRemoteLocked(remote)
}

// Chat sends an instruction to the assistant and applies the replacement
// board it returns, if any. Unlike the mutation methods, failures are
// returned to the caller.
func (s *Store) Chat(ctx context.Context, message string) (string, error) {
	resp, err := s.remote.Chat(ctx, api.ChatRequest{Message: message, UserID: s.UserID()})
	if err != nil {
		return "", fmt.Errorf("assistant chat: %w", err)
	}
	if resp.Board != nil {
		s.Replace(*resp.Board)
	}
	return resp.ResponseMessage, nil
}

// Status reports the sync state of a card or column id.
func (s *Store) Status(id string) SyncState {
	if state, tracked := s.syncer.State(id); tracked {
		return state
	}
	switch board.KindOf(id) {
	case board.KindServerCard, board.KindServerColumn:
		return Synced
	default:
		return LocalOnly
	}
}

// Unsynced lists the ids with pending or failed remote work.
func (s *Store) Unsynced() []string {
	return s.syncer.Unsynced()
}

// RetryFailed resubmits every failed op. Ops read the current board when
// they run, so a retry sends the latest state rather than the state at the
// time of the first failure.
func (s *Store) RetryFailed(ctx context.Context) int {
	return s.syncer.RetryFailed(ctx)
}

// Wait blocks until all queued remote work has finished.
func (s *Store) Wait() {
	s.syncer.Wait()
}

// ApplyEvent folds a change-feed event into the board. Events for entities
// the board does not know are ignored.
func (s *Store) ApplyEvent(ev api.Event) error {
	switch ev.Type {
	case api.EventBoardReplaced:
		var b api.Board
		if err := decodeEvent(ev, &b); err != nil {
			return err
		}
		s.mu.Lock()
		if s.boardID == 0 || s.boardID == b.ID {
			s.setRemoteLocked(b)
		}
		s.mu.Unlock()
	case api.EventCardCreated, api.EventCardUpdated:
		var c api.Card
		if err := decodeEvent(ev, &c); err != nil {
			return err
		}
		s.mu.Lock()
		s.upsertLocked(c)
		s.mu.Unlock()
	case api.EventCardDeleted:
		var d api.DeletedCard
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return fmt.Errorf("decode %s event: %w", ev.Type, err)
		}
		s.mu.Lock()
		s.removeLocked(board.CardID(d.ID))
		s.mu.Unlock()
	case api.EventColumnUpdated:
		var c api.Column
		if err := json.Unmarshal(ev.Data, &c); err != nil {
			return fmt.Errorf("decode %s event: %w", ev.Type, err)
		}
		s.mu.Lock()
		if i := board.ColumnIndex(s.board.Columns, board.ColumnID(c.ID)); i >= 0 {
			columns := slices.Clone(s.board.Columns)
			columns[i].Title = c.Title
			s.board.Columns = columns
		}
		s.mu.Unlock()
	}
	return nil
}

type validator interface{ Validate() error }

func decodeEvent(ev api.Event, v validator) error {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("decode %s event: %w", ev.Type, err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("decode %s event: %w", ev.Type, err)
	}
	return nil
}

// upsertLocked inserts a card announced by the server or refreshes a known
// one. A known card only moves when the server puts it in another column,
// so echoes of our own reorders do not shuffle the board.
func (s *Store) upsertLocked(c api.Card) {
	dst := board.ColumnIndex(s.board.Columns, board.ColumnID(c.ColumnID))
	if dst < 0 {
		return
	}
	id := board.CardID(c.ID)
	card := board.CardFromRemote(c)

	columns := slices.Clone(s.board.Columns)
	col := board.ColumnOf(columns, id)
	if col == dst {
		s.board.Cards[id] = card
		return
	}
	if col >= 0 {
		columns[col].CardIDs = slices.DeleteFunc(slices.Clone(columns[col].CardIDs), func(v string) bool { return v == id })
	}
	ids := slices.Clone(columns[dst].CardIDs)
	at := min(max(c.Order, 0), len(ids))
	columns[dst].CardIDs = slices.Insert(ids, at, id)

	s.board.Columns = columns
	s.board.Cards[id] = card
}

func (s *Store) createOp(tmpID string) Op {
	return Op{Key: tmpID, Name: opCreateCard, Run: func(ctx context.Context) error {
		s.mu.Lock()
		card, ok := s.board.Cards[tmpID]
		if !ok {
			delete(s.deleted, tmpID)
			s.mu.Unlock()
			return nil
		}
		col, idx, _ := s.board.Position(tmpID)
		columnID := s.board.Columns[col].ID
		s.mu.Unlock()

		colN, ok := board.ParseColumnID(columnID)
		if !ok {
			return nil
		}
		created, err := s.remote.CreateCard(ctx, api.CardCreate{
			Title:       card.Title,
			Description: card.Details,
			Order:       idx,
			ColumnID:    colN,
		})
		if err != nil {
			return err
		}
		s.reconcile(ctx, tmpID, created, columnID, idx)
		return nil
	}}
}

// reconcile swaps an optimistic id for the server id in the map and in every
// column. When the card was deleted while the create was in flight, the
// server copy is deleted. When it was moved, its new position is queued.
func (s *Store) reconcile(ctx context.Context, tmpID string, created api.Card, sentColumn string, sentIndex int) {
	serverID := board.CardID(created.ID)

	s.mu.Lock()
	if s.deleted[tmpID] {
		delete(s.deleted, tmpID)
		s.mu.Unlock()
		s.syncer.Submit(ctx, s.deleteOp(serverID, created.ID))
		return
	}
	card, ok := s.board.Cards[tmpID]
	if !ok {
		// The board was replaced while the create was in flight.
		s.mu.Unlock()
		return
	}

	columns := slices.Clone(s.board.Columns)
	delete(s.board.Cards, tmpID)
	_, known := s.board.Cards[serverID]
	for i, col := range columns {
		if !slices.Contains(col.CardIDs, tmpID) {
			continue
		}
		ids := slices.Clone(col.CardIDs)
		if known {
			ids = slices.DeleteFunc(ids, func(v string) bool { return v == tmpID })
		} else {
			for j, v := range ids {
				if v == tmpID {
					ids[j] = serverID
				}
			}
		}
		columns[i].CardIDs = ids
	}
	if !known {
		card.ID = serverID
		s.board.Cards[serverID] = card
	}
	s.board.Columns = columns
	if s.drag != nil && s.drag.cardID == tmpID {
		s.drag.cardID = serverID
	}

	col, idx, _ := s.board.Position(serverID)
	moved := s.board.Columns[col].ID != sentColumn || idx != sentIndex
	s.mu.Unlock()

	s.logger.Debug("card reconciled", zap.String("tmp_id", tmpID), zap.String("id", serverID))
	if moved {
		s.syncer.Submit(ctx, s.moveOp(serverID, created.ID))
	}
}

func (s *Store) moveOp(cardID string, n int64) Op {
	return Op{Key: cardID, Name: opMoveCard, Run: func(ctx context.Context) error {
		s.mu.RLock()
		col, idx, ok := s.board.Position(cardID)
		var columnID string
		if ok {
			columnID = s.board.Columns[col].ID
		}
		s.mu.RUnlock()
		if !ok {
			return nil
		}

		colN, ok := board.ParseColumnID(columnID)
		if !ok {
			return nil
		}
		_, err := s.remote.UpdateCard(ctx, n, api.CardPatch{ColumnID: &colN, Order: &idx})
		return err
	}}
}

func (s *Store) deleteOp(cardID string, n int64) Op {
	return Op{Key: cardID, Name: opDeleteCard, Run: func(ctx context.Context) error {
		err := s.remote.DeleteCard(ctx, n)
		if alreadyGone(err) {
			s.logger.Debug("card already deleted remotely", zap.String("id", cardID))
			return nil
		}
		return err
	}}
}

// alreadyGone reports whether err is a remote "not found" response.
func alreadyGone(err error) bool {
	var se interface{ Status() int }
	return errors.As(err, &se) && se.Status() == http.StatusNotFound
}

func (s *Store) renameOp(columnID string, n int64) Op {
	return Op{Key: columnID, Name: opRenameColumn, Run: func(ctx context.Context) error {
		s.mu.RLock()
		i := board.ColumnIndex(s.board.Columns, columnID)
		var title string
		if i >= 0 {
			title = s.board.Columns[i].Title
		}
		s.mu.RUnlock()
		if i < 0 {
			return nil
		}
		_, err := s.remote.UpdateColumn(ctx, n, api.ColumnPatch{Title: &title})
		return err
	}}
}

// sameColumns reports whether MoveCard handed back its input unchanged.
func sameColumns(a, b []board.Column) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return &a[0] == &b[0]
}
