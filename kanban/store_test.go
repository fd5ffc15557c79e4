package kanban

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/apiclient"
	"github.com/CrowderSoup/kanban-studio/board"
)

// remoteBoard has two columns: "Todo" holding cards 10 and 11, "Done"
// holding card 12. Columns and cards arrive out of order.
func remoteBoard() api.Board {
	return api.Board{
		ID:     1,
		Title:  "Main",
		UserID: 7,
		Columns: []api.Column{
			{ID: 2, Title: "Done", Order: 1, BoardID: 1, Cards: []api.Card{
				{ID: 12, Title: "c", Order: 0, ColumnID: 2},
			}},
			{ID: 1, Title: "Todo", Order: 0, BoardID: 1, Cards: []api.Card{
				{ID: 11, Title: "b", Order: 1, ColumnID: 1},
				{ID: 10, Title: "a", Description: "first", Order: 0, ColumnID: 1},
			}},
		},
	}
}

func newTestStore(t *testing.T, remote *MockRemote) *Store {
	t.Helper()
	logger := zaptest.NewLogger(t)
	s := NewStore(remote, NewSyncer(fastPolicy(2), logger), logger)
	t.Cleanup(s.Wait)
	return s
}

// loadedStore returns a store holding remoteBoard, backed by a cardServer
// handing out ids from 100.
func loadedStore(t *testing.T) (*Store, *MockRemote, *cardServer) {
	t.Helper()
	remote := &MockRemote{
		CurrentUserFunc: func(context.Context) (api.User, error) { return api.User{ID: 7}, nil },
		BoardsFunc: func(_ context.Context, userID int64) ([]api.Board, error) {
			return []api.Board{remoteBoard()}, nil
		},
	}
	server := newCardServer(100).seed(remoteBoard())
	server.wire(remote)

	s := newTestStore(t, remote)
	require.True(t, s.Load(context.Background()))
	return s, remote, server
}

func columnsOf(b board.Board) [][]string {
	out := make([][]string, len(b.Columns))
	for i, c := range b.Columns {
		out[i] = c.CardIDs
	}
	return out
}

func TestStore_LoadTranslatesFirstBoard(t *testing.T) {
	s, _, _ := loadedStore(t)

	b := s.Snapshot()
	require.NoError(t, b.Validate())
	assert.Equal(t, "col-1", b.Columns[0].ID)
	assert.Equal(t, "Todo", b.Columns[0].Title)
	assert.Equal(t, [][]string{{"card-10", "card-11"}, {"card-12"}}, columnsOf(b))
	assert.Equal(t, "first", b.Cards["card-10"].Details)
	assert.Equal(t, int64(7), s.UserID())
	assert.Equal(t, int64(1), s.BoardID())
}

func TestStore_LoadFallsBackToDefault(t *testing.T) {
	tests := []struct {
		name   string
		remote *MockRemote
	}{
		{"no boards", &MockRemote{
			CurrentUserFunc: func(context.Context) (api.User, error) { return api.User{ID: 1}, nil },
			BoardsFunc:      func(context.Context, int64) ([]api.Board, error) { return nil, nil },
		}},
		{"boards fail", &MockRemote{
			CurrentUserFunc: func(context.Context) (api.User, error) { return api.User{ID: 1}, nil },
			BoardsFunc: func(context.Context, int64) ([]api.Board, error) {
				return nil, errors.New("boom")
			},
		}},
		{"user fails", &MockRemote{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, tt.remote)

			assert.False(t, s.Load(context.Background()))

			b := s.Snapshot()
			require.Len(t, b.Columns, 5)
			assert.NotEmpty(t, b.Cards)
			require.NoError(t, b.Validate())
			assert.Zero(t, s.BoardID())
		})
	}
}

func TestStore_AddCardReconcilesServerID(t *testing.T) {
	s, _, server := loadedStore(t)

	tmp, err := s.AddCard(context.Background(), "col-1", "new", "")
	require.NoError(t, err)
	assert.True(t, board.IsOptimistic(tmp))

	optimistic := s.Snapshot()
	assert.Equal(t, []string{"card-10", "card-11", tmp}, optimistic.Columns[0].CardIDs)
	assert.Equal(t, DefaultDetails, optimistic.Cards[tmp].Details)

	s.Wait()

	b := s.Snapshot()
	require.NoError(t, b.Validate())
	assert.Equal(t, []string{"card-10", "card-11", "card-100"}, b.Columns[0].CardIDs)
	assert.NotContains(t, b.Cards, tmp)
	assert.Equal(t, board.Card{ID: "card-100", Title: "new", Details: DefaultDetails}, b.Cards["card-100"])
	require.Len(t, server.created, 1)
	assert.Equal(t, api.CardCreate{Title: "new", Description: DefaultDetails, Order: 2, ColumnID: 1}, server.created[0])
	assert.Equal(t, Synced, s.Status("card-100"))
}

func TestStore_AddCardFailureKeepsOptimisticCard(t *testing.T) {
	s, remote, server := loadedStore(t)
	remote.CreateCardFunc = func(context.Context, api.CardCreate) (api.Card, error) {
		return api.Card{}, temporaryError{temporary: true}
	}

	tmp, err := s.AddCard(context.Background(), "col-2", "flaky", "details")
	require.NoError(t, err)
	s.Wait()

	b := s.Snapshot()
	require.NoError(t, b.Validate())
	assert.Equal(t, []string{"card-12", tmp}, b.Columns[1].CardIDs)
	assert.Equal(t, Failed, s.Status(tmp))
	assert.Equal(t, []string{tmp}, s.Unsynced())

	server.wire(remote)
	assert.Equal(t, 1, s.RetryFailed(context.Background()))
	s.Wait()

	b = s.Snapshot()
	assert.Equal(t, []string{"card-12", "card-100"}, b.Columns[1].CardIDs)
	assert.Empty(t, s.Unsynced())
}

func TestStore_AddCardValidation(t *testing.T) {
	s, _, _ := loadedStore(t)

	_, err := s.AddCard(context.Background(), "col-9", "x", "")
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = s.AddCard(context.Background(), "col-1", "   ", "")
	assert.ErrorIs(t, err, ErrEmptyTitle)
}

func TestStore_DefaultBoardIsNeverPersisted(t *testing.T) {
	remote := &MockRemote{
		CreateCardFunc: func(context.Context, api.CardCreate) (api.Card, error) {
			t.Error("default board card must not be sent")
			return api.Card{}, nil
		},
		UpdateColumnFunc: func(context.Context, int64, api.ColumnPatch) (api.Column, error) {
			t.Error("default board column must not be sent")
			return api.Column{}, nil
		},
	}
	s := newTestStore(t, remote)
	s.Load(context.Background())
	first := s.Snapshot().Columns[0].ID

	id, err := s.AddCard(context.Background(), first, "local", "")
	require.NoError(t, err)
	require.NoError(t, s.RenameColumn(context.Background(), first, "Ideas"))
	s.Wait()

	assert.Equal(t, LocalOnly, s.Status(id))
	assert.Equal(t, LocalOnly, s.Status(first))
	assert.True(t, s.DeleteCard(context.Background(), id))
	assert.Empty(t, s.Unsynced())
}

func TestStore_DeleteCard(t *testing.T) {
	s, _, server := loadedStore(t)

	assert.True(t, s.DeleteCard(context.Background(), "card-11"))
	s.Wait()

	b := s.Snapshot()
	require.NoError(t, b.Validate())
	assert.Equal(t, [][]string{{"card-10"}, {"card-12"}}, columnsOf(b))
	assert.Equal(t, []int64{11}, server.deletedIDs())
}

func TestStore_DeleteThenAddKeepsServerOrder(t *testing.T) {
	s, _, server := loadedStore(t)
	ctx := context.Background()

	for _, title := range []string{"x", "y", "z"} {
		_, err := s.AddCard(ctx, "col-1", title, "")
		require.NoError(t, err)
		s.Wait()
	}
	require.Equal(t, []string{"card-10", "card-11", "card-100", "card-101", "card-102"}, s.Snapshot().Columns[0].CardIDs)

	assert.True(t, s.DeleteCard(ctx, "card-10"))
	assert.True(t, s.DeleteCard(ctx, "card-11"))
	_, err := s.AddCard(ctx, "col-1", "last", "")
	require.NoError(t, err)
	s.Wait()

	local := s.Snapshot().Columns[0].CardIDs
	assert.Equal(t, []string{"card-100", "card-101", "card-102", "card-103"}, local)
	assert.Equal(t, local, server.columnOrder(1))
	assert.Equal(t, s.Snapshot().Columns[1].CardIDs, server.columnOrder(2))
	assert.Empty(t, s.Unsynced())
}

func TestStore_DeleteCardAlreadyGoneRemotely(t *testing.T) {
	s, remote, _ := loadedStore(t)
	remote.DeleteCardFunc = func(_ context.Context, id int64) error {
		code := http.StatusNotFound
		if id == 12 {
			code = http.StatusForbidden
		}
		return &apiclient.StatusError{Method: http.MethodDelete, Path: "/api/cards/" + strconv.FormatInt(id, 10), StatusCode: code}
	}

	assert.True(t, s.DeleteCard(context.Background(), "card-10"))
	assert.True(t, s.DeleteCard(context.Background(), "card-12"))
	s.Wait()

	assert.Equal(t, Synced, s.Status("card-10"))
	assert.Equal(t, Failed, s.Status("card-12"))
	assert.Equal(t, []string{"card-12"}, s.Unsynced())
}

func TestStore_DeleteUnknownCardIsNoOp(t *testing.T) {
	s, _, server := loadedStore(t)
	before := s.Snapshot()

	assert.False(t, s.DeleteCard(context.Background(), "card-999"))
	assert.False(t, s.DeleteCard(context.Background(), "tmp-card-42"))
	s.Wait()

	assert.Equal(t, before, s.Snapshot())
	assert.Empty(t, server.deletedIDs())
}

func TestStore_DeleteWhileCreateInFlightDeletesServerCopy(t *testing.T) {
	s, remote, server := loadedStore(t)
	started := make(chan struct{})
	release := make(chan struct{})
	create := remote.CreateCardFunc
	remote.CreateCardFunc = func(ctx context.Context, c api.CardCreate) (api.Card, error) {
		close(started)
		<-release
		return create(ctx, c)
	}

	tmp, err := s.AddCard(context.Background(), "col-1", "short lived", "")
	require.NoError(t, err)
	<-started

	assert.True(t, s.DeleteCard(context.Background(), tmp))
	close(release)
	s.Wait()

	b := s.Snapshot()
	require.NoError(t, b.Validate())
	assert.NotContains(t, b.Cards, "card-100")
	assert.NotContains(t, b.Cards, tmp)
	assert.Equal(t, []int64{100}, server.deletedIDs())
}

func TestStore_MoveWhileCreateInFlightQueuesPosition(t *testing.T) {
	s, remote, server := loadedStore(t)
	started := make(chan struct{})
	release := make(chan struct{})
	create := remote.CreateCardFunc
	remote.CreateCardFunc = func(ctx context.Context, c api.CardCreate) (api.Card, error) {
		close(started)
		<-release
		return create(ctx, c)
	}

	tmp, err := s.AddCard(context.Background(), "col-1", "moving", "")
	require.NoError(t, err)
	<-started

	assert.True(t, s.MoveCard(context.Background(), tmp, "col-2"))
	close(release)
	s.Wait()

	b := s.Snapshot()
	require.NoError(t, b.Validate())
	assert.Equal(t, [][]string{{"card-10", "card-11"}, {"card-12", "card-100"}}, columnsOf(b))

	pos, ok := server.position(100)
	require.True(t, ok, "position of the reconciled card must be persisted")
	assert.Equal(t, int64(2), *pos.ColumnID)
	assert.Equal(t, 1, *pos.Order)
}

func TestStore_MoveCardPersistsAffectedColumns(t *testing.T) {
	s, _, server := loadedStore(t)

	assert.True(t, s.MoveCard(context.Background(), "card-10", "card-12"))
	s.Wait()

	b := s.Snapshot()
	require.NoError(t, b.Validate())
	assert.Equal(t, [][]string{{"card-11"}, {"card-10", "card-12"}}, columnsOf(b))

	want := map[int64][2]int64{10: {2, 0}, 12: {2, 1}, 11: {1, 0}}
	for id, w := range want {
		pos, ok := server.position(id)
		require.True(t, ok, "card %d", id)
		assert.Equal(t, w[0], *pos.ColumnID, "card %d", id)
		assert.Equal(t, int(w[1]), *pos.Order, "card %d", id)
	}
}

func TestStore_MoveWithinColumnPersistsOnlyThatColumn(t *testing.T) {
	s, _, server := loadedStore(t)

	assert.True(t, s.MoveCard(context.Background(), "card-11", "card-10"))
	s.Wait()

	assert.Equal(t, []string{"card-11", "card-10"}, s.Snapshot().Columns[0].CardIDs)
	_, ok := server.position(12)
	assert.False(t, ok)
	pos, ok := server.position(11)
	require.True(t, ok)
	assert.Equal(t, 0, *pos.Order)
}

func TestStore_NoOpMoveSendsNothing(t *testing.T) {
	s, remote, _ := loadedStore(t)
	remote.UpdateCardFunc = func(context.Context, int64, api.CardPatch) (api.Card, error) {
		t.Error("no-op move must not be persisted")
		return api.Card{}, nil
	}

	assert.False(t, s.MoveCard(context.Background(), "card-10", "card-10"))
	assert.False(t, s.MoveCard(context.Background(), "card-10", "card-11"))
	assert.False(t, s.MoveCard(context.Background(), "card-404", "col-1"))
}

func TestStore_DragOverThenDragEndWithStaleTarget(t *testing.T) {
	s, _, server := loadedStore(t)
	layout := board.Layout{
		Columns: map[string]board.Rect{
			"col-1": {X: 0, Y: 0, Width: 100, Height: 400},
			"col-2": {X: 120, Y: 0, Width: 100, Height: 400},
		},
	}

	s.DragStart("card-10")
	assert.True(t, s.DragOver("card-10", "col-2"))
	assert.False(t, s.DragOver("card-10", "col-2"))

	moved := s.DragEnd(context.Background(), board.DropEvent{
		ActiveID: "card-10",
		OverID:   "card-10",
		Pointer:  &board.Point{X: 150, Y: 300},
	}, layout)
	s.Wait()

	assert.True(t, moved)
	assert.Equal(t, [][]string{{"card-11"}, {"card-12", "card-10"}}, columnsOf(s.Snapshot()))
	pos, ok := server.position(11)
	require.True(t, ok, "source column must be persisted")
	assert.Equal(t, 0, *pos.Order)
}

func TestStore_RenameColumn(t *testing.T) {
	s, _, server := loadedStore(t)

	require.NoError(t, s.RenameColumn(context.Background(), "col-1", "  Doing "))
	s.Wait()

	assert.Equal(t, "Doing", s.Snapshot().Columns[0].Title)
	assert.Equal(t, "Doing", server.renamed[1])

	assert.ErrorIs(t, s.RenameColumn(context.Background(), "col-9", "x"), ErrUnknownColumn)
	assert.ErrorIs(t, s.RenameColumn(context.Background(), "col-1", ""), ErrEmptyTitle)
}

func TestStore_ChatReplacesBoard(t *testing.T) {
	s, remote, _ := loadedStore(t)
	replacement := api.Board{ID: 1, Columns: []api.Column{
		{ID: 1, Title: "Only", Cards: []api.Card{{ID: 50, Title: "from assistant", ColumnID: 1}}},
	}}
	remote.ChatFunc = func(_ context.Context, req api.ChatRequest) (api.ChatResponse, error) {
		assert.Equal(t, int64(7), req.UserID)
		return api.ChatResponse{ResponseMessage: "done", Board: &replacement}, nil
	}

	reply, err := s.Chat(context.Background(), "tidy up")
	require.NoError(t, err)

	assert.Equal(t, "done", reply)
	b := s.Snapshot()
	assert.Equal(t, [][]string{{"card-50"}}, columnsOf(b))
	assert.Equal(t, "Only", b.Columns[0].Title)
}

func TestStore_ChatWithoutBoardKeepsState(t *testing.T) {
	s, remote, _ := loadedStore(t)
	before := s.Snapshot()
	remote.ChatFunc = func(context.Context, api.ChatRequest) (api.ChatResponse, error) {
		return api.ChatResponse{ResponseMessage: "nothing to do"}, nil
	}

	reply, err := s.Chat(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "nothing to do", reply)
	assert.Equal(t, before, s.Snapshot())
}

func TestStore_ChatErrorsSurface(t *testing.T) {
	s, remote, _ := loadedStore(t)
	remote.ChatFunc = func(context.Context, api.ChatRequest) (api.ChatResponse, error) {
		return api.ChatResponse{}, errors.New("unavailable")
	}

	_, err := s.Chat(context.Background(), "hi")
	assert.Error(t, err)
}

func mustEvent(t *testing.T, eventType string, data any) api.Event {
	t.Helper()
	ev, err := api.NewEvent(eventType, data)
	require.NoError(t, err)
	return ev
}

func TestStore_ApplyEvent(t *testing.T) {
	s, _, _ := loadedStore(t)

	require.NoError(t, s.ApplyEvent(mustEvent(t, api.EventCardCreated,
		api.Card{ID: 30, Title: "remote", Order: 0, ColumnID: 2})))
	assert.Equal(t, []string{"card-30", "card-12"}, s.Snapshot().Columns[1].CardIDs)

	// Echo of a card already in the right column only refreshes its fields.
	require.NoError(t, s.ApplyEvent(mustEvent(t, api.EventCardUpdated,
		api.Card{ID: 30, Title: "renamed", Order: 5, ColumnID: 2})))
	b := s.Snapshot()
	assert.Equal(t, []string{"card-30", "card-12"}, b.Columns[1].CardIDs)
	assert.Equal(t, "renamed", b.Cards["card-30"].Title)

	require.NoError(t, s.ApplyEvent(mustEvent(t, api.EventCardUpdated,
		api.Card{ID: 30, Title: "renamed", Order: 1, ColumnID: 1})))
	assert.Equal(t, [][]string{{"card-10", "card-30", "card-11"}, {"card-12"}}, columnsOf(s.Snapshot()))

	require.NoError(t, s.ApplyEvent(mustEvent(t, api.EventCardDeleted, api.DeletedCard{ID: 10, ColumnID: 1})))
	require.NoError(t, s.ApplyEvent(mustEvent(t, api.EventColumnUpdated, api.Column{ID: 2, Title: "Shipped"})))
	b = s.Snapshot()
	require.NoError(t, b.Validate())
	assert.Equal(t, [][]string{{"card-30", "card-11"}, {"card-12"}}, columnsOf(b))
	assert.Equal(t, "Shipped", b.Columns[1].Title)

	require.NoError(t, s.ApplyEvent(mustEvent(t, api.EventBoardReplaced, api.Board{ID: 1, Columns: []api.Column{{ID: 5, Title: "Fresh"}}})))
	assert.Equal(t, "col-5", s.Snapshot().Columns[0].ID)
}

func TestStore_ApplyEventRejectsMalformedPayloads(t *testing.T) {
	s, _, _ := loadedStore(t)
	before := s.Snapshot()

	err := s.ApplyEvent(api.Event{Type: api.EventBoardReplaced, Data: json.RawMessage(`{"id":0}`)})
	assert.ErrorIs(t, err, api.ErrInvalid)

	err = s.ApplyEvent(api.Event{Type: api.EventCardCreated, Data: json.RawMessage(`[1,2]`)})
	assert.Error(t, err)

	assert.NoError(t, s.ApplyEvent(api.Event{Type: "something.else"}))
	assert.Equal(t, before, s.Snapshot())
}

func TestStore_ApplyEventIgnoresOtherBoards(t *testing.T) {
	s, _, _ := loadedStore(t)

	require.NoError(t, s.ApplyEvent(mustEvent(t, api.EventBoardReplaced, api.Board{ID: 99})))

	assert.Equal(t, int64(1), s.BoardID())
	assert.Len(t, s.Snapshot().Columns, 2)
}
