package kanban

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/board"
)

// MockRemote is a mock implementation of Remote
type MockRemote struct {
	CurrentUserFunc  func(ctx context.Context) (api.User, error)
	BoardsFunc       func(ctx context.Context, userID int64) ([]api.Board, error)
	CreateCardFunc   func(ctx context.Context, card api.CardCreate) (api.Card, error)
	UpdateCardFunc   func(ctx context.Context, id int64, patch api.CardPatch) (api.Card, error)
	DeleteCardFunc   func(ctx context.Context, id int64) error
	UpdateColumnFunc func(ctx context.Context, id int64, patch api.ColumnPatch) (api.Column, error)
	ChatFunc         func(ctx context.Context, req api.ChatRequest) (api.ChatResponse, error)
}

var errNotMocked = errors.New("not mocked")

func (m *MockRemote) CurrentUser(ctx context.Context) (api.User, error) {
	if m.CurrentUserFunc != nil {
		return m.CurrentUserFunc(ctx)
	}
	return api.User{}, errNotMocked
}

func (m *MockRemote) Boards(ctx context.Context, userID int64) ([]api.Board, error) {
	if m.BoardsFunc != nil {
		return m.BoardsFunc(ctx, userID)
	}
	return nil, errNotMocked
}

func (m *MockRemote) CreateCard(ctx context.Context, card api.CardCreate) (api.Card, error) {
	if m.CreateCardFunc != nil {
		return m.CreateCardFunc(ctx, card)
	}
	return api.Card{}, errNotMocked
}

func (m *MockRemote) UpdateCard(ctx context.Context, id int64, patch api.CardPatch) (api.Card, error) {
	if m.UpdateCardFunc != nil {
		return m.UpdateCardFunc(ctx, id, patch)
	}
	return api.Card{ID: id}, nil
}

func (m *MockRemote) DeleteCard(ctx context.Context, id int64) error {
	if m.DeleteCardFunc != nil {
		return m.DeleteCardFunc(ctx, id)
	}
	return nil
}

func (m *MockRemote) UpdateColumn(ctx context.Context, id int64, patch api.ColumnPatch) (api.Column, error) {
	if m.UpdateColumnFunc != nil {
		return m.UpdateColumnFunc(ctx, id, patch)
	}
	return api.Column{ID: id}, nil
}

func (m *MockRemote) Chat(ctx context.Context, req api.ChatRequest) (api.ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return api.ChatResponse{}, errNotMocked
}

type placement struct {
	column int64
	order  int
}

// cardServer is a minimal in-memory server that assigns card ids, records
// the last position sent for every card and keeps the placement of every
// live card.
type cardServer struct {
	mu        sync.Mutex
	nextID    int64
	created   []api.CardCreate
	positions map[int64]api.CardPatch
	deleted   []int64
	renamed   map[int64]string
	live      map[int64]placement
}

func newCardServer(firstID int64) *cardServer {
	return &cardServer{
		nextID:    firstID,
		positions: make(map[int64]api.CardPatch),
		renamed:   make(map[int64]string),
		live:      make(map[int64]placement),
	}
}

// seed records the cards of b as already stored.
func (s *cardServer) seed(b api.Board) *cardServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, col := range b.Columns {
		for _, c := range col.Cards {
			s.live[c.ID] = placement{column: col.ID, order: c.Order}
		}
	}
	return s
}

// columnOrder lists the live cards of a column the way the server returns
// them: by order, then id.
func (s *cardServer) columnOrder(column int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, p := range s.live {
		if p.column == column {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b int64) int {
		if c := cmp.Compare(s.live[a].order, s.live[b].order); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = board.CardID(id)
	}
	return out
}

func (s *cardServer) wire(m *MockRemote) {
	m.CreateCardFunc = func(_ context.Context, c api.CardCreate) (api.Card, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.created = append(s.created, c)
		id := s.nextID
		s.nextID++
		s.live[id] = placement{column: c.ColumnID, order: c.Order}
		return api.Card{ID: id, Title: c.Title, Description: c.Description, Order: c.Order, ColumnID: c.ColumnID}, nil
	}
	m.UpdateCardFunc = func(_ context.Context, id int64, p api.CardPatch) (api.Card, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.positions[id] = p
		if cur, ok := s.live[id]; ok {
			if p.ColumnID != nil {
				cur.column = *p.ColumnID
			}
			if p.Order != nil {
				cur.order = *p.Order
			}
			s.live[id] = cur
		}
		return api.Card{ID: id}, nil
	}
	m.DeleteCardFunc = func(_ context.Context, id int64) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.deleted = append(s.deleted, id)
		delete(s.live, id)
		return nil
	}
	m.UpdateColumnFunc = func(_ context.Context, id int64, p api.ColumnPatch) (api.Column, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if p.Title != nil {
			s.renamed[id] = *p.Title
		}
		return api.Column{ID: id}, nil
	}
}

func (s *cardServer) position(id int64) (api.CardPatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	return p, ok
}

func (s *cardServer) deletedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.deleted...)
}

// temporaryError mimics a transport error that reports whether it is worth
// retrying.
type temporaryError struct {
	temporary bool
}

func (e temporaryError) Error() string   { return "remote failure" }
func (e temporaryError) Temporary() bool { return e.temporary }
