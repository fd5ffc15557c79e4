package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gorm.io/gorm"

	"github.com/CrowderSoup/kanban-studio/api"
)

// ErrInvalidAction is returned by ApplyActions for an action it cannot apply.
var ErrInvalidAction = errors.New("invalid action")

// Action types accepted by ApplyActions.
const (
	ActionCreateCard   = "create_card"
	ActionUpdateCard   = "update_card"
	ActionMoveCard     = "move_card"
	ActionDeleteCard   = "delete_card"
	ActionRenameColumn = "rename_column"
)

// Action is one board edit in a batch applied by ApplyActions.
type Action struct {
	Type        string  `json:"type"`
	CardID      int64   `json:"card_id,omitempty"`
	ColumnID    int64   `json:"column_id,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Order       *int    `json:"order,omitempty"`
}

// BoardRepository is the data access layer for users and their boards.
type BoardRepository interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	UserByID(ctx context.Context, id int64) (*User, error)

	BoardsForUser(ctx context.Context, userID int64) ([]Board, error)
	BoardByID(ctx context.Context, id int64) (*Board, error)
	CreateBoard(ctx context.Context, userID int64, title string, columnTitles ...string) (*Board, error)

	CreateColumn(ctx context.Context, req api.ColumnCreate) (*Column, error)
	UpdateColumn(ctx context.Context, id int64, patch api.ColumnPatch) (*Column, error)
	DeleteColumn(ctx context.Context, id int64) (*Column, error)

	CreateCard(ctx context.Context, req api.CardCreate) (*Card, error)
	UpdateCard(ctx context.Context, id int64, patch api.CardPatch) (*Card, error)
	DeleteCard(ctx context.Context, id int64) (*Card, error)

	BoardOwner(ctx context.Context, boardID int64) (int64, error)
	ColumnOwner(ctx context.Context, columnID int64) (int64, error)
	CardOwner(ctx context.Context, cardID int64) (int64, error)

	ApplyActions(ctx context.Context, boardID int64, actions []Action) error
}

type boardRepository struct {
	db *gorm.DB
}

// NewBoardRepository creates the gorm implementation of BoardRepository.
func NewBoardRepository(db *gorm.DB) BoardRepository {
	return &boardRepository{db: db}
}

func (r *boardRepository) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	user := User{Username: strings.TrimSpace(username), PasswordHash: passwordHash}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("username = ?", user.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrConflict
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *boardRepository) UserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *boardRepository) UserByID(ctx context.Context, id int64) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func byPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC, id ASC")
}

func withContents(db *gorm.DB) *gorm.DB {
	return db.Preload("Columns", byPosition).Preload("Columns.Cards", byPosition)
}

// BoardsForUser returns the user's boards oldest first, with columns and
// cards preloaded in display order.
func (r *boardRepository) BoardsForUser(ctx context.Context, userID int64) ([]Board, error) {
	var boards []Board
	if err := withContents(r.db.WithContext(ctx)).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&boards).Error; err != nil {
		return nil, err
	}
	return boards, nil
}

func (r *boardRepository) BoardByID(ctx context.Context, id int64) (*Board, error) {
	var b Board
	if err := withContents(r.db.WithContext(ctx)).First(&b, id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// CreateBoard creates a board with the given columns in order.
func (r *boardRepository) CreateBoard(ctx context.Context, userID int64, title string, columnTitles ...string) (*Board, error) {
	b := Board{Title: strings.TrimSpace(title), UserID: userID}
	for i, t := range columnTitles {
		b.Columns = append(b.Columns, Column{Title: t, Order: i})
	}
	if err := r.db.WithContext(ctx).Create(&b).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (r *boardRepository) CreateColumn(ctx context.Context, req api.ColumnCreate) (*Column, error) {
	col := Column{Title: strings.TrimSpace(req.Title), Order: req.Order, BoardID: req.BoardID}
	if err := r.db.WithContext(ctx).Create(&col).Error; err != nil {
		return nil, translate(err)
	}
	return &col, nil
}

// UpdateColumn applies the non-nil fields of patch.
func (r *boardRepository) UpdateColumn(ctx context.Context, id int64, patch api.ColumnPatch) (*Column, error) {
	var col Column
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&col, id).Error; err != nil {
			return err
		}
		updates := map[string]any{}
		if patch.Title != nil {
			updates["title"] = strings.TrimSpace(*patch.Title)
		}
		if patch.Order != nil {
			updates["position"] = *patch.Order
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&col).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&col, id).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &col, nil
}

// DeleteColumn removes a column and its cards.
func (r *boardRepository) DeleteColumn(ctx context.Context, id int64) (*Column, error) {
	var col Column
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&col, id).Error; err != nil {
			return err
		}
		if err := tx.Where("column_id = ?", id).Delete(&Card{}).Error; err != nil {
			return err
		}
		return tx.Delete(&col).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &col, nil
}

func (r *boardRepository) CreateCard(ctx context.Context, req api.CardCreate) (*Card, error) {
	card := Card{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Order:       req.Order,
		ColumnID:    req.ColumnID,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&Column{}, req.ColumnID).Error; err != nil {
			return err
		}
		return tx.Create(&card).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &card, nil
}

// UpdateCard applies the non-nil fields of patch. Sibling positions are left
// alone; clients send the order of every card they reordered.
func (r *boardRepository) UpdateCard(ctx context.Context, id int64, patch api.CardPatch) (*Card, error) {
	var card Card
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&card, id).Error; err != nil {
			return err
		}
		updates := map[string]any{}
		if patch.ColumnID != nil {
			if err := tx.Select("id").First(&Column{}, *patch.ColumnID).Error; err != nil {
				return err
			}
			updates["column_id"] = *patch.ColumnID
		}
		if patch.Order != nil {
			updates["position"] = *patch.Order
		}
		if patch.Title != nil {
			updates["title"] = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			updates["description"] = *patch.Description
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&card).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&card, id).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &card, nil
}

func (r *boardRepository) DeleteCard(ctx context.Context, id int64) (*Card, error) {
	var card Card
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&card, id).Error; err != nil {
			return err
		}
		return tx.Delete(&card).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &card, nil
}

func (r *boardRepository) BoardOwner(ctx context.Context, boardID int64) (int64, error) {
	return r.owner(r.db.WithContext(ctx).Table("boards").Where("boards.id = ?", boardID))
}

func (r *boardRepository) ColumnOwner(ctx context.Context, columnID int64) (int64, error) {
	return r.owner(r.db.WithContext(ctx).Table("columns").
		Joins("JOIN boards ON boards.id = columns.board_id").
		Where("columns.id = ?", columnID))
}

func (r *boardRepository) CardOwner(ctx context.Context, cardID int64) (int64, error) {
	return r.owner(r.db.WithContext(ctx).Table("cards").
		Joins("JOIN columns ON columns.id = cards.column_id").
		Joins("JOIN boards ON boards.id = columns.board_id").
		Where("cards.id = ?", cardID))
}

func (r *boardRepository) owner(q *gorm.DB) (int64, error) {
	var owners []int64
	if err := q.Limit(1).Pluck("boards.user_id", &owners).Error; err != nil {
		return 0, err
	}
	if len(owners) == 0 {
		return 0, ErrNotFound
	}
	return owners[0], nil
}

// ApplyActions applies a batch of edits to one board in a single
// transaction. Any action that names a card or column outside the board, or
// that cannot be applied, rolls back the whole batch.
func (r *boardRepository) ApplyActions(ctx context.Context, boardID int64, actions []Action) error {
	return translate(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var columns []Column
		if err := tx.Where("board_id = ?", boardID).Find(&columns).Error; err != nil {
			return err
		}
		onBoard := make(map[int64]bool, len(columns))
		columnIDs := make([]int64, 0, len(columns))
		for _, c := range columns {
			onBoard[c.ID] = true
			columnIDs = append(columnIDs, c.ID)
		}

		var cards []Card
		if len(columnIDs) > 0 {
			if err := tx.Where("column_id IN ?", columnIDs).Find(&cards).Error; err != nil {
				return err
			}
		}
		cardColumn := make(map[int64]int64, len(cards))
		for _, c := range cards {
			cardColumn[c.ID] = c.ColumnID
		}

		for i, a := range actions {
			if err := applyAction(tx, a, onBoard, cardColumn); err != nil {
				return fmt.Errorf("action %d (%s): %w", i, a.Type, err)
			}
		}
		return nil
	}))
}

func applyAction(tx *gorm.DB, a Action, onBoard map[int64]bool, cardColumn map[int64]int64) error {
	needColumn := func() error {
		if !onBoard[a.ColumnID] {
			return fmt.Errorf("%w: column %d", ErrNotFound, a.ColumnID)
		}
		return nil
	}
	needCard := func() (int64, error) {
		col, ok := cardColumn[a.CardID]
		if !ok {
			return 0, fmt.Errorf("%w: card %d", ErrNotFound, a.CardID)
		}
		return col, nil
	}
	title := func(max int) (string, error) {
		if a.Title == nil || strings.TrimSpace(*a.Title) == "" {
			return "", fmt.Errorf("%w: title is required", ErrInvalidAction)
		}
		t := strings.TrimSpace(*a.Title)
		if len(t) > max {
			return "", fmt.Errorf("%w: title longer than %d characters", ErrInvalidAction, max)
		}
		return t, nil
	}

	switch a.Type {
	case ActionCreateCard:
		if err := needColumn(); err != nil {
			return err
		}
		t, err := title(api.MaxCardTitleLength)
		if err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&Card{}).Where("column_id = ?", a.ColumnID).Count(&count).Error; err != nil {
			return err
		}
		card := Card{Title: t, ColumnID: a.ColumnID, Order: int(count)}
		if a.Description != nil {
			card.Description = *a.Description
		}
		if err := tx.Create(&card).Error; err != nil {
			return err
		}
		cardColumn[card.ID] = card.ColumnID
		return nil

	case ActionUpdateCard:
		if _, err := needCard(); err != nil {
			return err
		}
		updates := map[string]any{}
		if a.Title != nil {
			t, err := title(api.MaxCardTitleLength)
			if err != nil {
				return err
			}
			updates["title"] = t
		}
		if a.Description != nil {
			updates["description"] = *a.Description
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&Card{ID: a.CardID}).Updates(updates).Error

	case ActionMoveCard:
		from, err := needCard()
		if err != nil {
			return err
		}
		if err := needColumn(); err != nil {
			return err
		}
		index := -1
		if a.Order != nil {
			index = *a.Order
		}
		if err := moveCard(tx, a.CardID, from, a.ColumnID, index); err != nil {
			return err
		}
		cardColumn[a.CardID] = a.ColumnID
		return nil

	case ActionDeleteCard:
		if _, err := needCard(); err != nil {
			return err
		}
		if err := tx.Delete(&Card{}, a.CardID).Error; err != nil {
			return err
		}
		delete(cardColumn, a.CardID)
		return nil

	case ActionRenameColumn:
		if err := needColumn(); err != nil {
			return err
		}
		t, err := title(api.MaxColumnTitleLength)
		if err != nil {
			return err
		}
		return tx.Model(&Column{ID: a.ColumnID}).Update("title", t).Error

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
}

// moveCard places cardID at index in column to (appending when index is
// negative or past the end) and renumbers both affected columns.
func moveCard(tx *gorm.DB, cardID, from, to int64, index int) error {
	var siblings []Card
	if err := byPosition(tx.Where("column_id = ? AND id <> ?", to, cardID)).Find(&siblings).Error; err != nil {
		return err
	}
	if index < 0 || index > len(siblings) {
		index = len(siblings)
	}

	ids := make([]int64, 0, len(siblings)+1)
	for _, c := range siblings {
		ids = append(ids, c.ID)
	}
	ids = slices.Insert(ids, index, cardID)

	if err := tx.Model(&Card{ID: cardID}).Update("column_id", to).Error; err != nil {
		return err
	}
	if err := renumber(tx, ids); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	var rest []Card
	if err := byPosition(tx.Where("column_id = ?", from)).Find(&rest).Error; err != nil {
		return err
	}
	ids = ids[:0]
	for _, c := range rest {
		ids = append(ids, c.ID)
	}
	return renumber(tx, ids)
}

func renumber(tx *gorm.DB, ids []int64) error {
	for i, id := range ids {
		if err := tx.Model(&Card{ID: id}).Update("position", i).Error; err != nil {
			return err
		}
	}
	return nil
}
