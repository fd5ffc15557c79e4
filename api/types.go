// Package api holds the JSON contract shared by the server and its clients.
//
// Every payload that crosses the wire has a type here. Types that arrive from
// an untrusted peer carry a Validate method so both sides can reject
// malformed shapes at the boundary instead of proceeding with them.
package api

import (
	"errors"
	"fmt"
	"strings"
)

// Length limits mirror the column sizes in the database schema.
const (
	MaxUsernameLength    = 50
	MaxBoardTitleLength  = 100
	MaxColumnTitleLength = 50
	MaxCardTitleLength   = 200
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid payload")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// User is the acting identity.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

func (u User) Validate() error {
	if u.ID <= 0 {
		return invalid("user id must be positive")
	}
	return nil
}

// Card is a server-side card.
type Card struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	ColumnID    int64  `json:"column_id"`
}

func (c Card) Validate() error {
	if c.ID <= 0 {
		return invalid("card id must be positive")
	}
	if c.ColumnID <= 0 {
		return invalid("card %d has no column", c.ID)
	}
	return nil
}

// Column is a server-side column with its cards nested.
type Column struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	BoardID int64  `json:"board_id"`
	Cards   []Card `json:"cards"`
}

func (c Column) Validate() error {
	if c.ID <= 0 {
		return invalid("column id must be positive")
	}
	for _, card := range c.Cards {
		if err := card.Validate(); err != nil {
			return err
		}
		if card.ColumnID != c.ID {
			return invalid("card %d nested in column %d claims column %d", card.ID, c.ID, card.ColumnID)
		}
	}
	return nil
}

// Board is a server-side board with columns and cards nested.
type Board struct {
	ID      int64    `json:"id"`
	Title   string   `json:"title"`
	UserID  int64    `json:"user_id"`
	Columns []Column `json:"columns"`
}

// Validate checks ids and that no card or column id repeats.
func (b Board) Validate() error {
	if b.ID <= 0 {
		return invalid("board id must be positive")
	}
	columns := make(map[int64]bool, len(b.Columns))
	cards := make(map[int64]bool)
	for _, col := range b.Columns {
		if err := col.Validate(); err != nil {
			return err
		}
		if columns[col.ID] {
			return invalid("duplicate column %d", col.ID)
		}
		columns[col.ID] = true
		for _, card := range col.Cards {
			if cards[card.ID] {
				return invalid("duplicate card %d", card.ID)
			}
			cards[card.ID] = true
		}
	}
	return nil
}

// Credentials is the body of login and register.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) Validate() error {
	name := strings.TrimSpace(c.Username)
	if name == "" || c.Password == "" {
		return invalid("username and password are required")
	}
	if len(name) > MaxUsernameLength {
		return invalid("username longer than %d characters", MaxUsernameLength)
	}
	return nil
}

// TokenResponse is returned by login and register.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username,omitempty"`
}

func (t TokenResponse) Validate() error {
	if t.AccessToken == "" {
		return invalid("missing access token")
	}
	if t.UserID <= 0 {
		return invalid("user id must be positive")
	}
	return nil
}

// BoardCreate is the body of POST /api/boards.
type BoardCreate struct {
	Title  string `json:"title"`
	UserID int64  `json:"user_id,omitempty"`
}

func (b BoardCreate) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return invalid("board title is required")
	}
	if len(b.Title) > MaxBoardTitleLength {
		return invalid("board title longer than %d characters", MaxBoardTitleLength)
	}
	return nil
}

// ColumnCreate is the body of POST /api/columns.
type ColumnCreate struct {
	Title   string `json:"title"`
	Order   int    `json:"order"`
	BoardID int64  `json:"board_id"`
}

func (c ColumnCreate) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return invalid("column title is required")
	}
	if len(c.Title) > MaxColumnTitleLength {
		return invalid("column title longer than %d characters", MaxColumnTitleLength)
	}
	if c.BoardID <= 0 {
		return invalid("board_id is required")
	}
	return nil
}

// ColumnPatch is the body of PATCH /api/columns/{id}. Nil fields are left unchanged.
type ColumnPatch struct {
	Title *string `json:"title,omitempty"`
	Order *int    `json:"order,omitempty"`
}

func (c ColumnPatch) Validate() error {
	if c.Title != nil && len(*c.Title) > MaxColumnTitleLength {
		return invalid("column title longer than %d characters", MaxColumnTitleLength)
	}
	return nil
}

// CardCreate is the body of POST /api/cards.
type CardCreate struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	ColumnID    int64  `json:"column_id"`
}

func (c CardCreate) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return invalid("card title is required")
	}
	if len(c.Title) > MaxCardTitleLength {
		return invalid("card title longer than %d characters", MaxCardTitleLength)
	}
	if c.ColumnID <= 0 {
		return invalid("column_id is required")
	}
	if c.Order < 0 {
		return invalid("order must not be negative")
	}
	return nil
}

// CardPatch is the body of PATCH /api/cards/{id}. Nil fields are left unchanged.
type CardPatch struct {
	ColumnID    *int64  `json:"column_id,omitempty"`
	Order       *int    `json:"order,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (c CardPatch) Validate() error {
	if c.ColumnID != nil && *c.ColumnID <= 0 {
		return invalid("column_id must be positive")
	}
	if c.Order != nil && *c.Order < 0 {
		return invalid("order must not be negative")
	}
	if c.Title != nil {
		if strings.TrimSpace(*c.Title) == "" {
			return invalid("card title must not be empty")
		}
		if len(*c.Title) > MaxCardTitleLength {
			return invalid("card title longer than %d characters", MaxCardTitleLength)
		}
	}
	return nil
}

// ChatRequest is the body of POST /api/ai/chat.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
}

func (c ChatRequest) Validate() error {
	if strings.TrimSpace(c.Message) == "" {
		return invalid("message is required")
	}
	return nil
}

// ChatResponse carries the assistant reply and, when the assistant changed
// the board, the complete replacement snapshot.
type ChatResponse struct {
	ResponseMessage string `json:"response_message"`
	Board           *Board `json:"board,omitempty"`
}

func (c ChatResponse) Validate() error {
	if c.Board != nil {
		return c.Board.Validate()
	}
	return nil
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
