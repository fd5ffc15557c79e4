package database

import (
	"time"

	"github.com/CrowderSoup/kanban-studio/api"
)

type User struct {
	ID           int64     `gorm:"primaryKey"`
	Username     string    `gorm:"size:50;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time
	Boards       []Board   `gorm:"constraint:OnDelete:CASCADE"`
	Sessions     []Session `gorm:"constraint:OnDelete:CASCADE"`
}

type Board struct {
	ID        int64  `gorm:"primaryKey"`
	Title     string `gorm:"size:100;not null"`
	UserID    int64  `gorm:"index;not null"`
	CreatedAt time.Time
	Columns   []Column `gorm:"constraint:OnDelete:CASCADE"`
}

// Column.Order and Card.Order are stored as "position" since ORDER is a
// reserved word.
type Column struct {
	ID      int64  `gorm:"primaryKey"`
	Title   string `gorm:"size:50;not null"`
	Order   int    `gorm:"column:position;not null;default:0"`
	BoardID int64  `gorm:"index;not null"`
	Cards   []Card `gorm:"constraint:OnDelete:CASCADE"`
}

type Card struct {
	ID          int64  `gorm:"primaryKey"`
	Title       string `gorm:"size:200;not null"`
	Description string `gorm:"type:text"`
	Order       int    `gorm:"column:position;not null;default:0"`
	ColumnID    int64  `gorm:"index;not null"`
}

// Session records an issued token. RevokedAt is set on logout.
type Session struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    int64     `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

func (u User) API() api.User {
	return api.User{ID: u.ID, Username: u.Username}
}

func (b Board) API() api.Board {
	out := api.Board{
		ID:      b.ID,
		Title:   b.Title,
		UserID:  b.UserID,
		Columns: make([]api.Column, 0, len(b.Columns)),
	}
	for _, col := range b.Columns {
		out.Columns = append(out.Columns, col.API())
	}
	return out
}

func (c Column) API() api.Column {
	out := api.Column{
		ID:      c.ID,
		Title:   c.Title,
		Order:   c.Order,
		BoardID: c.BoardID,
		Cards:   make([]api.Card, 0, len(c.Cards)),
	}
	for _, card := range c.Cards {
		out.Cards = append(out.Cards, card.API())
	}
	return out
}

func (c Card) API() api.Card {
	return api.Card{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Order:       c.Order,
		ColumnID:    c.ColumnID,
	}
}
