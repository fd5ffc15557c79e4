// Package board is the normalized in-memory board: ordered columns holding
// card id sequences, a card map, the move reducer, drop-target resolution and
// translation from the server's nested shape.
//
// Everything here is pure. Functions return new values and share untouched
// columns with their input; callers must treat columns and card-id slices as
// immutable.
package board

import (
	"fmt"
	"slices"
)

// Card is a titled unit of work. Column membership lives in Column.CardIDs.
type Card struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Details string `json:"details"`
}

// Column is an ordered bucket of card ids.
type Column struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	CardIDs []string `json:"cardIds"`
}

// Board is the normalized snapshot.
type Board struct {
	Columns []Column        `json:"columns"`
	Cards   map[string]Card `json:"cards"`
}

// Clone returns a deep copy.
func (b Board) Clone() Board {
	out := Board{
		Columns: make([]Column, len(b.Columns)),
		Cards:   make(map[string]Card, len(b.Cards)),
	}
	for i, col := range b.Columns {
		col.CardIDs = slices.Clone(col.CardIDs)
		out.Columns[i] = col
	}
	for id, card := range b.Cards {
		out.Cards[id] = card
	}
	return out
}

// ColumnIndex returns the index of the column with the given id, or -1.
func ColumnIndex(columns []Column, columnID string) int {
	return slices.IndexFunc(columns, func(c Column) bool { return c.ID == columnID })
}

// ColumnOf returns the index of the column whose sequence holds cardID, or -1.
func ColumnOf(columns []Column, cardID string) int {
	return slices.IndexFunc(columns, func(c Column) bool { return slices.Contains(c.CardIDs, cardID) })
}

// Position locates a card: its column index and its index inside that column.
func (b Board) Position(cardID string) (col, idx int, ok bool) {
	col = ColumnOf(b.Columns, cardID)
	if col < 0 {
		return -1, -1, false
	}
	return col, slices.Index(b.Columns[col].CardIDs, cardID), true
}

// Validate checks the board invariants: column ids are unique, no card id
// appears twice across all sequences, and the ids in the sequences are
// exactly the keys of the card map.
func (b Board) Validate() error {
	seenColumns := make(map[string]bool, len(b.Columns))
	seenCards := make(map[string]string, len(b.Cards))
	for _, col := range b.Columns {
		if seenColumns[col.ID] {
			return fmt.Errorf("duplicate column %q", col.ID)
		}
		seenColumns[col.ID] = true
		for _, id := range col.CardIDs {
			if other, ok := seenCards[id]; ok {
				return fmt.Errorf("card %q appears in %q and %q", id, other, col.ID)
			}
			seenCards[id] = col.ID
			card, ok := b.Cards[id]
			if !ok {
				return fmt.Errorf("column %q references missing card %q", col.ID, id)
			}
			if card.ID != id {
				return fmt.Errorf("card stored under %q has id %q", id, card.ID)
			}
		}
	}
	for id := range b.Cards {
		if _, ok := seenCards[id]; !ok {
			return fmt.Errorf("card %q is in no column", id)
		}
	}
	return nil
}
