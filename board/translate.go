package board

import (
	"cmp"
	"slices"

	"github.com/CrowderSoup/kanban-studio/api"
)

// FromRemote translates the server's nested board into the normalized
// shape: columns and cards sorted by their order field (ties keep server
// order), ids namespaced, nested cards flattened into the card map.
func FromRemote(remote api.Board) Board {
	columns := slices.Clone(remote.Columns)
	slices.SortStableFunc(columns, func(a, b api.Column) int { return cmp.Compare(a.Order, b.Order) })

	out := Board{
		Columns: make([]Column, 0, len(columns)),
		Cards:   make(map[string]Card),
	}
	for _, rc := range columns {
		cards := slices.Clone(rc.Cards)
		slices.SortStableFunc(cards, func(a, b api.Card) int { return cmp.Compare(a.Order, b.Order) })

		col := Column{
			ID:      ColumnID(rc.ID),
			Title:   rc.Title,
			CardIDs: make([]string, 0, len(cards)),
		}
		for _, card := range cards {
			id := CardID(card.ID)
			col.CardIDs = append(col.CardIDs, id)
			out.Cards[id] = CardFromRemote(card)
		}
		out.Columns = append(out.Columns, col)
	}
	return out
}

// CardFromRemote translates a single server card.
func CardFromRemote(card api.Card) Card {
	return Card{
		ID:      CardID(card.ID),
		Title:   card.Title,
		Details: card.Description,
	}
}
