package board

import (
	"strconv"
	"strings"
)

// DefaultColumnTitles are the five stages of a fresh board. The server seeds
// new boards with them and the client falls back to them when no remote
// board can be loaded.
var DefaultColumnTitles = []string{"Backlog", "Discovery", "In Progress", "Review", "Done"}

type seedCard struct {
	column  int
	title   string
	details string
}

var defaultCards = []seedCard{
	{0, "Align roadmap themes", "Draft quarterly themes with impact statements and metrics."},
	{0, "Gather customer signals", "Review support tags, sales notes, and churn feedback."},
	{1, "Prototype analytics view", "Sketch initial dashboard layout and key drill-downs."},
	{2, "Refine status language", "Standardize column labels and tone across the board."},
	{2, "Design card layout", "Add hierarchy and spacing for scanning dense lists."},
	{3, "QA micro-interactions", "Verify hover, focus, and loading states."},
	{4, "Ship marketing page", "Final copy approved and asset pack delivered."},
	{4, "Close onboarding sprint", "Document release notes and share internally."},
}

// Default returns the built-in board. Its ids are local and are never sent
// to the server.
func Default() Board {
	b := Board{
		Columns: make([]Column, len(DefaultColumnTitles)),
		Cards:   make(map[string]Card, len(defaultCards)),
	}
	for i, title := range DefaultColumnTitles {
		b.Columns[i] = Column{
			ID:      LocalID("col-" + slug(title)),
			Title:   title,
			CardIDs: []string{},
		}
	}
	for i, seed := range defaultCards {
		id := LocalID("card-" + strconv.Itoa(i+1))
		b.Cards[id] = Card{ID: id, Title: seed.title, Details: seed.details}
		b.Columns[seed.column].CardIDs = append(b.Columns[seed.column].CardIDs, id)
	}
	return b
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}
