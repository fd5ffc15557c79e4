package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/CrowderSoup/kanban-studio/board"
)

var (
	errNoMatch   = errors.New("no match")
	errAmbiguous = errors.New("ambiguous reference")
)

type entry struct {
	id    string
	title string
}

// resolveColumn finds a column by id ("col-3"), bare server id ("3") or
// case-insensitive title.
func resolveColumn(b board.Board, ref string) (string, error) {
	entries := make([]entry, 0, len(b.Columns))
	for _, col := range b.Columns {
		entries = append(entries, entry{id: col.ID, title: col.Title})
	}
	return resolve("column", ref, entries, board.ColumnID)
}

// resolveCard finds a card the same way. Cards are searched in board order.
func resolveCard(b board.Board, ref string) (string, error) {
	var entries []entry
	for _, col := range b.Columns {
		for _, id := range col.CardIDs {
			entries = append(entries, entry{id: id, title: b.Cards[id].Title})
		}
	}
	return resolve("card", ref, entries, board.CardID)
}

// resolveTarget finds a drop target: a card if one matches, else a column.
func resolveTarget(b board.Board, ref string) (string, error) {
	id, err := resolveCard(b, ref)
	if !errors.Is(err, errNoMatch) {
		return id, err
	}
	id, err = resolveColumn(b, ref)
	if errors.Is(err, errNoMatch) {
		return "", fmt.Errorf("%w: no card or column matches %q", errNoMatch, ref)
	}
	return id, err
}

func resolve(kind, ref string, entries []entry, fromNumber func(int64) string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty %s reference", errNoMatch, kind)
	}

	for _, e := range entries {
		if e.id == ref {
			return e.id, nil
		}
	}
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil && n > 0 {
		want := fromNumber(n)
		for _, e := range entries {
			if e.id == want {
				return e.id, nil
			}
		}
	}

	var matches []string
	for _, e := range entries {
		if strings.EqualFold(strings.TrimSpace(e.title), ref) {
			matches = append(matches, e.id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no %s matches %q", errNoMatch, kind, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %d %ss are titled %q (%s); use an id", errAmbiguous, len(matches), kind, ref, strings.Join(matches, ", "))
	}
}
