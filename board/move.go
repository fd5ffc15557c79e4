package board

import "slices"

// MoveCard moves activeID relative to overID and returns the new column
// sequence.
//
// overID is either a column id, meaning "append to that column", or a card
// id, meaning "insert immediately before that card in whatever column owns
// it". The insertion index is computed after activeID has been removed, so a
// move inside one column lands before the referenced card without an
// off-by-one.
//
// When the move changes nothing (unknown activeID, unresolvable overID,
// overID == activeID, or an identical result) the input slice is returned
// as is. Otherwise the result shares every column except the source and
// target with the input.
func MoveCard(columns []Column, activeID, overID string) []Column {
	if activeID == "" || activeID == overID {
		return columns
	}

	src := ColumnOf(columns, activeID)
	if src < 0 {
		return columns
	}

	dst := ColumnIndex(columns, overID)
	onColumn := dst >= 0
	if !onColumn {
		dst = ColumnOf(columns, overID)
	}
	if dst < 0 {
		return columns
	}

	srcIDs := without(columns[src].CardIDs, activeID)
	dstIDs := srcIDs
	if dst != src {
		dstIDs = slices.Clone(columns[dst].CardIDs)
	}

	at := len(dstIDs)
	if !onColumn {
		at = slices.Index(dstIDs, overID)
	}
	dstIDs = slices.Insert(dstIDs, at, activeID)

	if dst == src && slices.Equal(dstIDs, columns[src].CardIDs) {
		return columns
	}

	out := slices.Clone(columns)
	if dst != src {
		out[src].CardIDs = srcIDs
	}
	out[dst].CardIDs = dstIDs
	return out
}

// without returns a fresh copy of ids with every occurrence of id removed.
func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
