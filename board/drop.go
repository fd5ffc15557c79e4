package board

import "math"

// Point is a pointer position in layout coordinates.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned box in layout coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// Contains reports whether p lies inside r (edges included).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

func (r Rect) centerX() float64 {
	return r.X + r.Width/2
}

// Layout is a snapshot of where columns and cards were drawn at the moment
// of the drop.
type Layout struct {
	Columns map[string]Rect
	Cards   map[string]Rect
}

// DropEvent is what the gesture layer reports when a drag ends.
type DropEvent struct {
	// ActiveID is the card being dragged.
	ActiveID string
	// OverID is the drop target reported by the gesture layer. It may be
	// empty or stale (equal to ActiveID) after a reflow during the drag.
	OverID string
	// Pointer is the last known pointer position, if any.
	Pointer *Point
}

// ResolveDropTarget picks the id to hand to MoveCard.
//
// The primary target wins when it names a known column or a card other than
// the one being dragged. Otherwise the pointer is hit-tested against the
// layout: a card under the pointer (not the dragged one), then a column
// under the pointer, then the column whose horizontal center is closest.
// ok is false when nothing can be resolved.
func ResolveDropTarget(ev DropEvent, layout Layout, columns []Column) (target string, ok bool) {
	if ev.OverID != "" && ev.OverID != ev.ActiveID {
		if ColumnIndex(columns, ev.OverID) >= 0 || ColumnOf(columns, ev.OverID) >= 0 {
			return ev.OverID, true
		}
	}
	if ev.Pointer == nil {
		return "", false
	}
	p := *ev.Pointer

	// Walk columns in display order so overlapping rects resolve
	// deterministically.
	for _, col := range columns {
		for _, id := range col.CardIDs {
			if id == ev.ActiveID {
				continue
			}
			if r, found := layout.Cards[id]; found && r.Contains(p) {
				return id, true
			}
		}
	}
	for _, col := range columns {
		if r, found := layout.Columns[col.ID]; found && r.Contains(p) {
			return col.ID, true
		}
	}

	best, bestDist := "", math.Inf(1)
	for _, col := range columns {
		r, found := layout.Columns[col.ID]
		if !found {
			continue
		}
		if d := math.Abs(r.centerX() - p.X); d < bestDist {
			best, bestDist = col.ID, d
		}
	}
	return best, best != ""
}
