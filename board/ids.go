package board

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Kind tells where an identifier came from.
type Kind int

const (
	// KindUnknown is any string not produced by this package.
	KindUnknown Kind = iota
	// KindServerColumn is a column id confirmed by the server.
	KindServerColumn
	// KindServerCard is a card id confirmed by the server.
	KindServerCard
	// KindOptimistic is a locally generated id awaiting server confirmation.
	KindOptimistic
	// KindLocal is a built-in id that is never persisted (the default board).
	KindLocal
)

const (
	columnPrefix     = "col-"
	cardPrefix       = "card-"
	optimisticPrefix = "tmp-"
	localPrefix      = "local-"
)

// ColumnID namespaces a server column id.
func ColumnID(n int64) string {
	return columnPrefix + strconv.FormatInt(n, 10)
}

// CardID namespaces a server card id.
func CardID(n int64) string {
	return cardPrefix + strconv.FormatInt(n, 10)
}

// LocalID builds an id that is never sent to the server.
func LocalID(name string) string {
	return localPrefix + name
}

// ParseColumnID returns the server id behind a namespaced column id.
func ParseColumnID(id string) (int64, bool) {
	return parseServerID(id, columnPrefix)
}

// ParseCardID returns the server id behind a namespaced card id.
func ParseCardID(id string) (int64, bool) {
	return parseServerID(id, cardPrefix)
}

func parseServerID(id, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	// Reject non-canonical forms such as "card-007" so each server id has
	// exactly one string form.
	if strconv.FormatInt(n, 10) != rest {
		return 0, false
	}
	return n, true
}

// KindOf classifies an id.
func KindOf(id string) Kind {
	switch {
	case strings.HasPrefix(id, optimisticPrefix):
		return KindOptimistic
	case strings.HasPrefix(id, localPrefix):
		return KindLocal
	}
	if _, ok := ParseColumnID(id); ok {
		return KindServerColumn
	}
	if _, ok := ParseCardID(id); ok {
		return KindServerCard
	}
	return KindUnknown
}

// IsOptimistic reports whether id is pending server confirmation.
func IsOptimistic(id string) bool {
	return KindOf(id) == KindOptimistic
}

// IDGenerator hands out optimistic ids. Ids from one generator never repeat
// and never parse as server ids. Safe for concurrent use.
type IDGenerator struct {
	counter atomic.Uint64
}

// Next returns a fresh optimistic id tagged with the entity type, e.g.
// "tmp-card-1".
func (g *IDGenerator) Next(entity string) string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s%s-%d", optimisticPrefix, entity, n)
}
