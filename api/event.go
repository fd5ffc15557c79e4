package api

import "encoding/json"

// Event types published on the change feed.
const (
	EventCardCreated   = "card.created"
	EventCardUpdated   = "card.updated"
	EventCardDeleted   = "card.deleted"
	EventColumnUpdated = "column.updated"
	EventBoardReplaced = "board.replaced"
	EventPing          = "ping"
	EventPong          = "pong"
)

// Event is a change-feed message. Data is decoded by the receiver according
// to Type: Card for card events, Column for column events, Board for
// board.replaced.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

// DeletedCard is the payload of card.deleted.
type DeletedCard struct {
	ID       int64 `json:"id"`
	ColumnID int64 `json:"column_id"`
}
