package types

import "time"

// Favorite records that a user currently favorites a book.
// Existence is the only state; (UserID, BookID) is the primary key.
type Favorite struct {
	UserID    int       `json:"user_id" db:"user_id"`
	BookID    int       `json:"book_id" db:"book_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EventType names a catalog change published to the message broker.
type EventType string

const (
	EventBookCreated     EventType = "book.created"
	EventBookDeleted     EventType = "book.deleted"
	EventFavoriteAdded   EventType = "favorite.added"
	EventFavoriteRemoved EventType = "favorite.removed"
)

// CatalogEvent is published after a catalog or favorites change commits.
type CatalogEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	BookID     int       `json:"book_id"`
	UserID     int       `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
