package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Book is a catalog record as stored.
type Book struct {
	ID          int       `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description *string   `json:"description" db:"description"`
	Year        int       `json:"year" db:"year"`
	ISBN        *string   `json:"isbn" db:"isbn"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// BookSummary is the list view of a book with resolved author and genre names.
type BookSummary struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Year    int      `json:"year"`
	Authors []string `json:"authors"`
	Genres  []string `json:"genres"`
}

// BookDetail is the full view of a single book.
type BookDetail struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Year        int      `json:"year"`
	ISBN        *string  `json:"isbn"`
	Authors     []string `json:"authors"`
	Genres      []string `json:"genres"`
}

// Summary drops the detail-only fields.
func (d BookDetail) Summary() BookSummary {
	return BookSummary{
		ID:      d.ID,
		Title:   d.Title,
		Year:    d.Year,
		Authors: d.Authors,
		Genres:  d.Genres,
	}
}

// NewBook carries a validated create request into the catalog.
type NewBook struct {
	Title       string
	Description *string
	Year        int
	ISBN        *string
	Authors     EntityRefs
	Genres      EntityRefs
}

// EntityKind distinguishes the two lazily created catalog entities.
type EntityKind string

const (
	KindAuthor EntityKind = "author"
	KindGenre  EntityKind = "genre"
)

// Plural is used for field names and diagnostics.
func (k EntityKind) Plural() string {
	return string(k) + "s"
}

// EntityRef is a resolved author or genre.
type EntityRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RefMode tells whether an EntityRefs list names entities by id or by name.
type RefMode int

const (
	RefNone RefMode = iota
	RefByIDs
	RefByNames
)

// ErrMixedRefs is returned when a list combines ids and names.
var ErrMixedRefs = errors.New("must not mix ids and names")

// ErrInvalidRef is returned for elements that are neither a positive integer nor a string.
var ErrInvalidRef = errors.New("items must be positive integer ids or names")

// EntityRefs is either ByIDs or ByNames, fixed when the request is decoded.
type EntityRefs struct {
	Mode  RefMode
	IDs   []int
	Names []string
}

func RefsByIDs(ids ...int) EntityRefs {
	return EntityRefs{Mode: RefByIDs, IDs: ids}
}

func RefsByNames(names ...string) EntityRefs {
	return EntityRefs{Mode: RefByNames, Names: names}
}

// Len returns the number of raw elements.
func (r EntityRefs) Len() int {
	if r.Mode == RefByIDs {
		return len(r.IDs)
	}
	return len(r.Names)
}

// UnmarshalJSON decodes a JSON array of integers or of strings.
func (r *EntityRefs) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = EntityRefs{}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.New("must be a list")
	}

	out := EntityRefs{}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			return ErrInvalidRef
		}

		var mode RefMode
		if item[0] == '"' {
			var name string
			if err := json.Unmarshal(item, &name); err != nil {
				return ErrInvalidRef
			}
			mode = RefByNames
			out.Names = append(out.Names, name)
		} else {
			var id int
			if err := json.Unmarshal(item, &id); err != nil || id < 1 {
				return ErrInvalidRef
			}
			mode = RefByIDs
			out.IDs = append(out.IDs, id)
		}

		if out.Mode != RefNone && out.Mode != mode {
			return ErrMixedRefs
		}
		out.Mode = mode
	}

	*r = out
	return nil
}

// MarshalJSON writes the list back in its own mode.
func (r EntityRefs) MarshalJSON() ([]byte, error) {
	switch r.Mode {
	case RefByIDs:
		return json.Marshal(r.IDs)
	case RefByNames:
		return json.Marshal(r.Names)
	default:
		return []byte("[]"), nil
	}
}

// CleanNames trims names, drops empties and duplicates, keeping first-occurrence order.
func CleanNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
