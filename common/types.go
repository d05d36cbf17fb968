package common

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	FrameworkVersion = "0.1.0"
)

type EventType string

const (
	EventTypeBookCreated = EventType("BOOK_CREATED")
	EventTypeBookUpdated = EventType("BOOK_UPDATED")
	EventTypeBookDeleted = EventType("BOOK_DELETED")
)

// Named is a structured catalog field (author, genre) with a display name.
type Named struct {
	Name string `json:"name"`
}

// UnmarshalJSON accepts both {"name": "..."} and a bare string.
func (n *Named) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		n.Name = plain
		return nil
	}

	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	n.Name = obj.Name

	return nil
}

// BookRecord is the projected entity. BookID is its only identity.
type BookRecord struct {
	BookID    string     `json:"book_id"`
	Title     string     `json:"title"`
	Author    *Named     `json:"author,omitempty"`
	Genre     *Named     `json:"genre,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (b BookRecord) AuthorName() string {
	if b.Author == nil {
		return ""
	}

	return b.Author.Name
}

func (b BookRecord) GenreName() string {
	if b.Genre == nil {
		return ""
	}

	return b.Genre.Name
}

// BookPatch holds the mutable fields of a partial update. Nil means untouched.
type BookPatch struct {
	Title     *string    `json:"title,omitempty"`
	Author    *Named     `json:"author,omitempty"`
	Genre     *Named     `json:"genre,omitempty"`
	UserID    *string    `json:"user_id,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (p BookPatch) IsEmpty() bool {
	return p.Title == nil && p.Author == nil && p.Genre == nil &&
		p.UserID == nil && p.CreatedAt == nil && p.UpdatedAt == nil
}

// ApplyTo merges the patch into rec and returns the result.
func (p BookPatch) ApplyTo(rec BookRecord) BookRecord {
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.Author != nil {
		author := *p.Author
		rec.Author = &author
	}
	if p.Genre != nil {
		genre := *p.Genre
		rec.Genre = &genre
	}
	if p.UserID != nil {
		rec.UserID = *p.UserID
	}
	if p.CreatedAt != nil {
		createdAt := *p.CreatedAt
		rec.CreatedAt = &createdAt
	}
	if p.UpdatedAt != nil {
		updatedAt := *p.UpdatedAt
		rec.UpdatedAt = &updatedAt
	}

	return rec
}

// CatalogEvent is one of BookCreated, BookUpdated, BookDeleted or UnknownEvent.
type CatalogEvent interface {
	Type() EventType
	ID() string
}

type BookCreated struct {
	Book BookRecord
}

func (e BookCreated) Type() EventType { return EventTypeBookCreated }
func (e BookCreated) ID() string      { return e.Book.BookID }

type BookUpdated struct {
	BookID  string
	Changes BookPatch
}

func (e BookUpdated) Type() EventType { return EventTypeBookUpdated }
func (e BookUpdated) ID() string      { return e.BookID }

type BookDeleted struct {
	BookID string
}

func (e BookDeleted) Type() EventType { return EventTypeBookDeleted }
func (e BookDeleted) ID() string      { return e.BookID }

// UnknownEvent carries an eventType outside the closed set. It is not an error.
type UnknownEvent struct {
	EventType EventType
	Data      jsoniter.RawMessage
}

func (e UnknownEvent) Type() EventType { return e.EventType }
func (e UnknownEvent) ID() string      { return "" }
