// Package store defines the projection store contract shared by the applier
// and the query service.
package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/skynet2/catalogsync/common"
)

var (
	ErrNotFound  = errors.New("book not found")
	ErrDuplicate = errors.New("book already exists")
)

// Store is a document store keyed by book_id with per-document atomicity.
type Store interface {
	FindOne(ctx context.Context, bookID string) (*common.BookRecord, error)
	// Insert fails with ErrDuplicate when bookID is already present.
	Insert(ctx context.Context, record common.BookRecord) error
	// UpdateFields reports false when no record matched.
	UpdateFields(ctx context.Context, bookID string, patch common.BookPatch) (bool, error)
	// Delete reports false when no record matched.
	Delete(ctx context.Context, bookID string) (bool, error)
	// Find returns matches ordered by title, then book_id. A limit <= 0 is unbounded.
	Find(ctx context.Context, filter Filter, skip int, limit int) ([]common.BookRecord, error)
	Count(ctx context.Context, filter Filter) (int, error)
}

// Filter constrains Find and Count. Zero-value fields impose no constraint.
// Prefix fields are literal and case-insensitive under simple lowercasing (see
// HasPrefixFold); GenrePrefixes match if any prefix matches.
type Filter struct {
	TitlePrefix   string
	AuthorPrefix  string
	GenrePrefixes []string
	UserID        string
}

func (f Filter) Matches(rec common.BookRecord) bool {
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}

	if f.TitlePrefix != "" && !HasPrefixFold(rec.Title, f.TitlePrefix) {
		return false
	}

	if f.AuthorPrefix != "" && !HasPrefixFold(rec.AuthorName(), f.AuthorPrefix) {
		return false
	}

	if len(f.GenrePrefixes) > 0 {
		genre := rec.GenreName()
		matched := false

		for _, prefix := range f.GenrePrefixes {
			if HasPrefixFold(genre, prefix) {
				matched = true
				break
			}
		}

		if !matched {
			return false
		}
	}

	return true
}

// HasPrefixFold reports whether s begins with prefix, ignoring case. Both sides
// are lowercased, as Postgres ILIKE does, so "ß" does not match "ss".
func HasPrefixFold(s, prefix string) bool {
	lower := cases.Lower(language.Und)

	return strings.HasPrefix(lower.String(s), lower.String(prefix))
}

// Less orders records the way Find does.
func Less(a, b common.BookRecord) bool {
	if a.Title != b.Title {
		return a.Title < b.Title
	}

	return a.BookID < b.BookID
}
