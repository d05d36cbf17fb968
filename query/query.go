// Package query answers read requests against the projection store.
package query

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/store"
)

const (
	DefaultPage       = 1
	DefaultLimit      = 4
	DefaultMaxLimit   = 100
	DefaultListAllCap = 1000
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access to this user's books is not allowed")
	ErrInvalidParams   = errors.New("invalid search parameters")
)

// Book is the public projection of a BookRecord.
type Book struct {
	ID        string     `json:"_id"`
	Title     string     `json:"title"`
	Author    string     `json:"author,omitempty"`
	Genre     string     `json:"genre,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

type SearchParams struct {
	Title  string
	Author string
	Genres []string
	// Page and Limit fall back to the defaults when zero.
	Page  int
	Limit int
}

type PageInfo struct {
	TotalResults int `json:"totalResults"`
	TotalPages   int `json:"totalPages"`
	CurrentPage  int `json:"currentPage"`
	Limit        int `json:"limit"`
}

type SearchResult struct {
	Books    []Book   `json:"books"`
	PageInfo PageInfo `json:"pageInfo"`
}

type Service struct {
	store      store.Store
	listAllCap int
	maxLimit   int
}

type Option func(s *Service)

// WithListAllCap bounds ListAll. Records past the cap are not returned.
func WithListAllCap(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.listAllCap = limit
		}
	}
}

// WithMaxLimit bounds the page size of Search.
func WithMaxLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxLimit = limit
		}
	}
}

func NewService(s store.Store, opts ...Option) *Service {
	svc := &Service{
		store:      s,
		listAllCap: DefaultListAllCap,
		maxLimit:   DefaultMaxLimit,
	}

	for _, o := range opts {
		o(svc)
	}

	return svc
}

func (s *Service) ListAll(ctx context.Context) ([]Book, error) {
	records, err := s.store.Find(ctx, store.Filter{}, 0, s.listAllCap)
	if err != nil {
		return nil, errors.Wrap(err, "list books")
	}

	return toBooks(records, false), nil
}

// ListByOwner requires identity, the verified caller, to be the requested owner.
func (s *Service) ListByOwner(ctx context.Context, identity string, owner string) ([]Book, error) {
	if identity == "" {
		return nil, ErrUnauthenticated
	}

	if identity != owner {
		return nil, ErrForbidden
	}

	records, err := s.store.Find(ctx, store.Filter{UserID: owner}, 0, s.listAllCap)
	if err != nil {
		return nil, errors.Wrapf(err, "list books of %s", owner)
	}

	return toBooks(records, false), nil
}

func (s *Service) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	page, limit, err := s.normalize(params)
	if err != nil {
		return nil, err
	}

	filter := store.Filter{
		TitlePrefix:   params.Title,
		AuthorPrefix:  params.Author,
		GenrePrefixes: nonEmpty(params.Genres),
	}

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "count books")
	}

	totalPages := (total + limit - 1) / limit

	result := &SearchResult{
		Books: []Book{},
		PageInfo: PageInfo{
			TotalResults: total,
			TotalPages:   totalPages,
			CurrentPage:  page,
			Limit:        limit,
		},
	}

	// checked before computing skip, which overflows for huge pages
	if page > totalPages {
		return result, nil
	}

	skip := (page - 1) * limit

	records, err := s.store.Find(ctx, filter, skip, limit)
	if err != nil {
		return nil, errors.Wrap(err, "search books")
	}

	result.Books = toBooks(records, true)

	return result, nil
}

func (s *Service) normalize(params SearchParams) (int, int, error) {
	page, limit := params.Page, params.Limit

	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}

	if page < 1 {
		return 0, 0, errors.Wrapf(ErrInvalidParams, "page %d", page)
	}
	if limit < 1 {
		return 0, 0, errors.Wrapf(ErrInvalidParams, "limit %d", limit)
	}

	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	return page, limit, nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}

	return out
}

func toBooks(records []common.BookRecord, withTimestamps bool) []Book {
	books := make([]Book, 0, len(records))

	for _, rec := range records {
		book := Book{
			ID:     rec.BookID,
			Title:  rec.Title,
			Author: rec.AuthorName(),
			Genre:  rec.GenreName(),
		}

		if withTimestamps {
			book.CreatedAt = rec.CreatedAt
			book.UpdatedAt = rec.UpdatedAt
		}

		books = append(books, book)
	}

	return books
}
