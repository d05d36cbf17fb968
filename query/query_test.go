package query_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/query"
	"github.com/skynet2/catalogsync/store"
	"github.com/skynet2/catalogsync/store/memory"
)

func seed(t *testing.T, records ...common.BookRecord) *memory.Store {
	s := memory.New()
	for _, rec := range records {
		require.NoError(t, s.Insert(context.Background(), rec))
	}

	return s
}

func rec(id, title, author, genre, owner string) common.BookRecord {
	return common.BookRecord{
		BookID: id,
		Title:  title,
		Author: &common.Named{Name: author},
		Genre:  &common.Named{Name: genre},
		UserID: owner,
	}
}

func catalog(t *testing.T) *memory.Store {
	return seed(t,
		rec("b1", "Harry Potter", "Rowling", "Fantasy", "u1"),
		rec("b2", "The Harry", "Someone", "Drama", "u2"),
		rec("b3", "Dune", "Herbert", "Sci-Fi", "u1"),
		rec("b4", "Neuromancer", "Gibson", "sci-fi", "u3"),
		rec("b5", "Earthsea", "Le Guin", "fantasy", "u2"),
	)
}

func TestListAllProjectsNames(t *testing.T) {
	books, err := query.NewService(catalog(t)).ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 5)

	assert.Equal(t, query.Book{ID: "b3", Title: "Dune", Author: "Herbert", Genre: "Sci-Fi"}, books[0])
}

func TestListAllCap(t *testing.T) {
	books, err := query.NewService(catalog(t), query.WithListAllCap(2)).ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, books, 2)
}

func TestListByOwner(t *testing.T) {
	svc := query.NewService(catalog(t))

	books, err := svc.ListByOwner(context.Background(), "u1", "u1")
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "b3", books[0].ID)
	assert.Equal(t, "b1", books[1].ID)

	books, err = svc.ListByOwner(context.Background(), "u9", "u9")
	require.NoError(t, err)
	assert.NotNil(t, books)
	assert.Empty(t, books)
}

func TestListByOwnerAuthorization(t *testing.T) {
	svc := query.NewService(catalog(t))

	_, err := svc.ListByOwner(context.Background(), "", "u1")
	assert.ErrorIs(t, err, query.ErrUnauthenticated)

	_, err = svc.ListByOwner(context.Background(), "u2", "u1")
	assert.ErrorIs(t, err, query.ErrForbidden)
}

func TestSearchTitlePrefix(t *testing.T) {
	res, err := query.NewService(catalog(t)).Search(context.Background(), query.SearchParams{Title: "har"})
	require.NoError(t, err)

	require.Len(t, res.Books, 1)
	assert.Equal(t, "b1", res.Books[0].ID)
	assert.Equal(t, query.PageInfo{TotalResults: 1, TotalPages: 1, CurrentPage: 1, Limit: 4}, res.PageInfo)
}

func TestSearchGenreUnion(t *testing.T) {
	res, err := query.NewService(catalog(t)).Search(context.Background(), query.SearchParams{
		Genres: []string{"sci-fi", "fantasy"},
		Limit:  10,
	})
	require.NoError(t, err)

	var ids []string
	for _, b := range res.Books {
		ids = append(ids, b.ID)
	}

	assert.ElementsMatch(t, []string{"b1", "b3", "b4", "b5"}, ids)
	assert.Equal(t, 4, res.PageInfo.TotalResults)
}

func TestSearchFiltersAreConjunctive(t *testing.T) {
	res, err := query.NewService(catalog(t)).Search(context.Background(), query.SearchParams{
		Author: "le",
		Genres: []string{"FAN"},
	})
	require.NoError(t, err)

	require.Len(t, res.Books, 1)
	assert.Equal(t, "b5", res.Books[0].ID)
}

func TestSearchEmptyPageBeyondResults(t *testing.T) {
	res, err := query.NewService(catalog(t)).Search(context.Background(), query.SearchParams{
		Title: "zz",
		Page:  3,
		Limit: 4,
	})
	require.NoError(t, err)

	assert.NotNil(t, res.Books)
	assert.Empty(t, res.Books)
	assert.Equal(t, query.PageInfo{TotalResults: 0, TotalPages: 0, CurrentPage: 3, Limit: 4}, res.PageInfo)
}

func TestSearchHugePageIsEmpty(t *testing.T) {
	res, err := query.NewService(catalog(t)).Search(context.Background(), query.SearchParams{Page: 1 << 62})
	require.NoError(t, err)

	assert.NotNil(t, res.Books)
	assert.Empty(t, res.Books)
	assert.Equal(t, query.PageInfo{TotalResults: 5, TotalPages: 2, CurrentPage: 1 << 62, Limit: 4}, res.PageInfo)
}

func TestSearchDefaultsAndPaging(t *testing.T) {
	svc := query.NewService(catalog(t))

	first, err := svc.Search(context.Background(), query.SearchParams{})
	require.NoError(t, err)
	assert.Len(t, first.Books, 4)
	assert.Equal(t, query.PageInfo{TotalResults: 5, TotalPages: 2, CurrentPage: 1, Limit: 4}, first.PageInfo)

	second, err := svc.Search(context.Background(), query.SearchParams{Page: 2})
	require.NoError(t, err)
	require.Len(t, second.Books, 1)
	assert.Equal(t, "b2", second.Books[0].ID)
}

func TestSearchLimitIsClamped(t *testing.T) {
	res, err := query.NewService(catalog(t), query.WithMaxLimit(3)).Search(context.Background(), query.SearchParams{Limit: 50})
	require.NoError(t, err)

	assert.Len(t, res.Books, 3)
	assert.Equal(t, 3, res.PageInfo.Limit)
	assert.Equal(t, 2, res.PageInfo.TotalPages)
}

func TestSearchRejectsInvalidParams(t *testing.T) {
	svc := query.NewService(catalog(t))

	_, err := svc.Search(context.Background(), query.SearchParams{Page: -1})
	assert.ErrorIs(t, err, query.ErrInvalidParams)

	_, err = svc.Search(context.Background(), query.SearchParams{Limit: -4})
	assert.ErrorIs(t, err, query.ErrInvalidParams)
}

type brokenStore struct {
	store.Store
}

func (brokenStore) Find(context.Context, store.Filter, int, int) ([]common.BookRecord, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Count(context.Context, store.Filter) (int, error) {
	return 0, errors.New("connection refused")
}

func TestStoreFailuresSurface(t *testing.T) {
	svc := query.NewService(brokenStore{})

	_, err := svc.ListAll(context.Background())
	assert.ErrorContains(t, err, "connection refused")

	_, err = svc.ListByOwner(context.Background(), "u1", "u1")
	assert.ErrorContains(t, err, "connection refused")

	_, err = svc.Search(context.Background(), query.SearchParams{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestPaginationCoversEveryMatchOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := memory.New()
		n := rapid.IntRange(0, 30).Draw(t, "books")
		for i := 0; i < n; i++ {
			title := rapid.SampledFrom([]string{"Alpha", "alpine", "Beta", "Gamma"}).Draw(t, "title")
			genre := rapid.SampledFrom([]string{"SciFi", "Fantasy", "Drama"}).Draw(t, "genre")
			if err := s.Insert(context.Background(), rec(fmt.Sprintf("b%02d", i), title, "A", genre, "")); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}

		params := query.SearchParams{
			Title:  rapid.SampledFrom([]string{"", "al", "BETA", "x"}).Draw(t, "title_filter"),
			Genres: rapid.SliceOfN(rapid.SampledFrom([]string{"sci", "fan", "dr"}), 0, 2).Draw(t, "genres"),
			Limit:  rapid.IntRange(1, 7).Draw(t, "limit"),
		}

		svc := query.NewService(s)
		first, err := svc.Search(context.Background(), params)
		if err != nil {
			t.Fatalf("search: %v", err)
		}

		seen := map[string]bool{}
		for page := 1; page <= first.PageInfo.TotalPages; page++ {
			params.Page = page
			res, err := svc.Search(context.Background(), params)
			if err != nil {
				t.Fatalf("search page %d: %v", page, err)
			}

			if page < first.PageInfo.TotalPages && len(res.Books) != params.Limit {
				t.Fatalf("page %d has %d books, want %d", page, len(res.Books), params.Limit)
			}

			for _, b := range res.Books {
				if seen[b.ID] {
					t.Fatalf("%s returned twice", b.ID)
				}
				seen[b.ID] = true
			}
		}

		if len(seen) != first.PageInfo.TotalResults {
			t.Fatalf("pages returned %d books, totalResults is %d", len(seen), first.PageInfo.TotalResults)
		}

		params.Page = first.PageInfo.TotalPages + 1
		beyond, err := svc.Search(context.Background(), params)
		if err != nil {
			t.Fatalf("search beyond: %v", err)
		}
		if len(beyond.Books) != 0 {
			t.Fatalf("page beyond totalPages returned %d books", len(beyond.Books))
		}
	})
}
