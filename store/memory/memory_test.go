package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/store"
	"github.com/skynet2/catalogsync/store/memory"
)

func TestInsertFindDelete(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Insert(ctx, common.BookRecord{BookID: "b1", Title: "Dune"}))
	assert.ErrorIs(t, s.Insert(ctx, common.BookRecord{BookID: "b1", Title: "Other"}), store.ErrDuplicate)

	rec, err := s.FindOne(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", rec.Title)

	deleted, err := s.Delete(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.FindOne(ctx, "b1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateFieldsIsPartial(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Insert(ctx, common.BookRecord{
		BookID: "b1",
		Title:  "Dune",
		Author: &common.Named{Name: "Herbert"},
		Genre:  &common.Named{Name: "SciFi"},
	}))

	title := "Dune Messiah"
	ok, err := s.UpdateFields(ctx, "b1", common.BookPatch{Title: &title})
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := s.FindOne(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", rec.Title)
	assert.Equal(t, "Herbert", rec.AuthorName())
	assert.Equal(t, "SciFi", rec.GenreName())

	ok, err = s.UpdateFields(ctx, "missing", common.BookPatch{Title: &title})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindOrdersAndPages(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	for _, rec := range []common.BookRecord{
		{BookID: "3", Title: "C"},
		{BookID: "1", Title: "A"},
		{BookID: "2", Title: "B"},
		{BookID: "0", Title: "B"},
	} {
		require.NoError(t, s.Insert(ctx, rec))
	}

	all, err := s.Find(ctx, store.Filter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"1", "0", "2", "3"}, ids(all))

	page, err := s.Find(ctx, store.Filter{}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "2"}, ids(page))

	empty, err := s.Find(ctx, store.Filter{}, 10, 2)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	count, err := s.Count(ctx, store.Filter{TitlePrefix: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFindReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Insert(ctx, common.BookRecord{BookID: "b1", Title: "Dune"}))

	rec, err := s.FindOne(ctx, "b1")
	require.NoError(t, err)
	rec.Title = "changed"

	again, err := s.FindOne(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", again.Title)
}

func ids(recs []common.BookRecord) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.BookID)
	}

	return out
}
