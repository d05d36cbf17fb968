package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/store"
)

func book(id, title, author, genre string) common.BookRecord {
	return common.BookRecord{
		BookID: id,
		Title:  title,
		Author: &common.Named{Name: author},
		Genre:  &common.Named{Name: genre},
	}
}

func TestFilterPrefixNotSubstring(t *testing.T) {
	f := store.Filter{TitlePrefix: "Har"}

	assert.True(t, f.Matches(book("1", "Harry Potter", "", "")))
	assert.True(t, f.Matches(book("2", "harry potter", "", "")))
	assert.False(t, f.Matches(book("3", "The Harry", "", "")))
}

func TestFilterGenreAnyOf(t *testing.T) {
	f := store.Filter{GenrePrefixes: []string{"sci-fi", "fantasy"}}

	assert.True(t, f.Matches(book("1", "a", "", "Sci-Fi")))
	assert.True(t, f.Matches(book("2", "b", "", "Fantasy Epic")))
	assert.False(t, f.Matches(book("3", "c", "", "Horror")))
	assert.False(t, f.Matches(common.BookRecord{BookID: "4"}))
}

func TestFilterConjunctive(t *testing.T) {
	f := store.Filter{TitlePrefix: "du", AuthorPrefix: "her", GenrePrefixes: []string{"sci"}, UserID: "u1"}

	rec := book("1", "Dune", "Herbert", "SciFi")
	rec.UserID = "u1"
	assert.True(t, f.Matches(rec))

	rec.UserID = "u2"
	assert.False(t, f.Matches(rec))

	rec.UserID = "u1"
	rec.Author = &common.Named{Name: "Frank"}
	assert.False(t, f.Matches(rec))
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	assert.True(t, store.Filter{}.Matches(common.BookRecord{}))
	assert.True(t, store.Filter{}.Matches(book("1", "", "", "")))
}

func TestPatternCharactersAreLiteral(t *testing.T) {
	assert.False(t, store.Filter{TitlePrefix: ".*"}.Matches(book("1", "Dune", "", "")))
	assert.True(t, store.Filter{TitlePrefix: "100%"}.Matches(book("1", "100% Coverage", "", "")))
}

func TestHasPrefixFoldLowercasesOnly(t *testing.T) {
	assert.True(t, store.HasPrefixFold("STRAßE", "straß"))
	assert.True(t, store.HasPrefixFold("Élan Vital", "éLAN"))
	assert.False(t, store.HasPrefixFold("Strasse", "straß"))
	assert.False(t, store.HasPrefixFold("Straße", "STRASS"))
}

func TestHasPrefixFoldProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.StringMatching(`[a-zA-Z]{0,6}`).Draw(t, "prefix")
		rest := rapid.StringMatching(`[a-zA-Z ]{0,10}`).Draw(t, "rest")

		if !store.HasPrefixFold(prefix+rest, prefix) {
			t.Fatalf("%q should start with %q", prefix+rest, prefix)
		}
		if !store.HasPrefixFold(swapCase(prefix+rest), prefix) {
			t.Fatalf("%q should start with %q ignoring case", swapCase(prefix+rest), prefix)
		}
	})
}

func swapCase(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z':
			out[i] = r - 'a' + 'A'
		case r >= 'A' && r <= 'Z':
			out[i] = r - 'A' + 'a'
		}
	}

	return string(out)
}
