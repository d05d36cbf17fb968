package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/store"
)

// Store keeps the projection in process memory.
type Store struct {
	mut   sync.RWMutex
	books map[string]common.BookRecord
}

func New() *Store {
	return &Store{
		books: map[string]common.BookRecord{},
	}
}

func (s *Store) FindOne(_ context.Context, bookID string) (*common.BookRecord, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	rec, ok := s.books[bookID]
	if !ok {
		return nil, store.ErrNotFound
	}

	return &rec, nil
}

func (s *Store) Insert(_ context.Context, record common.BookRecord) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if _, ok := s.books[record.BookID]; ok {
		return store.ErrDuplicate
	}

	s.books[record.BookID] = record

	return nil
}

func (s *Store) UpdateFields(_ context.Context, bookID string, patch common.BookPatch) (bool, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	rec, ok := s.books[bookID]
	if !ok {
		return false, nil
	}

	s.books[bookID] = patch.ApplyTo(rec)

	return true, nil
}

func (s *Store) Delete(_ context.Context, bookID string) (bool, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	if _, ok := s.books[bookID]; !ok {
		return false, nil
	}

	delete(s.books, bookID)

	return true, nil
}

func (s *Store) Find(_ context.Context, filter store.Filter, skip int, limit int) ([]common.BookRecord, error) {
	matched := s.matching(filter)

	if skip >= len(matched) {
		return []common.BookRecord{}, nil
	}

	matched = matched[skip:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return matched, nil
}

func (s *Store) Count(_ context.Context, filter store.Filter) (int, error) {
	return len(s.matching(filter)), nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mut.RLock()
	defer s.mut.RUnlock()

	return len(s.books)
}

func (s *Store) matching(filter store.Filter) []common.BookRecord {
	s.mut.RLock()
	defer s.mut.RUnlock()

	var out []common.BookRecord
	for _, rec := range s.books {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return store.Less(out[i], out[j])
	})

	return out
}
