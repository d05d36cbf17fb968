// Package applier projects catalog events onto the store.
//
// Every transition is safe to repeat: the broker delivers at least once and
// may hand a redelivery to another instance while the first is still running.
package applier

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/store"
)

type Result byte

const (
	ResultApplied = Result(iota)
	ResultNotFound
	ResultUnrecognized
	ResultAlreadyExists
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultNotFound:
		return "not_found"
	case ResultUnrecognized:
		return "unrecognized"
	case ResultAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

var (
	// ErrData marks failures that redelivery cannot fix.
	ErrData = errors.New("invalid event data")
	// ErrTransient marks environmental failures worth a redelivery.
	ErrTransient = errors.New("transient store failure")
)

func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

type Applier struct {
	store store.Store
}

func New(s store.Store) *Applier {
	return &Applier{store: s}
}

func (a *Applier) Apply(ctx context.Context, event common.CatalogEvent) (Result, error) {
	switch e := event.(type) {
	case common.BookCreated:
		return a.create(ctx, e)
	case common.BookUpdated:
		return a.update(ctx, e)
	case common.BookDeleted:
		return a.delete(ctx, e)
	case common.UnknownEvent:
		return ResultUnrecognized, nil
	case nil:
		return ResultUnrecognized, errors.Mark(errors.New("nil event"), ErrData)
	default:
		return ResultUnrecognized, nil
	}
}

// create inserts only when the book is absent. A present book is left as is.
func (a *Applier) create(ctx context.Context, e common.BookCreated) (Result, error) {
	if err := requireID(e); err != nil {
		return ResultApplied, err
	}

	_, err := a.store.FindOne(ctx, e.Book.BookID)
	switch {
	case err == nil:
		return ResultAlreadyExists, nil
	case !errors.Is(err, store.ErrNotFound):
		return ResultApplied, transient(err, "find book %s", e.Book.BookID)
	}

	if err = a.store.Insert(ctx, e.Book); err != nil {
		// another consumer won the race
		if errors.Is(err, store.ErrDuplicate) {
			return ResultAlreadyExists, nil
		}

		return ResultApplied, transient(err, "insert book %s", e.Book.BookID)
	}

	return ResultApplied, nil
}

func (a *Applier) update(ctx context.Context, e common.BookUpdated) (Result, error) {
	if err := requireID(e); err != nil {
		return ResultApplied, err
	}

	matched, err := a.store.UpdateFields(ctx, e.BookID, e.Changes)
	if err != nil {
		return ResultApplied, transient(err, "update book %s", e.BookID)
	}

	if !matched {
		return ResultNotFound, nil
	}

	return ResultApplied, nil
}

func (a *Applier) delete(ctx context.Context, e common.BookDeleted) (Result, error) {
	if err := requireID(e); err != nil {
		return ResultApplied, err
	}

	deleted, err := a.store.Delete(ctx, e.BookID)
	if err != nil {
		return ResultApplied, transient(err, "delete book %s", e.BookID)
	}

	if !deleted {
		return ResultNotFound, nil
	}

	return ResultApplied, nil
}

func requireID(event common.CatalogEvent) error {
	if event.ID() == "" {
		return errors.Mark(errors.Newf("%s without book_id", event.Type()), ErrData)
	}

	return nil
}

func transient(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrTransient)
}
