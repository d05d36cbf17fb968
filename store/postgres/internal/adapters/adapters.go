// Package adapters lets the postgres store run the same goqu-built SQL on a
// pgx pool or on a sqlx handle.
package adapters

import "context"

type DBAdapter interface {
	Query(ctx context.Context, query string, args ...any) (DBRows, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}
