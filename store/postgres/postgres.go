// Package postgres is a store.Store backed by a single Postgres table.
//
// Queries are built with goqu in prepared mode and executed through an adapter,
// so the same store runs on a pgx pool or on a sqlx handle.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/store"
	"github.com/skynet2/catalogsync/store/postgres/internal/adapters"
)

const (
	defaultTableName = "books"
	dialectPostgres  = "postgres"

	colBookID     = "book_id"
	colTitle      = "title"
	colAuthorName = "author_name"
	colGenreName  = "genre_name"
	colUserID     = "user_id"
	colCreatedAt  = "created_at"
	colUpdatedAt  = "updated_at"
	aliasCount    = "total"
)

var (
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrEmptyTableName        = errors.New("table name must not be empty")
)

type Store struct {
	db        adapters.DBAdapter
	tableName string
	logger    zerolog.Logger
}

type Option func(*Store) error

func WithTableName(tableName string) Option {
	return func(s *Store) error {
		if tableName == "" {
			return ErrEmptyTableName
		}

		s.tableName = tableName

		return nil
	}
}

// WithLogger sets the logger; executed SQL is logged at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

func NewStoreFromPGXPool(pool *pgxpool.Pool, options ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapter(pool), options...)
}

func NewStoreFromSQLX(db *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXAdapter(db), options...)
}

func newStore(db adapters.DBAdapter, options ...Option) (*Store, error) {
	s := &Store{
		db:        db,
		tableName: defaultTableName,
		logger:    log.Logger,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// EnsureSchema creates the projection table and its owner index if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	table := quoteIdent(s.tableName)

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s text PRIMARY KEY,
	%s text NOT NULL DEFAULT '',
	%s text,
	%s text,
	%s text,
	%s timestamptz,
	%s timestamptz
)`, table, colBookID, colTitle, colAuthorName, colGenreName, colUserID, colCreatedAt, colUpdatedAt),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
			quoteIdent(s.tableName+"_user_id_idx"), table, colUserID),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}

	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *Store) FindOne(ctx context.Context, bookID string) (*common.BookRecord, error) {
	query, args, err := s.buildFindOneQuery(bookID)
	if err != nil {
		return nil, err
	}

	records, err := s.query(ctx, query, args)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, store.ErrNotFound
	}

	return &records[0], nil
}

func (s *Store) Insert(ctx context.Context, record common.BookRecord) error {
	query, args, err := s.buildInsertQuery(record)
	if err != nil {
		return err
	}

	affected, err := s.exec(ctx, query, args)
	if err != nil {
		return err
	}

	if affected == 0 {
		return store.ErrDuplicate
	}

	return nil
}

func (s *Store) UpdateFields(ctx context.Context, bookID string, patch common.BookPatch) (bool, error) {
	if patch.IsEmpty() {
		_, err := s.FindOne(ctx, bookID)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}

		return err == nil, err
	}

	query, args, err := s.buildUpdateQuery(bookID, patch)
	if err != nil {
		return false, err
	}

	affected, err := s.exec(ctx, query, args)
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (s *Store) Delete(ctx context.Context, bookID string) (bool, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		Delete(s.tableName).
		Where(goqu.C(colBookID).Eq(bookID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, errors.Wrap(err, "build delete query")
	}

	affected, err := s.exec(ctx, query, args)
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (s *Store) Find(ctx context.Context, filter store.Filter, skip int, limit int) ([]common.BookRecord, error) {
	query, args, err := s.buildFindQuery(filter, skip, limit)
	if err != nil {
		return nil, err
	}

	records, err := s.query(ctx, query, args)
	if err != nil {
		return nil, err
	}

	if records == nil {
		records = []common.BookRecord{}
	}

	return records, nil
}

func (s *Store) Count(ctx context.Context, filter store.Filter) (int, error) {
	query, args, err := s.buildCountQuery(filter)
	if err != nil {
		return 0, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "count books")
	}
	defer func() {
		_ = rows.Close()
	}()

	var total int64
	if rows.Next() {
		if err = rows.Scan(&total); err != nil {
			return 0, errors.Wrap(err, "scan count")
		}
	}

	if err = rows.Err(); err != nil {
		return 0, errors.Wrap(err, "count books")
	}

	return int(total), nil
}

func (s *Store) selectColumns() []any {
	return []any{colBookID, colTitle, colAuthorName, colGenreName, colUserID, colCreatedAt, colUpdatedAt}
}

func (s *Store) buildFindOneQuery(bookID string) (string, []any, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		From(s.tableName).
		Select(s.selectColumns()...).
		Where(goqu.C(colBookID).Eq(bookID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, errors.Wrap(err, "build find one query")
	}

	return query, args, nil
}

func (s *Store) buildInsertQuery(record common.BookRecord) (string, []any, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		Insert(s.tableName).
		Rows(goqu.Record{
			colBookID:     record.BookID,
			colTitle:      record.Title,
			colAuthorName: nullableName(record.Author),
			colGenreName:  nullableName(record.Genre),
			colUserID:     nullableString(record.UserID),
			colCreatedAt:  nullableTime(record.CreatedAt),
			colUpdatedAt:  nullableTime(record.UpdatedAt),
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, errors.Wrap(err, "build insert query")
	}

	return query, args, nil
}

func (s *Store) buildUpdateQuery(bookID string, patch common.BookPatch) (string, []any, error) {
	set := goqu.Record{}

	if patch.Title != nil {
		set[colTitle] = *patch.Title
	}
	if patch.Author != nil {
		set[colAuthorName] = patch.Author.Name
	}
	if patch.Genre != nil {
		set[colGenreName] = patch.Genre.Name
	}
	if patch.UserID != nil {
		set[colUserID] = nullableString(*patch.UserID)
	}
	if patch.CreatedAt != nil {
		set[colCreatedAt] = *patch.CreatedAt
	}
	if patch.UpdatedAt != nil {
		set[colUpdatedAt] = *patch.UpdatedAt
	}

	query, args, err := goqu.Dialect(dialectPostgres).
		Update(s.tableName).
		Set(set).
		Where(goqu.C(colBookID).Eq(bookID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, errors.Wrap(err, "build update query")
	}

	return query, args, nil
}

func (s *Store) buildFindQuery(filter store.Filter, skip int, limit int) (string, []any, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(s.tableName).
		Select(s.selectColumns()...).
		Order(
			goqu.L(`? COLLATE "C"`, goqu.C(colTitle)).Asc(),
			goqu.C(colBookID).Asc(),
		)

	stmt = addWhereClause(filter, stmt)

	if skip > 0 {
		stmt = stmt.Offset(uint(skip))
	}
	if limit > 0 {
		stmt = stmt.Limit(uint(limit))
	}

	query, args, err := stmt.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, errors.Wrap(err, "build find query")
	}

	return query, args, nil
}

func (s *Store) buildCountQuery(filter store.Filter) (string, []any, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(s.tableName).
		Select(goqu.COUNT(goqu.Star()).As(aliasCount))

	query, args, err := addWhereClause(filter, stmt).Prepared(true).ToSQL()
	if err != nil {
		return "", nil, errors.Wrap(err, "build count query")
	}

	return query, args, nil
}

func addWhereClause(filter store.Filter, stmt *goqu.SelectDataset) *goqu.SelectDataset {
	expressions := make([]exp.Expression, 0, 4)

	if filter.UserID != "" {
		expressions = append(expressions, goqu.C(colUserID).Eq(filter.UserID))
	}

	if filter.TitlePrefix != "" {
		expressions = append(expressions, goqu.C(colTitle).ILike(likePrefix(filter.TitlePrefix)))
	}

	if filter.AuthorPrefix != "" {
		expressions = append(expressions, goqu.C(colAuthorName).ILike(likePrefix(filter.AuthorPrefix)))
	}

	if len(filter.GenrePrefixes) > 0 {
		genres := make([]exp.Expression, 0, len(filter.GenrePrefixes))
		for _, genre := range filter.GenrePrefixes {
			genres = append(genres, goqu.C(colGenreName).ILike(likePrefix(genre)))
		}

		expressions = append(expressions, goqu.Or(genres...))
	}

	if len(expressions) == 0 {
		return stmt
	}

	return stmt.Where(goqu.And(expressions...))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix turns literal user text into an ILIKE prefix pattern.
func likePrefix(text string) string {
	return likeEscaper.Replace(text) + "%"
}

func (s *Store) query(ctx context.Context, query string, args []any) ([]common.BookRecord, error) {
	s.logger.Debug().Str("query", query).Msg("executing sql")

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query books")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn().Err(closeErr).Msg("failed to close rows")
		}
	}()

	var records []common.BookRecord
	for rows.Next() {
		var (
			rec       common.BookRecord
			author    *string
			genre     *string
			userID    *string
			createdAt *time.Time
			updatedAt *time.Time
		)

		if err = rows.Scan(&rec.BookID, &rec.Title, &author, &genre, &userID, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scan book row")
		}

		if author != nil {
			rec.Author = &common.Named{Name: *author}
		}
		if genre != nil {
			rec.Genre = &common.Named{Name: *genre}
		}
		if userID != nil {
			rec.UserID = *userID
		}
		rec.CreatedAt = createdAt
		rec.UpdatedAt = updatedAt

		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate book rows")
	}

	return records, nil
}

func (s *Store) exec(ctx context.Context, query string, args []any) (int64, error) {
	s.logger.Debug().Str("query", query).Msg("executing sql")

	affected, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "exec books statement")
	}

	return affected, nil
}

func nullableName(n *common.Named) any {
	if n == nil {
		return nil
	}

	return n.Name
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}

	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}
