// Package sqldb implements storage.Storage on a relational database through
// sqlx, with queries built by goqu. PostgreSQL (lib/pq or pgx) and SQLite are
// supported.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // goqu dialect
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // goqu dialect
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"                  // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"biblio/internal/storage"
	"biblio/migrations"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"

	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite3"

	// sqliteDriver is go-sqlite3 with the fold() function registered
	sqliteDriver = "sqlite3_biblio"

	defaultMaxOpenConnections = 25
	defaultMaxIdleConnections = 5
	defaultMaxConnLifetime    = time.Hour
	defaultMaxConnIdleTime    = 5 * time.Minute
)

var _ storage.Storage = (*SQLDB)(nil)

func init() {
	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold", fold, true)
		},
	})
	sqlx.BindDriver(sqliteDriver, sqlx.QUESTION)
}

// fold lowercases text with Unicode rules; SQLite's lower() and LIKE only
// fold ASCII. NULL stays NULL.
func fold(v any) any {
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	return nil
}

// SQLDB is the relational storage backend
type SQLDB struct {
	db          *sqlx.DB
	dialect     string
	builder     goqu.DialectWrapper
	logger      *zap.Logger
	autoMigrate bool
	now         func() time.Time
}

// Option configures SQLDB
type Option func(*SQLDB)

// WithLogger sets the logger used for migrations and slow paths
func WithLogger(logger *zap.Logger) Option {
	return func(s *SQLDB) {
		s.logger = logger
	}
}

// WithAutoMigrate makes Initialize apply the embedded migrations
func WithAutoMigrate(enabled bool) Option {
	return func(s *SQLDB) {
		s.autoMigrate = enabled
	}
}

// WithClock overrides the clock used for created_at/updated_at stamps
func WithClock(now func() time.Time) Option {
	return func(s *SQLDB) {
		s.now = now
	}
}

// DialectFor returns the goose/goqu dialect for a database/sql driver name
func DialectFor(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return dialectSQLite, nil
	case DriverPostgres, DriverPGX:
		return dialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// SQLiteDSN returns the go-sqlite3 DSN for a database file with foreign keys
// enforced
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", path)
}

// NewSQLDB opens and pings a database connection
func NewSQLDB(ctx context.Context, driver, dsn string, opts ...Option) (*SQLDB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	if dialect == dialectSQLite {
		driver = sqliteDriver
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == dialectSQLite {
		// SQLite allows a single writer; one connection serializes transactions
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(defaultMaxOpenConnections)
		db.SetMaxIdleConns(defaultMaxIdleConnections)
		db.SetConnMaxLifetime(defaultMaxConnLifetime)
		db.SetConnMaxIdleTime(defaultMaxConnIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", translate(err))
	}

	s := &SQLDB{
		db:      db,
		dialect: dialect,
		builder: goqu.Dialect(dialect),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize applies migrations when auto-migration is enabled
func (s *SQLDB) Initialize(ctx context.Context) error {
	if !s.autoMigrate {
		return nil
	}
	s.logger.Info("Applying database migrations", zap.String("dialect", s.dialect))
	return migrations.Up(ctx, s.db.DB, s.dialect, s.logger)
}

// Ping checks the connection
func (s *SQLDB) Ping(ctx context.Context) error {
	return translate(s.db.PingContext(ctx))
}

// Close closes the database connection
func (s *SQLDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle
func (s *SQLDB) DB() *sql.DB {
	return s.db.DB
}

type txKey struct{}

// RunInTx runs fn inside a transaction carried by the context. Nested calls
// join the outer transaction.
func (s *SQLDB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTxx(ctx, s.txOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translate(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

func (s *SQLDB) txOptions() *sql.TxOptions {
	if s.dialect == dialectSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

// querier returns the transaction bound to ctx, or the pool
func (s *SQLDB) querier(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

func (s *SQLDB) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// get runs a single row select into dest
func (s *SQLDB) get(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build select query: %w", err)
	}
	return translate(sqlx.GetContext(ctx, s.querier(ctx), dest, query, args...))
}

// selectAll runs a multi row select into dest
func (s *SQLDB) selectAll(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build select query: %w", err)
	}
	return translate(sqlx.SelectContext(ctx, s.querier(ctx), dest, query, args...))
}

// insert adds a row and returns its generated id
func (s *SQLDB) insert(ctx context.Context, table string, rec goqu.Record) (int64, error) {
	ds := s.builder.Insert(table).Rows(rec).Prepared(true)

	if s.dialect == dialectPostgres {
		query, args, err := ds.Returning("id").ToSQL()
		if err != nil {
			return 0, fmt.Errorf("failed to build insert query: %w", err)
		}
		var id int64
		if err := sqlx.GetContext(ctx, s.querier(ctx), &id, query, args...); err != nil {
			return 0, translate(err)
		}
		return id, nil
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert query: %w", err)
	}
	res, err := s.querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	return res.LastInsertId()
}

// exec runs an update or delete and returns the affected row count
func (s *SQLDB) exec(ctx context.Context, query string, args []any, buildErr error) (int64, error) {
	if buildErr != nil {
		return 0, fmt.Errorf("failed to build query: %w", buildErr)
	}
	res, err := s.querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected count: %w", err)
	}
	return n, nil
}

func (s *SQLDB) count(ctx context.Context, ds *goqu.SelectDataset) (int, error) {
	var n int
	if err := s.get(ctx, &n, ds.Select(goqu.COUNT(goqu.Star()))); err != nil {
		return 0, err
	}
	return n, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// pattern matches search as a literal substring
func pattern(search string) string {
	return "%" + likeEscaper.Replace(search) + "%"
}

// containsAny matches rows where any of cols contains search, ignoring case
func (s *SQLDB) containsAny(search string, cols ...exp.Expression) exp.Expression {
	p := pattern(search)
	matches := make([]exp.Expression, 0, len(cols))
	for _, col := range cols {
		if s.dialect == dialectSQLite {
			matches = append(matches, goqu.L(`fold(?) LIKE ? ESCAPE '\'`, col, strings.ToLower(p)))
		} else {
			matches = append(matches, goqu.L(`? ILIKE ? ESCAPE '\'`, col, p))
		}
	}
	return goqu.Or(matches...)
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
