package sqldb

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"biblio/internal/storage"
)

const (
	activeLoanIndex = "loans_one_active_per_book"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translate maps driver errors onto the storage error set, keeping the cause
// in the message
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if mapped := fromPostgres(pgErr.Code, pgErr.ConstraintName); mapped != nil {
			return fmt.Errorf("%w: %v", mapped, err)
		}
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if mapped := fromPostgres(string(pqErr.Code), pqErr.Constraint); mapped != nil {
			return fmt.Errorf("%w: %v", mapped, err)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if mapped := fromSQLite(liteErr); mapped != nil {
			return fmt.Errorf("%w: %v", mapped, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return err
}

func fromPostgres(code, constraint string) error {
	switch {
	case code == pgUniqueViolation && constraint == activeLoanIndex:
		return storage.ErrActiveLoanExists
	case code == pgUniqueViolation:
		return storage.ErrDuplicate
	case code == pgForeignKeyViolation:
		return storage.ErrReferenced
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P03":
		// connection exceptions, admin shutdown, cannot connect now
		return storage.ErrUnavailable
	}
	return nil
}

func fromSQLite(err sqlite3.Error) error {
	switch err.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		if strings.Contains(err.Error(), "loans.book_id") {
			return storage.ErrActiveLoanExists
		}
		return storage.ErrDuplicate
	case sqlite3.ErrConstraintForeignKey:
		return storage.ErrReferenced
	}
	switch err.Code {
	case sqlite3.ErrCantOpen, sqlite3.ErrBusy, sqlite3.ErrLocked:
		return storage.ErrUnavailable
	}
	return nil
}
