package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/library-catalog/cmd/api/book"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pgUniqueViolation = "23505"

// translateError turns a unique violation on the isbn column into a *book.ConflictError.
func translateError(err error, b book.Book) error {
	if err == nil || !isISBNViolation(err) {
		return err
	}
	value := ""
	if b.ISBN != nil {
		value = *b.ISBN
	}
	return &book.ConflictError{Field: "isbn", Value: value}
}

func isISBNViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation && strings.Contains(pqErr.Constraint, "isbn")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && strings.Contains(pgErr.ConstraintName, "isbn")
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE && strings.Contains(sqliteErr.Error(), "books.isbn")
	}
	return false
}
