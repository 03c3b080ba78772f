package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/library-catalog/cmd/api/book"
)

const bookColumns = "id, title, author, genre, year, pages, available, isbn, description, extra, created_at, updated_at"

var columns = map[book.Field]string{
	book.FieldTitle:     "title",
	book.FieldAuthor:    "author",
	book.FieldGenre:     "genre",
	book.FieldYear:      "year",
	book.FieldAvailable: "available",
	book.FieldISBN:      "isbn",
}

var errSessionClosed = errors.New("session already finished")

// session is one database transaction plus the books staged for writing.
type session struct {
	tx      *sql.Tx
	exc     DBTX
	dialect dialect
	pending []book.Book
	// persisted holds the ids this session has read or written, which are updated rather than inserted.
	persisted map[uuid.UUID]struct{}
	done      bool
}

func newSession(tx *sql.Tx, d dialect) *session {
	return &session{
		tx:        tx,
		exc:       tx,
		dialect:   d,
		persisted: map[uuid.UUID]struct{}{},
	}
}

func (s *session) Add(b book.Book) {
	s.pending = append(s.pending, b)
}

func (s *session) Flush(ctx context.Context) error {
	if s.done {
		return errSessionClosed
	}
	pending := s.pending
	s.pending = nil

	for _, b := range pending {
		var err error
		if _, ok := s.persisted[b.ID]; ok {
			err = s.update(ctx, b)
		} else {
			err = s.insert(ctx, b)
		}
		if err != nil {
			return translateError(err, b)
		}
		s.persisted[b.ID] = struct{}{}
	}
	return nil
}

func (s *session) insert(ctx context.Context, b book.Book) error {
	extra, err := encodeExtra(b.Extra)
	if err != nil {
		return err
	}
	sqlStatement := fmt.Sprintf(`
	INSERT INTO books (%s)
	VALUES (%s)`, bookColumns, s.placeholders(1, 12))
	_, err = s.exc.ExecContext(ctx, sqlStatement, b.ID, b.Title, b.Author, b.Genre, b.Year, b.Pages, b.Available, b.ISBN, b.Description, extra, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storing book on db: %w", err)
	}
	return nil
}

func (s *session) update(ctx context.Context, b book.Book) error {
	extra, err := encodeExtra(b.Extra)
	if err != nil {
		return err
	}
	p := s.dialect.placeholder
	sqlStatement := fmt.Sprintf(`
	UPDATE books
	SET title = %s, author = %s, genre = %s, year = %s, pages = %s, available = %s,
		isbn = %s, description = %s, extra = %s, updated_at = %s
	WHERE id = %s`, p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8), p(9), p(10), p(11))
	result, err := s.exc.ExecContext(ctx, sqlStatement, b.Title, b.Author, b.Genre, b.Year, b.Pages, b.Available, b.ISBN, b.Description, extra, b.UpdatedAt, b.ID)
	if err != nil {
		return fmt.Errorf("updating book on db: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating book on db: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("updating book on db: %w", book.ErrNotFound)
	}
	return nil
}

func (s *session) placeholders(from, to int) string {
	marks := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		marks = append(marks, s.dialect.placeholder(n))
	}
	return strings.Join(marks, ", ")
}

func (s *session) Refresh(ctx context.Context, b *book.Book) error {
	stored, err := s.selectByID(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("refreshing book: %w", err)
	}
	*b = stored
	return nil
}

func (s *session) Get(ctx context.Context, id uuid.UUID) (book.Book, error) {
	if err := s.Flush(ctx); err != nil {
		return book.Book{}, err
	}
	return s.selectByID(ctx, id)
}

func (s *session) selectByID(ctx context.Context, id uuid.UUID) (book.Book, error) {
	if s.done {
		return book.Book{}, errSessionClosed
	}
	sqlStatement := fmt.Sprintf(`SELECT %s
	FROM books
	WHERE id = %s`, bookColumns, s.dialect.placeholder(1))
	b, err := scanBook(s.exc.QueryRowContext(ctx, sqlStatement, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return book.Book{}, book.ErrNotFound
		}
		return book.Book{}, err
	}
	s.persisted[b.ID] = struct{}{}
	return b, nil
}

/* Lists the books matching q, ordered by creation time then id. */
func (s *session) Query(ctx context.Context, q book.Query) ([]book.Book, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}

	where, args, err := s.where(q.Where)
	if err != nil {
		return nil, err
	}
	sqlStatement := fmt.Sprintf("SELECT %s FROM books%s ORDER BY created_at, id", bookColumns, where)
	switch {
	case q.Limit > 0:
		args = append(args, q.Limit)
		sqlStatement += " LIMIT " + s.dialect.placeholder(len(args))
	case q.Offset > 0:
		sqlStatement += " LIMIT " + s.dialect.noLimit
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sqlStatement += " OFFSET " + s.dialect.placeholder(len(args))
	}

	rows, err := s.exc.QueryContext(ctx, sqlStatement, args...)
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}
	defer rows.Close()

	books := []book.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("listing books from db: %w", err)
		}
		s.persisted[b.ID] = struct{}{}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}
	return books, nil
}

func (s *session) Count(ctx context.Context, conds []book.Condition) (int, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}

	where, args, err := s.where(conds)
	if err != nil {
		return 0, err
	}
	var total int
	if err := s.exc.QueryRowContext(ctx, "SELECT COUNT(*) FROM books"+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting books from db: %w", err)
	}
	return total, nil
}

/*
Translates conditions into a WHERE clause and its arguments. Substring
conditions compare lowercased columns against a lowercased, escaped pattern.
*/
func (s *session) where(conds []book.Condition) (string, []any, error) {
	clauses := []string{}
	args := []any{}
	for _, cond := range conds {
		column, ok := columns[cond.Field]
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter field %q", cond.Field)
		}
		switch cond.Op {
		case book.OpContains:
			text, ok := cond.Value.(string)
			if !ok {
				return "", nil, fmt.Errorf("substring filter on non-text field %q", cond.Field)
			}
			args = append(args, "%"+escapeLike(strings.ToLower(text))+"%")
			clauses = append(clauses, fmt.Sprintf(`LOWER(%s) LIKE %s ESCAPE '\'`, column, s.dialect.placeholder(len(args))))
		case book.OpEquals:
			args = append(args, cond.Value)
			clauses = append(clauses, fmt.Sprintf("%s = %s", column, s.dialect.placeholder(len(args))))
		default:
			return "", nil, fmt.Errorf("unsupported filter operator %d", cond.Op)
		}
	}
	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (s *session) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := s.Flush(ctx); err != nil {
		return false, err
	}
	result, err := s.exc.ExecContext(ctx, "DELETE FROM books WHERE id = "+s.dialect.placeholder(1), id)
	if err != nil {
		return false, fmt.Errorf("deleting book from db: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting book from db: %w", err)
	}
	delete(s.persisted, id)
	return affected > 0, nil
}

func (s *session) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.done = true
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", translateError(err, book.Book{}))
	}
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	s.pending = nil
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

func (s *session) Close(ctx context.Context) error {
	if s.done {
		return nil
	}
	return s.Rollback(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (book.Book, error) {
	var b book.Book
	var extra []byte
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Genre, &b.Year, &b.Pages, &b.Available, &b.ISBN, &b.Description, &extra, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return book.Book{}, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &b.Extra); err != nil {
			return book.Book{}, fmt.Errorf("decoding extra of book %s: %w", b.ID, err)
		}
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func encodeExtra(extra map[string]any) (any, error) {
	if extra == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encoding extra: %w", err)
	}
	return string(encoded), nil
}
