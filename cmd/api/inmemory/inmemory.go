package inmemory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/library-catalog/cmd/api/book"
)

const bookTable = "book"

var errSessionClosed = errors.New("session already finished")

// InMemoryStore keeps the catalog in a go-memdb database. memdb admits a single
// writer at a time, so sessions are serialized through the writer slot, which
// a waiting caller can give up on.
type InMemoryStore struct {
	db     *memdb.MemDB
	writer chan struct{}
}

func NewInMemoryStore() (*InMemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			bookTable: {
				Name: bookTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"isbn": {
						Name:         "isbn",
						Unique:       true,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "ISBN"},
					},
				},
			},
		},
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("validating in-memory schema: %w", err)
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return &InMemoryStore{db: db, writer: make(chan struct{}, 1)}, nil
}

func (store *InMemoryStore) Begin(ctx context.Context) (book.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("beginning session: %w", err)
	}
	select {
	case store.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for the writer: %w", ctx.Err())
	}
	return &session{txn: store.db.Txn(true), release: sync.OnceFunc(func() { <-store.writer })}, nil
}

func (store *InMemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type AdaptedBook struct {
	ID          string
	Title       string
	Author      string
	Genre       string
	Year        int
	Pages       int
	Available   bool
	ISBN        string
	Description *string
	Extra       map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func adaptBookIdToString(b book.Book) AdaptedBook {
	isbn := ""
	if b.ISBN != nil {
		isbn = *b.ISBN
	}
	return AdaptedBook{
		ID:          b.ID.String(),
		Title:       b.Title,
		Author:      b.Author,
		Genre:       b.Genre,
		Year:        b.Year,
		Pages:       b.Pages,
		Available:   b.Available,
		ISBN:        isbn,
		Description: b.Description,
		Extra:       maps.Clone(b.Extra),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func adaptBookIdToUUID(adptBook AdaptedBook) book.Book {
	var isbn *string
	if adptBook.ISBN != "" {
		value := adptBook.ISBN
		isbn = &value
	}
	return book.Book{
		ID:          uuid.MustParse(adptBook.ID),
		Title:       adptBook.Title,
		Author:      adptBook.Author,
		Genre:       adptBook.Genre,
		Year:        adptBook.Year,
		Pages:       adptBook.Pages,
		Available:   adptBook.Available,
		ISBN:        isbn,
		Description: adptBook.Description,
		Extra:       maps.Clone(adptBook.Extra),
		CreatedAt:   adptBook.CreatedAt,
		UpdatedAt:   adptBook.UpdatedAt,
	}
}

type session struct {
	txn     *memdb.Txn
	release func()
	pending []book.Book
	done    bool
}

func (s *session) Add(b book.Book) {
	s.pending = append(s.pending, b)
}

/* Writes the pending books into the transaction, checking the isbn index by hand since memdb does not reject duplicates. */
func (s *session) Flush(ctx context.Context) error {
	if s.done {
		return errSessionClosed
	}
	pending := s.pending
	s.pending = nil

	for _, b := range pending {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flushing book: %w", err)
		}
		if b.ISBN != nil && *b.ISBN != "" {
			raw, err := s.txn.First(bookTable, "isbn", *b.ISBN)
			if err != nil {
				return fmt.Errorf("checking isbn: %w", err)
			}
			if raw != nil && raw.(AdaptedBook).ID != b.ID.String() {
				return &book.ConflictError{Field: "isbn", Value: *b.ISBN}
			}
		}
		if err := s.txn.Insert(bookTable, adaptBookIdToString(b)); err != nil {
			return fmt.Errorf("storing book on db: %w", err)
		}
	}
	return nil
}

func (s *session) Refresh(ctx context.Context, b *book.Book) error {
	stored, err := s.first(b.ID)
	if err != nil {
		return fmt.Errorf("refreshing book: %w", err)
	}
	*b = stored
	return nil
}

func (s *session) first(id uuid.UUID) (book.Book, error) {
	if s.done {
		return book.Book{}, errSessionClosed
	}
	raw, err := s.txn.First(bookTable, "id", id.String())
	if err != nil {
		return book.Book{}, err
	}
	if raw == nil {
		return book.Book{}, book.ErrNotFound
	}
	return adaptBookIdToUUID(raw.(AdaptedBook)), nil
}

func (s *session) Get(ctx context.Context, id uuid.UUID) (book.Book, error) {
	if err := s.Flush(ctx); err != nil {
		return book.Book{}, err
	}
	return s.first(id)
}

func (s *session) Query(ctx context.Context, q book.Query) ([]book.Book, error) {
	books, err := s.matching(ctx, q.Where)
	if err != nil {
		return nil, err
	}

	start := min(q.Offset, len(books))
	end := len(books)
	if q.Limit > 0 {
		end = min(start+q.Limit, len(books))
	}
	return books[start:end], nil
}

func (s *session) Count(ctx context.Context, where []book.Condition) (int, error) {
	books, err := s.matching(ctx, where)
	if err != nil {
		return 0, err
	}
	return len(books), nil
}

// matching returns every stored book satisfying all conditions, ordered by creation time then id.
func (s *session) matching(ctx context.Context, where []book.Condition) ([]book.Book, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}

	it, err := s.txn.Get(bookTable, "id")
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}

	books := []book.Book{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		b := obj.(AdaptedBook)
		ok, err := matches(b, where)
		if err != nil {
			return nil, err
		}
		if ok {
			books = append(books, adaptBookIdToUUID(b))
		}
	}

	sort.SliceStable(books, func(i, j int) bool {
		if !books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].CreatedAt.Before(books[j].CreatedAt)
		}
		return books[i].ID.String() < books[j].ID.String()
	})
	return books, nil
}

func matches(b AdaptedBook, where []book.Condition) (bool, error) {
	for _, cond := range where {
		var field any
		switch cond.Field {
		case book.FieldTitle:
			field = b.Title
		case book.FieldAuthor:
			field = b.Author
		case book.FieldGenre:
			field = b.Genre
		case book.FieldYear:
			field = b.Year
		case book.FieldAvailable:
			field = b.Available
		case book.FieldISBN:
			field = b.ISBN
		default:
			return false, fmt.Errorf("unsupported filter field %q", cond.Field)
		}

		switch cond.Op {
		case book.OpContains:
			text, ok := field.(string)
			needle, okNeedle := cond.Value.(string)
			if !ok || !okNeedle {
				return false, fmt.Errorf("substring filter on non-text field %q", cond.Field)
			}
			if !strings.Contains(strings.ToLower(text), strings.ToLower(needle)) {
				return false, nil
			}
		case book.OpEquals:
			if field != cond.Value {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported filter operator %d", cond.Op)
		}
	}
	return true, nil
}

func (s *session) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := s.Flush(ctx); err != nil {
		return false, err
	}
	raw, err := s.txn.First(bookTable, "id", id.String())
	if err != nil {
		return false, fmt.Errorf("deleting book from db: %w", err)
	}
	if raw == nil {
		return false, nil
	}
	if err := s.txn.Delete(bookTable, raw); err != nil {
		return false, fmt.Errorf("deleting book from db: %w", err)
	}
	return true, nil
}

func (s *session) Commit(ctx context.Context) error {
	if s.done {
		return errSessionClosed
	}
	if err := s.Flush(ctx); err != nil {
		s.endTX()
		return err
	}
	if err := ctx.Err(); err != nil {
		s.endTX()
		return fmt.Errorf("committing: %w", err)
	}
	s.txn.Commit()
	s.done = true
	s.release()
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	if s.done {
		return errSessionClosed
	}
	s.endTX()
	return nil
}

func (s *session) Close(ctx context.Context) error {
	if !s.done {
		s.endTX()
	}
	return nil
}

func (s *session) endTX() {
	s.pending = nil
	s.txn.Abort()
	s.done = true
	s.release()
}
