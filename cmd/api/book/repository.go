package book

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/session.go -package=bookmock github.com/library-catalog/cmd/api/book Session,Store

// Session is a storage transaction with a set of pending, not yet written, changes.
// Reads flush pending changes first so they observe the scope's own writes.
type Session interface {
	// Add stages b for writing. A book the session has not seen before is inserted, a known one is updated.
	Add(b Book)
	Flush(ctx context.Context) error
	// Refresh reloads b from storage by its ID.
	Refresh(ctx context.Context, b *Book) error
	Get(ctx context.Context, id uuid.UUID) (Book, error)
	Query(ctx context.Context, q Query) ([]Book, error)
	Count(ctx context.Context, where []Condition) (int, error)
	// Delete removes the book with id and reports whether one existed.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Close releases the session, rolling back anything not committed. Safe to call more than once.
	Close(ctx context.Context) error
}

// Store hands out fresh sessions.
type Store interface {
	Begin(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
}

// Repository performs book persistence against the session of a single scope.
type Repository struct {
	session Session
	guard   func(op string) error
	now     func() time.Time
}

// NewRepository binds a repository to session. guard is consulted before every
// operation and returns an error once the owning scope is finalized.
func NewRepository(session Session, guard func(op string) error) *Repository {
	if guard == nil {
		guard = func(string) error { return nil }
	}
	return &Repository{
		session: session,
		guard:   guard,
		now: func() time.Time {
			return time.Now().UTC().Round(time.Millisecond)
		},
	}
}

func (r *Repository) Create(ctx context.Context, fields Fields) (Book, error) {
	if err := r.guard("create"); err != nil {
		return Book{}, err
	}
	if err := fields.Validate(); err != nil {
		return Book{}, err
	}

	newBook := fields.toBook(uuid.New(), r.now())
	r.session.Add(newBook)
	if err := r.session.Flush(ctx); err != nil {
		return Book{}, fmt.Errorf("creating book: %w", err)
	}
	if err := r.session.Refresh(ctx, &newBook); err != nil {
		return Book{}, fmt.Errorf("creating book: %w", err)
	}
	return newBook, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Book, error) {
	if err := r.guard("get"); err != nil {
		return Book{}, err
	}
	b, err := r.session.Get(ctx, id)
	if err != nil {
		return Book{}, fmt.Errorf("searching by ID: %w", err)
	}
	return b, nil
}

/*
Applies the provided fields of patch to the stored book and bumps UpdatedAt.
A patch without any field set returns the stored book unchanged.
*/
func (r *Repository) Update(ctx context.Context, id uuid.UUID, patch Patch) (Book, error) {
	if err := r.guard("update"); err != nil {
		return Book{}, err
	}
	if err := patch.Validate(); err != nil {
		return Book{}, err
	}

	b, err := r.session.Get(ctx, id)
	if err != nil {
		return Book{}, fmt.Errorf("updating book: %w", err)
	}
	if !patch.apply(&b) {
		return b, nil
	}

	b.UpdatedAt = r.now()
	if b.UpdatedAt.Before(b.CreatedAt) {
		b.UpdatedAt = b.CreatedAt
	}
	r.session.Add(b)
	if err := r.session.Flush(ctx); err != nil {
		return Book{}, fmt.Errorf("updating book: %w", err)
	}
	if err := r.session.Refresh(ctx, &b); err != nil {
		return Book{}, fmt.Errorf("updating book: %w", err)
	}
	return b, nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := r.guard("delete"); err != nil {
		return false, err
	}
	deleted, err := r.session.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("deleting book: %w", err)
	}
	return deleted, nil
}

func (r *Repository) ListPaged(ctx context.Context, page Pagination) ([]Book, error) {
	return r.FindByFilters(ctx, Filter{}, page)
}

func (r *Repository) FindByFilters(ctx context.Context, filter Filter, page Pagination) ([]Book, error) {
	if err := r.guard("list"); err != nil {
		return nil, err
	}
	page, err := page.normalize()
	if err != nil {
		return nil, err
	}

	books, err := r.session.Query(ctx, Query{Where: filter.Conditions(), Limit: page.Limit, Offset: page.Offset})
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	return books, nil
}

func (r *Repository) CountByFilters(ctx context.Context, filter Filter) (int, error) {
	if err := r.guard("count"); err != nil {
		return 0, err
	}
	total, err := r.session.Count(ctx, filter.Conditions())
	if err != nil {
		return 0, fmt.Errorf("counting books: %w", err)
	}
	return total, nil
}

func (r *Repository) FindByISBN(ctx context.Context, isbn string) (Book, error) {
	if err := r.guard("get"); err != nil {
		return Book{}, err
	}
	books, err := r.session.Query(ctx, Query{
		Where: []Condition{{Field: FieldISBN, Op: OpEquals, Value: isbn}},
		Limit: 1,
	})
	if err != nil {
		return Book{}, fmt.Errorf("searching by ISBN: %w", err)
	}
	if len(books) == 0 {
		return Book{}, fmt.Errorf("searching by ISBN: %w", ErrNotFound)
	}
	return books[0], nil
}
