package book

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

//go:generate mockgen -destination=mocks/gateway.go -package=bookmock github.com/library-catalog/cmd/api/book MetadataGateway,Notifier

// UnitOfWork opens transactional scopes. Each scope owns one storage session.
type UnitOfWork interface {
	Open(ctx context.Context) (Scope, error)
}

// Scope is one transaction. Exactly one of Commit or Rollback takes effect;
// Close releases the session and rolls back when neither happened.
type Scope interface {
	Books() *Repository
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context)
}

// MetadataGateway looks up extra information about a book. It never fails:
// ok is false when nothing could be found or the provider was unreachable.
type MetadataGateway interface {
	Enrich(ctx context.Context, title, author, isbn string) (extra map[string]any, ok bool)
}

// Notifier announces catalog changes once they are committed.
type Notifier interface {
	BookCreated(ctx context.Context, b Book) error
}

/*
Runs fn inside a fresh scope of u and commits when fn returns without error.
An error or a panic in fn rolls the scope back; the panic keeps propagating.
*/
func InScope[T any](ctx context.Context, u UnitOfWork, fn func(ctx context.Context, books *Repository) (T, error)) (T, error) {
	var zero T
	scope, err := u.Open(ctx)
	if err != nil {
		return zero, err
	}
	defer scope.Close(ctx)

	result, err := fn(ctx, scope.Books())
	if err != nil {
		return zero, err
	}
	if err := scope.Commit(ctx); err != nil {
		return zero, err
	}
	return result, nil
}

// DefaultCommitReserve is the part of a create's deadline kept back from
// enrichment for the update and the commit that follow it.
const DefaultCommitReserve = 500 * time.Millisecond

type Service struct {
	uow      UnitOfWork
	gateway  MetadataGateway
	notifier Notifier
	reserve  time.Duration
	log      zerolog.Logger
}

type ServiceOption func(*Service)

// WithCommitReserve changes how much of the caller's deadline enrichment leaves unused.
func WithCommitReserve(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.reserve = d
	}
}

// WithNotifier publishes every created book through n after its scope commits.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		s.notifier = n
	}
}

// NewService builds the catalog service. gateway may be nil, which disables enrichment.
func NewService(uow UnitOfWork, gateway MetadataGateway, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		uow:     uow,
		gateway: gateway,
		reserve: DefaultCommitReserve,
		log:     logger.With().Str("component", "catalog").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

/*
Stores a new book and, within the same scope, attaches whatever the metadata
gateway can find about it. Neither enrichment nor the creation notice can make
the creation fail: enrichment only gets the caller's deadline minus the commit
reserve, so a provider that never answers still leaves time to commit.
*/
func (s *Service) Create(ctx context.Context, fields Fields) (Book, error) {
	created, err := InScope(ctx, s.uow, func(ctx context.Context, books *Repository) (Book, error) {
		created, err := books.Create(ctx, fields)
		if err != nil {
			return Book{}, err
		}

		extra, ok := s.enrich(ctx, created)
		if !ok {
			return created, nil
		}
		return books.Update(ctx, created.ID, Patch{Extra: extra})
	})
	if err != nil {
		return Book{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.BookCreated(ctx, created); err != nil {
			s.log.Warn().Err(err).Str("book_id", created.ID.String()).Msg("notifying book creation")
		}
	}
	return created, nil
}

func (s *Service) enrich(ctx context.Context, b Book) (map[string]any, bool) {
	if s.gateway == nil {
		return nil, false
	}
	isbn := ""
	if b.ISBN != nil {
		isbn = *b.ISBN
	}

	ctx, cancel, ok := s.enrichmentBudget(ctx)
	if !ok {
		s.log.Warn().Str("book_id", b.ID.String()).Msg("no time left to enrich book")
		return nil, false
	}
	defer cancel()

	found, ok := s.gateway.Enrich(ctx, b.Title, b.Author, isbn)
	if !ok || len(found) == 0 {
		return nil, false
	}

	// Keys given by the caller win over the provider's.
	extra := maps.Clone(found)
	maps.Copy(extra, b.Extra)
	s.log.Debug().Str("book_id", b.ID.String()).Int("keys", len(found)).Msg("book enriched")
	return extra, true
}

// enrichmentBudget derives the context enrichment runs on. ok is false when the
// caller's deadline is already inside the commit reserve.
func (s *Service) enrichmentBudget(ctx context.Context) (context.Context, context.CancelFunc, bool) {
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return ctx, func() {}, true
	}
	stop := deadline.Add(-s.reserve)
	if !time.Now().Before(stop) {
		return ctx, func() {}, false
	}
	ctx, cancel := context.WithDeadline(ctx, stop)
	return ctx, cancel, true
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Book, error) {
	return InScope(ctx, s.uow, func(ctx context.Context, books *Repository) (Book, error) {
		return books.GetByID(ctx, id)
	})
}

func (s *Service) GetByISBN(ctx context.Context, isbn string) (Book, error) {
	return InScope(ctx, s.uow, func(ctx context.Context, books *Repository) (Book, error) {
		return books.FindByISBN(ctx, isbn)
	})
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (Book, error) {
	return InScope(ctx, s.uow, func(ctx context.Context, books *Repository) (Book, error) {
		return books.Update(ctx, id, patch)
	})
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	return InScope(ctx, s.uow, func(ctx context.Context, books *Repository) (bool, error) {
		return books.Delete(ctx, id)
	})
}

func (s *Service) List(ctx context.Context, page Pagination) ([]Book, error) {
	return InScope(ctx, s.uow, func(ctx context.Context, books *Repository) ([]Book, error) {
		return books.ListPaged(ctx, page)
	})
}

/* Returns one window of the books matching filter plus the total count, both read from the same scope. */
func (s *Service) Search(ctx context.Context, filter Filter, page Pagination) (Page, error) {
	page, err := page.normalize()
	if err != nil {
		return Page{}, err
	}
	return InScope(ctx, s.uow, func(ctx context.Context, books *Repository) (Page, error) {
		items, err := books.FindByFilters(ctx, filter, page)
		if err != nil {
			return Page{}, err
		}
		total, err := books.CountByFilters(ctx, filter)
		if err != nil {
			return Page{}, err
		}
		return Page{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
	})
}
