package uow

import (
	"context"
	"fmt"
	"sync"

	"github.com/library-catalog/cmd/api/book"
	"github.com/library-catalog/cmd/api/metrics"
	"github.com/rs/zerolog"
)

type UnitOfWork struct {
	store  book.Store
	log    zerolog.Logger
	strict bool
}

type Option func(*UnitOfWork)

// WithStrictPreconditions makes a finalized scope panic when it is committed or
// rolled back again, instead of only returning the violation.
func WithStrictPreconditions() Option {
	return func(u *UnitOfWork) {
		u.strict = true
	}
}

func New(store book.Store, logger zerolog.Logger, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		store: store,
		log:   logger.With().Str("component", "uow").Logger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *UnitOfWork) Open(ctx context.Context) (book.Scope, error) {
	session, err := u.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening scope: %w", err)
	}

	s := &scope{uow: u, session: session}
	s.books = book.NewRepository(session, s.guard)
	return s, nil
}

type state int

const (
	stateActive state = iota
	stateCommitted
	stateRolledBack
)

func (st state) String() string {
	switch st {
	case stateCommitted:
		return "committed"
	case stateRolledBack:
		return "rolled back"
	default:
		return "active"
	}
}

type scope struct {
	mu       sync.Mutex
	uow      *UnitOfWork
	session  book.Session
	books    *book.Repository
	state    state
	released bool
}

func (s *scope) Books() *book.Repository {
	return s.books
}

func (s *scope) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return s.violation("commit")
	}

	if err := s.session.Commit(ctx); err != nil {
		s.state = stateRolledBack
		if rbErr := s.session.Rollback(ctx); rbErr != nil {
			s.uow.log.Debug().Err(rbErr).Msg("rolling back after failed commit")
		}
		metrics.ScopeOutcomes.WithLabelValues("commit_failed").Inc()
		return fmt.Errorf("committing scope: %w", err)
	}

	s.state = stateCommitted
	metrics.ScopeOutcomes.WithLabelValues("committed").Inc()
	s.uow.log.Debug().Msg("scope committed")
	return nil
}

func (s *scope) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return s.violation("roll back")
	}
	return s.rollback(ctx)
}

func (s *scope) rollback(ctx context.Context) error {
	s.state = stateRolledBack
	metrics.ScopeOutcomes.WithLabelValues("rolled_back").Inc()
	if err := s.session.Rollback(ctx); err != nil {
		return fmt.Errorf("rolling back scope: %w", err)
	}
	s.uow.log.Debug().Msg("scope rolled back")
	return nil
}

/*
Releases the session. A scope left active is rolled back first.
Calling Close again is a no-op, so it is always safe to defer.
*/
func (s *scope) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	s.released = true

	if s.state == stateActive {
		if err := s.rollback(ctx); err != nil {
			s.uow.log.Warn().Err(err).Msg("closing scope")
		}
	}
	if err := s.session.Close(ctx); err != nil {
		s.uow.log.Warn().Err(err).Msg("releasing session")
	}
}

func (s *scope) guard(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return &book.PreconditionViolation{Op: op, State: s.state.String()}
	}
	return nil
}

func (s *scope) violation(op string) error {
	err := &book.PreconditionViolation{Op: op, State: s.state.String()}
	s.uow.log.Error().Err(err).Msg("scope finalized twice")
	if s.uow.strict {
		panic(err)
	}
	return err
}
