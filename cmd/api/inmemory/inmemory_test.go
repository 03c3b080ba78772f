package inmemory_test

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/library-catalog/cmd/api/book"
	"github.com/library-catalog/cmd/api/inmemory"
	"github.com/matryer/is"
)

var ctx context.Context = context.Background()

func newBook(title string, isbn *string) book.Book {
	now := time.Now().UTC().Round(time.Millisecond)
	return book.Book{
		ID:        uuid.New(),
		Title:     title,
		Author:    "Ursula K. Le Guin",
		Genre:     "Science Fiction",
		Year:      1969,
		Pages:     304,
		Available: true,
		ISBN:      isbn,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func mustBegin(t *testing.T, store *inmemory.InMemoryStore) book.Session {
	t.Helper()
	s, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSessionWrites(t *testing.T) {
	store, err := inmemory.NewInMemoryStore()
	if err != nil {
		log.Fatalln(err)
	}

	t.Run("reads observe the session's own pending writes", func(t *testing.T) {
		is := is.New(t)
		s := mustBegin(t, store)
		defer s.Close(ctx)

		b := newBook("The Dispossessed", nil)
		s.Add(b)

		got, err := s.Get(ctx, b.ID)
		is.NoErr(err)
		is.Equal(got.Title, b.Title)
		is.True(got.ISBN == nil)
	})

	t.Run("rolled back writes are discarded", func(t *testing.T) {
		is := is.New(t)
		b := newBook("Lavinia", nil)

		s := mustBegin(t, store)
		s.Add(b)
		is.NoErr(s.Flush(ctx))
		is.NoErr(s.Rollback(ctx))
		is.NoErr(s.Close(ctx))

		s = mustBegin(t, store)
		defer s.Close(ctx)
		_, err := s.Get(ctx, b.ID)
		is.True(errors.Is(err, book.ErrNotFound))
	})

	t.Run("committed writes are visible to later sessions", func(t *testing.T) {
		is := is.New(t)
		b := newBook("The Lathe of Heaven", nil)

		s := mustBegin(t, store)
		s.Add(b)
		is.NoErr(s.Commit(ctx))
		is.NoErr(s.Close(ctx))

		s = mustBegin(t, store)
		defer s.Close(ctx)
		got, err := s.Get(ctx, b.ID)
		is.NoErr(err)
		is.Equal(got.CreatedAt, b.CreatedAt)
	})

	t.Run("a duplicated isbn is a conflict", func(t *testing.T) {
		is := is.New(t)
		isbn := "9780441478125"
		s := mustBegin(t, store)
		defer s.Close(ctx)

		first := newBook("The Left Hand of Darkness", &isbn)
		s.Add(first)
		is.NoErr(s.Flush(ctx))

		s.Add(newBook("The Left Hand of Darkness (reissue)", &isbn))
		err := s.Flush(ctx)
		var cerr *book.ConflictError
		is.True(errors.As(err, &cerr))
		is.Equal(cerr.Value, isbn)
	})

	t.Run("re-adding a known book updates it in place", func(t *testing.T) {
		is := is.New(t)
		isbn := "9780061054884"
		s := mustBegin(t, store)
		defer s.Close(ctx)

		b := newBook("The Word for World Is Forest", &isbn)
		s.Add(b)
		is.NoErr(s.Flush(ctx))

		b.Pages = 189
		s.Add(b)
		is.NoErr(s.Flush(ctx))

		got, err := s.Get(ctx, b.ID)
		is.NoErr(err)
		is.Equal(got.Pages, 189)
	})

	t.Run("deletes report whether the book existed", func(t *testing.T) {
		is := is.New(t)
		s := mustBegin(t, store)
		defer s.Close(ctx)

		b := newBook("Always Coming Home", nil)
		s.Add(b)

		deleted, err := s.Delete(ctx, b.ID)
		is.NoErr(err)
		is.True(deleted)

		deleted, err = s.Delete(ctx, b.ID)
		is.NoErr(err)
		is.True(!deleted)
	})

	t.Run("a finished session refuses to commit again", func(t *testing.T) {
		is := is.New(t)
		s := mustBegin(t, store)
		is.NoErr(s.Commit(ctx))
		is.True(s.Rollback(ctx) != nil)
		is.True(s.Commit(ctx) != nil)
		is.NoErr(s.Close(ctx))

		next := mustBegin(t, store)
		is.NoErr(next.Close(ctx))
	})
}

func TestSessionWriterSlot(t *testing.T) {
	store, err := inmemory.NewInMemoryStore()
	if err != nil {
		log.Fatalln(err)
	}

	t.Run("a cancelled caller stops waiting for the writer", func(t *testing.T) {
		is := is.New(t)
		held := mustBegin(t, store)
		defer held.Close(ctx)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Begin(cancelled)
		is.True(errors.Is(err, context.Canceled))
	})

	t.Run("a caller whose deadline passes while waiting gets an error", func(t *testing.T) {
		is := is.New(t)
		held := mustBegin(t, store)
		defer held.Close(ctx)

		waiting, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			_, err := store.Begin(waiting)
			done <- err
		}()

		select {
		case err := <-done:
			is.True(errors.Is(err, context.DeadlineExceeded))
		case <-time.After(5 * time.Second):
			t.Fatal("Begin kept waiting after its deadline")
		}
	})

	t.Run("the writer passes on once a session ends", func(t *testing.T) {
		is := is.New(t)
		first := mustBegin(t, store)

		next := make(chan book.Session, 1)
		go func() {
			s, err := store.Begin(ctx)
			if err == nil {
				next <- s
			}
		}()

		select {
		case <-next:
			t.Fatal("a second session began while the first was active")
		case <-time.After(50 * time.Millisecond):
		}

		is.NoErr(first.Rollback(ctx))
		select {
		case s := <-next:
			is.NoErr(s.Close(ctx))
		case <-time.After(5 * time.Second):
			t.Fatal("the waiting session never began")
		}
	})
}

func TestSessionQueries(t *testing.T) {
	is := is.New(t)
	store, err := inmemory.NewInMemoryStore()
	if err != nil {
		log.Fatalln(err)
	}

	base := time.Now().UTC().Round(time.Millisecond)
	titles := []string{"A Wizard of Earthsea", "The Tombs of Atuan", "The Farthest Shore", "Tehanu"}
	seeded := make([]book.Book, 0, len(titles))

	s := mustBegin(t, store)
	for i, title := range titles {
		b := newBook(title, nil)
		b.Genre = "Fantasy"
		b.Year = 1968 + i
		b.CreatedAt = base.Add(time.Duration(i) * time.Second)
		b.UpdatedAt = b.CreatedAt
		b.Available = i%2 == 0
		s.Add(b)
		seeded = append(seeded, b)
	}
	is.NoErr(s.Commit(ctx))
	is.NoErr(s.Close(ctx))

	t.Run("results come in creation order", func(t *testing.T) {
		is := is.New(t)
		s := mustBegin(t, store)
		defer s.Close(ctx)

		books, err := s.Query(ctx, book.Query{})
		is.NoErr(err)
		is.Equal(len(books), len(seeded))
		for i := range seeded {
			is.Equal(books[i].ID, seeded[i].ID)
		}
	})

	t.Run("text conditions are case-insensitive substrings", func(t *testing.T) {
		is := is.New(t)
		s := mustBegin(t, store)
		defer s.Close(ctx)

		where := []book.Condition{{Field: book.FieldTitle, Op: book.OpContains, Value: "THE"}}
		books, err := s.Query(ctx, book.Query{Where: where})
		is.NoErr(err)
		is.Equal(len(books), 2)

		total, err := s.Count(ctx, where)
		is.NoErr(err)
		is.Equal(total, len(books))
	})

	t.Run("exact conditions combine", func(t *testing.T) {
		is := is.New(t)
		s := mustBegin(t, store)
		defer s.Close(ctx)

		books, err := s.Query(ctx, book.Query{Where: []book.Condition{
			{Field: book.FieldGenre, Op: book.OpContains, Value: "fant"},
			{Field: book.FieldAvailable, Op: book.OpEquals, Value: false},
			{Field: book.FieldYear, Op: book.OpEquals, Value: 1971},
		}})
		is.NoErr(err)
		is.Equal(len(books), 1)
		is.Equal(books[0].Title, "Tehanu")
	})

	t.Run("limit and offset select a window", func(t *testing.T) {
		is := is.New(t)
		s := mustBegin(t, store)
		defer s.Close(ctx)

		books, err := s.Query(ctx, book.Query{Limit: 2, Offset: 1})
		is.NoErr(err)
		is.Equal(len(books), 2)
		is.Equal(books[0].ID, seeded[1].ID)
		is.Equal(books[1].ID, seeded[2].ID)

		books, err = s.Query(ctx, book.Query{Limit: 2, Offset: 10})
		is.NoErr(err)
		is.Equal(len(books), 0)
	})

	t.Run("the store answers pings until the context ends", func(t *testing.T) {
		is := is.New(t)
		is.NoErr(store.Ping(ctx))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		is.True(store.Ping(cancelled) != nil)
	})
}
