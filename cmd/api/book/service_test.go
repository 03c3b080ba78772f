package book_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/library-catalog/cmd/api/book"
	bookmock "github.com/library-catalog/cmd/api/book/mocks"
	"github.com/library-catalog/cmd/api/httpclient"
	"github.com/library-catalog/cmd/api/inmemory"
	"github.com/library-catalog/cmd/api/openlibrary"
	"github.com/library-catalog/cmd/api/uow"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
	gomock "go.uber.org/mock/gomock"
)

func newService(t *testing.T, gateway book.MetadataGateway) *book.Service {
	t.Helper()
	store, err := inmemory.NewInMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	return book.NewService(uow.New(store, zerolog.Nop()), gateway, zerolog.Nop())
}

func TestServiceCreate(t *testing.T) {
	t.Run("stores the enrichment found by the gateway", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		gateway := bookmock.NewMockMetadataGateway(ctrl)
		svc := newService(t, gateway)

		f := validFields()
		f.ISBN = toPointer("9780441013593")
		f.Extra = map[string]any{"shelf": "A3"}
		gateway.EXPECT().Enrich(gomock.Any(), "Dune", "Frank Herbert", "9780441013593").
			Return(map[string]any{"source": "openlibrary", "shelf": "ignored"}, true)

		created, err := svc.Create(ctx, f)
		is.NoErr(err)
		is.Equal(created.Extra["source"], "openlibrary")
		is.Equal(created.Extra["shelf"], "A3")

		stored, err := svc.Get(ctx, created.ID)
		is.NoErr(err)
		is.Equal(stored.Extra, created.Extra)
	})

	t.Run("a gateway without results leaves extra untouched", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		gateway := bookmock.NewMockMetadataGateway(ctrl)
		svc := newService(t, gateway)

		gateway.EXPECT().Enrich(gomock.Any(), gomock.Any(), gomock.Any(), "").Return(nil, false)

		created, err := svc.Create(ctx, validFields())
		is.NoErr(err)
		is.True(created.Extra == nil)
	})

	t.Run("enrichment can be disabled", func(t *testing.T) {
		is := is.New(t)
		svc := newService(t, nil)

		created, err := svc.Create(ctx, validFields())
		is.NoErr(err)
		is.True(created.Extra == nil)
	})

	t.Run("a duplicated isbn is a conflict and leaves no partial record", func(t *testing.T) {
		is := is.New(t)
		svc := newService(t, nil)

		f := validFields()
		f.ISBN = toPointer("9780441013593")
		_, err := svc.Create(ctx, f)
		is.NoErr(err)

		second := f
		second.Title = "Dune Messiah"
		_, err = svc.Create(ctx, second)
		var cerr *book.ConflictError
		is.True(errors.As(err, &cerr))
		is.Equal(cerr.Field, "isbn")

		page, err := svc.Search(ctx, book.Filter{Title: "dune"}, book.Pagination{})
		is.NoErr(err)
		is.Equal(page.Total, 1)
		is.Equal(page.Items[0].Title, "Dune")
	})

	t.Run("an invalid entry is rejected before anything is stored", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		gateway := bookmock.NewMockMetadataGateway(ctrl)
		svc := newService(t, gateway)

		f := validFields()
		f.Pages = -1
		_, err := svc.Create(ctx, f)
		var verr *book.ValidationError
		is.True(errors.As(err, &verr))

		books, err := svc.List(ctx, book.Pagination{})
		is.NoErr(err)
		is.Equal(len(books), 0)
	})

	t.Run("an unreachable provider still creates the book", func(t *testing.T) {
		is := is.New(t)

		down := httptest.NewServer(http.NotFoundHandler())
		baseURL := down.URL
		down.Close()

		client, err := httpclient.New("openlibrary", httpclient.Config{
			BaseURL:        baseURL,
			Timeout:        200 * time.Millisecond,
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
		}, zerolog.Nop())
		is.NoErr(err)
		defer client.Close()

		svc := newService(t, openlibrary.NewGateway(client, zerolog.Nop()))

		created, err := svc.Create(ctx, validFields())
		is.NoErr(err)
		is.True(created.Extra == nil)

		stored, err := svc.Get(ctx, created.ID)
		is.NoErr(err)
		is.Equal(stored.Title, "Dune")
		is.True(stored.Extra == nil)
	})

	t.Run("a provider that never answers still leaves time to commit", func(t *testing.T) {
		is := is.New(t)

		release := make(chan struct{})
		hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer hung.Close()
		defer close(release)

		client, err := httpclient.New("openlibrary", httpclient.Config{
			BaseURL:        hung.URL,
			Timeout:        2 * time.Second,
			MaxRetries:     3,
			InitialBackoff: time.Millisecond,
		}, zerolog.Nop())
		is.NoErr(err)
		defer client.Close()

		svc := newService(t, openlibrary.NewGateway(client, zerolog.Nop()))

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		created, err := svc.Create(reqCtx, validFields())
		is.NoErr(err)
		is.True(created.Extra == nil)
		is.NoErr(reqCtx.Err())

		stored, err := svc.Get(ctx, created.ID)
		is.NoErr(err)
		is.Equal(stored.Title, "Dune")
	})

	t.Run("enrichment stops short of the caller's deadline", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		gateway := bookmock.NewMockMetadataGateway(ctrl)
		store, err := inmemory.NewInMemoryStore()
		is.NoErr(err)
		svc := book.NewService(uow.New(store, zerolog.Nop()), gateway, zerolog.Nop(), book.WithCommitReserve(time.Second))

		reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		callerDeadline, _ := reqCtx.Deadline()
		gateway.EXPECT().Enrich(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, title, author, isbn string) (map[string]any, bool) {
				deadline, ok := ctx.Deadline()
				is.True(ok)
				is.True(!deadline.After(callerDeadline.Add(-time.Second)))
				return nil, false
			})

		_, err = svc.Create(reqCtx, validFields())
		is.NoErr(err)
	})

	t.Run("no enrichment is attempted inside the commit reserve", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		gateway := bookmock.NewMockMetadataGateway(ctrl)
		store, err := inmemory.NewInMemoryStore()
		is.NoErr(err)
		svc := book.NewService(uow.New(store, zerolog.Nop()), gateway, zerolog.Nop(), book.WithCommitReserve(time.Minute))
		gateway.EXPECT().Enrich(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		created, err := svc.Create(reqCtx, validFields())
		is.NoErr(err)

		stored, err := svc.Get(ctx, created.ID)
		is.NoErr(err)
		is.Equal(stored.ID, created.ID)
	})
}

func TestServiceNotifications(t *testing.T) {
	t.Run("announces the committed book", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		notifier := bookmock.NewMockNotifier(ctrl)
		store, err := inmemory.NewInMemoryStore()
		is.NoErr(err)
		svc := book.NewService(uow.New(store, zerolog.Nop()), nil, zerolog.Nop(), book.WithNotifier(notifier))

		var announced book.Book
		notifier.EXPECT().BookCreated(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, b book.Book) error {
			announced = b
			return nil
		})

		created, err := svc.Create(ctx, validFields())
		is.NoErr(err)
		is.Equal(announced.ID, created.ID)
	})

	t.Run("a failed notice does not undo the creation", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		notifier := bookmock.NewMockNotifier(ctrl)
		store, err := inmemory.NewInMemoryStore()
		is.NoErr(err)
		svc := book.NewService(uow.New(store, zerolog.Nop()), nil, zerolog.Nop(), book.WithNotifier(notifier))

		notifier.EXPECT().BookCreated(gomock.Any(), gomock.Any()).Return(errors.New("ntfy unreachable"))

		created, err := svc.Create(ctx, validFields())
		is.NoErr(err)
		_, err = svc.Get(ctx, created.ID)
		is.NoErr(err)
	})

	t.Run("rejected books are never announced", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		notifier := bookmock.NewMockNotifier(ctrl)
		store, err := inmemory.NewInMemoryStore()
		is.NoErr(err)
		svc := book.NewService(uow.New(store, zerolog.Nop()), nil, zerolog.Nop(), book.WithNotifier(notifier))

		f := validFields()
		f.Title = ""
		_, err = svc.Create(ctx, f)
		is.True(err != nil)
	})
}

func TestServiceUpdateAndDelete(t *testing.T) {
	is := is.New(t)
	svc := newService(t, nil)

	created, err := svc.Create(ctx, validFields())
	is.NoErr(err)

	t.Run("updates the provided fields", func(t *testing.T) {
		is := is.New(t)
		updated, err := svc.Update(ctx, created.ID, book.Patch{Available: toPointer(false)})
		is.NoErr(err)
		is.True(!updated.Available)
		is.Equal(updated.Title, created.Title)
		is.True(!updated.UpdatedAt.Before(created.UpdatedAt))
	})

	t.Run("deletes once", func(t *testing.T) {
		is := is.New(t)
		deleted, err := svc.Delete(ctx, created.ID)
		is.NoErr(err)
		is.True(deleted)

		deleted, err = svc.Delete(ctx, created.ID)
		is.NoErr(err)
		is.True(!deleted)

		_, err = svc.Get(ctx, created.ID)
		is.True(errors.Is(err, book.ErrNotFound))
	})
}

func TestServiceSearch(t *testing.T) {
	is := is.New(t)
	svc := newService(t, nil)

	seed := []book.Fields{
		{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", Year: 1965, Pages: 412},
		{Title: "Children of Dune", Author: "Frank Herbert", Genre: "Science Fiction", Year: 1976, Pages: 444},
		{Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin", Genre: "science fiction", Year: 1969, Pages: 304},
		{Title: "Emma", Author: "Jane Austen", Genre: "Romance", Year: 1815, Pages: 474},
		{Title: "Dune Messiah", Author: "Frank Herbert", Genre: "Science Fiction", Year: 1969, Pages: 256, Available: toPointer(false)},
	}
	for _, f := range seed {
		_, err := svc.Create(ctx, f)
		is.NoErr(err)
	}

	t.Run("genre is case-insensitive and combines with the year", func(t *testing.T) {
		is := is.New(t)
		page, err := svc.Search(ctx, book.Filter{Genre: "FICTION", Year: toPointer(1969)}, book.Pagination{Limit: 10})
		is.NoErr(err)
		is.Equal(page.Total, 2)
		is.Equal(len(page.Items), 2)
	})

	t.Run("total matches the number of items when everything fits", func(t *testing.T) {
		is := is.New(t)
		page, err := svc.Search(ctx, book.Filter{Author: "herbert"}, book.Pagination{Limit: 100})
		is.NoErr(err)
		is.Equal(page.Total, len(page.Items))
		is.Equal(page.Total, 3)
	})

	t.Run("pages through the results without overlap", func(t *testing.T) {
		is := is.New(t)
		first, err := svc.Search(ctx, book.Filter{Title: "dune"}, book.Pagination{Limit: 2})
		is.NoErr(err)
		second, err := svc.Search(ctx, book.Filter{Title: "dune"}, book.Pagination{Limit: 2, Offset: 2})
		is.NoErr(err)

		is.Equal(first.Total, 3)
		is.Equal(len(first.Items), 2)
		is.Equal(len(second.Items), 1)
		seen := map[string]bool{}
		for _, b := range append(first.Items, second.Items...) {
			seen[b.ID.String()] = true
		}
		is.Equal(len(seen), 3)
	})

	t.Run("availability is an exact match", func(t *testing.T) {
		is := is.New(t)
		page, err := svc.Search(ctx, book.Filter{Available: toPointer(false)}, book.Pagination{})
		is.NoErr(err)
		is.Equal(page.Total, 1)
		is.Equal(page.Items[0].Title, "Dune Messiah")
	})

	t.Run("finds by isbn", func(t *testing.T) {
		is := is.New(t)
		f := validFields()
		f.Title = "Dune (reissue)"
		f.ISBN = toPointer("9780593099322")
		created, err := svc.Create(ctx, f)
		is.NoErr(err)

		found, err := svc.GetByISBN(ctx, "9780593099322")
		is.NoErr(err)
		is.Equal(found.ID, created.ID)
	})
}
