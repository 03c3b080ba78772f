package notifications_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/library-catalog/cmd/api/book"
	"github.com/library-catalog/cmd/api/httpclient"
	"github.com/library-catalog/cmd/api/notifications"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func newClient(t *testing.T, baseURL string) *httpclient.Client {
	t.Helper()
	client, err := httpclient.New("ntfy", httpclient.Config{
		BaseURL:        baseURL,
		Timeout:        time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestBookCreated(t *testing.T) {
	t.Run("publishes the new book on the topic", func(t *testing.T) {
		is := is.New(t)

		received := make(chan map[string]any, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var msg map[string]any
			if err := json.NewDecoder(r.Body).Decode(&msg); err == nil && r.Method == http.MethodPost && r.URL.Path == "/" {
				received <- msg
			}
			w.Write([]byte(`{"id":"sPs71M8A2T","event":"message"}`))
		}))
		defer srv.Close()

		ntfy := notifications.NewNtfy(newClient(t, srv.URL), "catalog_test", zerolog.Nop())
		isbn := "9780441013593"
		err := ntfy.BookCreated(context.Background(), book.Book{
			ID:     uuid.New(),
			Title:  "Dune",
			Author: "Frank Herbert",
			Year:   1965,
			ISBN:   &isbn,
		})
		is.NoErr(err)

		msg := <-received
		is.Equal(msg["topic"], "catalog_test")
		is.Equal(msg["title"], "New book created")
		body, _ := msg["message"].(string)
		is.True(strings.Contains(body, "Title: Dune"))
		is.True(strings.Contains(body, "ISBN: 9780441013593"))
	})

	t.Run("reports an unreachable server", func(t *testing.T) {
		is := is.New(t)
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		ntfy := notifications.NewNtfy(newClient(t, srv.URL), "catalog_test", zerolog.Nop())
		err := ntfy.BookCreated(context.Background(), book.Book{ID: uuid.New(), Title: "Dune"})
		is.True(err != nil)
	})
}
