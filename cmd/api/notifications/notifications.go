package notifications

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/library-catalog/cmd/api/book"
	"github.com/library-catalog/cmd/api/httpclient"
	"github.com/rs/zerolog"
)

// Publisher is the part of httpclient.Client the notifier needs.
type Publisher interface {
	Request(ctx context.Context, method, path string, params url.Values, body any, headers http.Header) (httpclient.Result, error)
}

// Ntfy publishes catalog events to a ntfy topic through its JSON publishing endpoint.
type Ntfy struct {
	client Publisher
	topic  string
	log    zerolog.Logger
}

var _ book.Notifier = (*Ntfy)(nil)

func NewNtfy(client Publisher, topic string, logger zerolog.Logger) *Ntfy {
	return &Ntfy{
		client: client,
		topic:  topic,
		log:    logger.With().Str("component", "notifications").Str("topic", topic).Logger(),
	}
}

type message struct {
	Topic   string   `json:"topic"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Tags    []string `json:"tags,omitempty"`
}

/* Announces a new book on the topic. */
func (ntf *Ntfy) BookCreated(ctx context.Context, b book.Book) error {
	msg := message{
		Topic:   ntf.topic,
		Title:   "New book created",
		Message: fmt.Sprintf("Title: %s\nAuthor: %s\nYear: %d", b.Title, b.Author, b.Year),
		Tags:    []string{"books"},
	}
	if b.ISBN != nil {
		msg.Message += "\nISBN: " + *b.ISBN
	}

	if _, err := ntf.client.Request(ctx, http.MethodPost, "/", nil, msg, nil); err != nil {
		return fmt.Errorf("delivering book %s to topic %s: %w", b.ID, ntf.topic, err)
	}
	ntf.log.Debug().Str("book_id", b.ID.String()).Msg("book creation published")
	return nil
}
