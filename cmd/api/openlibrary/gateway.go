package openlibrary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/library-catalog/cmd/api/book"
	"github.com/library-catalog/cmd/api/httpclient"
	"github.com/rs/zerolog"
)

const (
	coverURLTemplate = "https://covers.openlibrary.org/b/id/%d-L.jpg"
	maxSubjects      = 10
)

// Requester is the part of httpclient.Client the gateway needs.
type Requester interface {
	Get(ctx context.Context, path string, params url.Values) (httpclient.Result, error)
}

// Gateway enriches books with Open Library metadata. Every lookup failure
// is logged and reported as "nothing found".
type Gateway struct {
	client Requester
	log    zerolog.Logger
}

var _ book.MetadataGateway = (*Gateway)(nil)

func NewGateway(client Requester, logger zerolog.Logger) *Gateway {
	return &Gateway{
		client: client,
		log:    logger.With().Str("component", "openlibrary").Logger(),
	}
}

/*
Looks the book up by ISBN first and falls back to a title and author search.
Returns ok=false when neither lookup produced anything.
*/
func (g *Gateway) Enrich(ctx context.Context, title, author, isbn string) (map[string]any, bool) {
	if isbn = strings.TrimSpace(isbn); isbn != "" {
		extra, err := g.byISBN(ctx, isbn)
		if err != nil {
			g.log.Warn().Err(err).Str("isbn", isbn).Msg("isbn lookup failed, skipping enrichment")
			return nil, false
		}
		if extra != nil {
			return extra, true
		}
	}

	extra, err := g.search(ctx, title, author)
	if err != nil {
		g.log.Warn().Err(err).Str("title", title).Str("author", author).Msg("search failed, skipping enrichment")
		return nil, false
	}
	if extra == nil {
		g.log.Debug().Str("title", title).Str("author", author).Msg("no metadata found")
		return nil, false
	}
	return extra, true
}

type named struct {
	Name string `json:"name"`
}

type bookDetails struct {
	URL         string  `json:"url"`
	Key         string  `json:"key"`
	PublishDate string  `json:"publish_date"`
	Publishers  []named `json:"publishers"`
	Subjects    []named `json:"subjects"`
	Cover       struct {
		Large  string `json:"large"`
		Medium string `json:"medium"`
	} `json:"cover"`
	NumberOfPages int `json:"number_of_pages"`
}

func (g *Gateway) byISBN(ctx context.Context, isbn string) (map[string]any, error) {
	bibkey := "ISBN:" + isbn
	params := url.Values{}
	params.Set("bibkeys", bibkey)
	params.Set("format", "json")
	params.Set("jscmd", "data")

	res, err := g.client.Get(ctx, "/api/books", params)
	if err != nil {
		return nil, err
	}
	raw, ok := res[bibkey]
	if !ok {
		return nil, nil
	}

	var details bookDetails
	if err := decode(raw, &details); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", bibkey, err)
	}

	extra := map[string]any{"source": "openlibrary"}
	if details.URL != "" {
		extra["openlibrary_url"] = details.URL
	}
	if details.Key != "" {
		extra["openlibrary_key"] = details.Key
	}
	if details.PublishDate != "" {
		extra["publish_date"] = details.PublishDate
	}
	if details.NumberOfPages > 0 {
		extra["number_of_pages"] = details.NumberOfPages
	}
	if publishers := names(details.Publishers); len(publishers) > 0 {
		extra["publishers"] = publishers
	}
	if subjects := names(details.Subjects); len(subjects) > 0 {
		extra["subjects"] = subjects[:min(len(subjects), maxSubjects)]
	}
	switch {
	case details.Cover.Large != "":
		extra["cover_url"] = details.Cover.Large
	case details.Cover.Medium != "":
		extra["cover_url"] = details.Cover.Medium
	}
	return extra, nil
}

type searchResponse struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Key                 string   `json:"key"`
		Title               string   `json:"title"`
		AuthorNames         []string `json:"author_name"`
		FirstPublishYear    int      `json:"first_publish_year"`
		ISBN                []string `json:"isbn"`
		Subjects            []string `json:"subject"`
		Publishers          []string `json:"publisher"`
		CoverID             int      `json:"cover_i"`
		NumberOfPagesMedian int      `json:"number_of_pages_median"`
	} `json:"docs"`
}

func (g *Gateway) search(ctx context.Context, title, author string) (map[string]any, error) {
	params := url.Values{}
	params.Set("title", title)
	if author != "" {
		params.Set("author", author)
	}
	params.Set("limit", "1")
	params.Set("fields", "key,title,author_name,first_publish_year,isbn,subject,publisher,cover_i,number_of_pages_median")

	res, err := g.client.Get(ctx, "/search.json", params)
	if err != nil {
		return nil, err
	}

	var found searchResponse
	if err := decode(res, &found); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if len(found.Docs) == 0 {
		return nil, nil
	}

	doc := found.Docs[0]
	extra := map[string]any{"source": "openlibrary"}
	if doc.Key != "" {
		extra["openlibrary_key"] = doc.Key
	}
	if doc.FirstPublishYear > 0 {
		extra["first_publish_year"] = doc.FirstPublishYear
	}
	if doc.NumberOfPagesMedian > 0 {
		extra["number_of_pages"] = doc.NumberOfPagesMedian
	}
	if len(doc.Publishers) > 0 {
		extra["publishers"] = doc.Publishers
	}
	if len(doc.Subjects) > 0 {
		extra["subjects"] = doc.Subjects[:min(len(doc.Subjects), maxSubjects)]
	}
	if len(doc.ISBN) > 0 {
		extra["isbn_candidates"] = doc.ISBN[:min(len(doc.ISBN), 3)]
	}
	if doc.CoverID > 0 {
		extra["cover_url"] = fmt.Sprintf(coverURLTemplate, doc.CoverID)
	}
	return extra, nil
}

// decode re-reads a generic JSON value into a typed response.
func decode(raw any, target any) error {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, target)
}

func names(items []named) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Name != "" {
			out = append(out, item.Name)
		}
	}
	return out
}
