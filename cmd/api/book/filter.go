package book

import "strings"

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Field string

const (
	FieldTitle     Field = "title"
	FieldAuthor    Field = "author"
	FieldGenre     Field = "genre"
	FieldYear      Field = "year"
	FieldAvailable Field = "available"
	FieldISBN      Field = "isbn"
)

type Op int

const (
	// OpContains is a case-insensitive substring match on text fields.
	OpContains Op = iota + 1
	OpEquals
)

// Condition is one backend-neutral predicate. Storage sessions translate a
// list of conditions, joined with AND, into their own query language.
type Condition struct {
	Field Field
	Op    Op
	Value any
}

// Filter holds the optional search criteria of a catalog query. Empty text
// fields and nil pointers are not applied.
type Filter struct {
	Title     string
	Author    string
	Genre     string
	Year      *int
	Available *bool
}

/* Builds the predicate shared by FindByFilters and CountByFilters, so both always select the same rows. */
func (f Filter) Conditions() []Condition {
	conds := []Condition{}
	if title := strings.TrimSpace(f.Title); title != "" {
		conds = append(conds, Condition{Field: FieldTitle, Op: OpContains, Value: title})
	}
	if author := strings.TrimSpace(f.Author); author != "" {
		conds = append(conds, Condition{Field: FieldAuthor, Op: OpContains, Value: author})
	}
	if genre := strings.TrimSpace(f.Genre); genre != "" {
		conds = append(conds, Condition{Field: FieldGenre, Op: OpContains, Value: genre})
	}
	if f.Year != nil {
		conds = append(conds, Condition{Field: FieldYear, Op: OpEquals, Value: *f.Year})
	}
	if f.Available != nil {
		conds = append(conds, Condition{Field: FieldAvailable, Op: OpEquals, Value: *f.Available})
	}
	return conds
}

// Pagination is a limit/offset window. A zero Limit selects DefaultLimit.
type Pagination struct {
	Limit  int
	Offset int
}

func (p Pagination) normalize() (Pagination, error) {
	verr := &ValidationError{Fields: map[string]string{}}
	if p.Limit < 0 {
		verr.Fields["limit"] = "must be non-negative"
	}
	if p.Offset < 0 {
		verr.Fields["offset"] = "must be non-negative"
	}
	if len(verr.Fields) > 0 {
		return Pagination{}, verr
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p, nil
}

// Query is what a Session executes: a predicate plus a window. A zero Limit means no limit.
type Query struct {
	Where  []Condition
	Limit  int
	Offset int
}

// Page is one window of a filtered listing together with the total number of matches.
type Page struct {
	Items  []Book
	Total  int
	Limit  int
	Offset int
}
