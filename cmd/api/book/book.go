package book

import (
	"maps"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

const (
	TitleMaxLength  = 500
	AuthorMaxLength = 300
	GenreMaxLength  = 100
	ISBNMaxLength   = 20
)

type Book struct {
	ID          uuid.UUID
	Title       string
	Author      string
	Genre       string
	Year        int
	Pages       int
	Available   bool
	ISBN        *string
	Description *string
	Extra       map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Fields is the input of a new book. Available defaults to true when nil.
type Fields struct {
	Title       string
	Author      string
	Genre       string
	Year        int
	Pages       int
	Available   *bool
	ISBN        *string
	Description *string
	Extra       map[string]any
}

/* Checks every field against the catalog rules and returns a *ValidationError naming each failing field. */
func (f Fields) Validate() error {
	err := validation.ValidateStruct(&f,
		validation.Field(&f.Title, validation.Required.Error("must not be blank"), validation.RuneLength(1, TitleMaxLength)),
		validation.Field(&f.Author, validation.Required.Error("must not be blank"), validation.RuneLength(1, AuthorMaxLength)),
		validation.Field(&f.Genre, validation.Required.Error("must not be blank"), validation.RuneLength(1, GenreMaxLength)),
		validation.Field(&f.Year, validation.Required.Error("is required")),
		validation.Field(&f.Pages, validation.Required.Error("must be a positive integer"), validation.Min(1).Error("must be a positive integer")),
		validation.Field(&f.ISBN, validation.NilOrNotEmpty.Error("must not be blank"), validation.RuneLength(1, ISBNMaxLength)),
	)
	return newValidationError(err)
}

func (f Fields) toBook(id uuid.UUID, now time.Time) Book {
	available := true
	if f.Available != nil {
		available = *f.Available
	}
	return Book{
		ID:          id,
		Title:       f.Title,
		Author:      f.Author,
		Genre:       f.Genre,
		Year:        f.Year,
		Pages:       f.Pages,
		Available:   available,
		ISBN:        f.ISBN,
		Description: f.Description,
		Extra:       maps.Clone(f.Extra),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Patch carries the fields of a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string
	Author      *string
	Genre       *string
	Year        *int
	Pages       *int
	Available   *bool
	ISBN        *string
	Description *string
	Extra       map[string]any
}

func (p Patch) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.NilOrNotEmpty.Error("must not be blank"), validation.RuneLength(1, TitleMaxLength)),
		validation.Field(&p.Author, validation.NilOrNotEmpty.Error("must not be blank"), validation.RuneLength(1, AuthorMaxLength)),
		validation.Field(&p.Genre, validation.NilOrNotEmpty.Error("must not be blank"), validation.RuneLength(1, GenreMaxLength)),
		validation.Field(&p.Year, validation.NilOrNotEmpty.Error("is required")),
		validation.Field(&p.Pages, validation.NilOrNotEmpty.Error("must be a positive integer"), validation.Min(1).Error("must be a positive integer")),
		validation.Field(&p.ISBN, validation.NilOrNotEmpty.Error("must not be blank"), validation.RuneLength(1, ISBNMaxLength)),
	)
	return newValidationError(err)
}

// apply copies the provided fields onto b and reports whether anything was set.
func (p Patch) apply(b *Book) bool {
	changed := false
	if p.Title != nil {
		b.Title, changed = *p.Title, true
	}
	if p.Author != nil {
		b.Author, changed = *p.Author, true
	}
	if p.Genre != nil {
		b.Genre, changed = *p.Genre, true
	}
	if p.Year != nil {
		b.Year, changed = *p.Year, true
	}
	if p.Pages != nil {
		b.Pages, changed = *p.Pages, true
	}
	if p.Available != nil {
		b.Available, changed = *p.Available, true
	}
	if p.ISBN != nil {
		isbn := *p.ISBN
		b.ISBN, changed = &isbn, true
	}
	if p.Description != nil {
		description := *p.Description
		b.Description, changed = &description, true
	}
	if p.Extra != nil {
		b.Extra, changed = maps.Clone(p.Extra), true
	}
	return changed
}
