package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/library-catalog/cmd/api/book"
	"github.com/rs/zerolog"
)

//go:generate mockgen -destination=mocks/service.go -package=httpmock github.com/library-catalog/cmd/api/http ServiceAPI

type ServiceAPI interface {
	Create(ctx context.Context, fields book.Fields) (book.Book, error)
	Get(ctx context.Context, id uuid.UUID) (book.Book, error)
	GetByISBN(ctx context.Context, isbn string) (book.Book, error)
	Update(ctx context.Context, id uuid.UUID, patch book.Patch) (book.Book, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	Search(ctx context.Context, filter book.Filter, page book.Pagination) (book.Page, error)
}

const (
	defaultPageSize = 20
	maxPageSize     = book.MaxLimit
)

type BookHandler struct {
	bookService ServiceAPI
	log         zerolog.Logger
}

func NewBookHandler(bookService ServiceAPI, logger zerolog.Logger) *BookHandler {
	return &BookHandler{
		bookService: bookService,
		log:         logger.With().Str("component", "http").Logger(),
	}
}

type BookEntry struct {
	Title       string         `json:"title"`
	Author      string         `json:"author"`
	Genre       string         `json:"genre"`
	Year        int            `json:"year"`
	Pages       int            `json:"pages"`
	Available   *bool          `json:"available"`
	ISBN        *string        `json:"isbn"`
	Description *string        `json:"description"`
	Extra       map[string]any `json:"extra"`
}

type BookPatchEntry struct {
	Title       *string        `json:"title"`
	Author      *string        `json:"author"`
	Genre       *string        `json:"genre"`
	Year        *int           `json:"year"`
	Pages       *int           `json:"pages"`
	Available   *bool          `json:"available"`
	ISBN        *string        `json:"isbn"`
	Description *string        `json:"description"`
	Extra       map[string]any `json:"extra"`
}

/* Decodes the entry and stores it as a new book. */
func (h *BookHandler) createBook(c *gin.Context) {
	var entry BookEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		h.invalidJSON(c, err)
		return
	}

	storedBook, err := h.bookService.Create(c.Request.Context(), entryToFields(entry))
	if err != nil {
		h.responseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bookToResponse(storedBook))
}

/* Returns the book with that specific ID. */
func (h *BookHandler) getBookById(c *gin.Context) {
	id, ok := h.isolateId(c)
	if !ok {
		return
	}

	returnedBook, err := h.bookService.Get(c.Request.Context(), id)
	if err != nil {
		h.responseError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookToResponse(returnedBook))
}

func (h *BookHandler) getBookByISBN(c *gin.Context) {
	returnedBook, err := h.bookService.GetByISBN(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		h.responseError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookToResponse(returnedBook))
}

/* Applies the fields present in the entry to the asked book. */
func (h *BookHandler) updateBook(c *gin.Context) {
	id, ok := h.isolateId(c)
	if !ok {
		return
	}

	var entry BookPatchEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		h.invalidJSON(c, err)
		return
	}

	updatedBook, err := h.bookService.Update(c.Request.Context(), id, entryToPatch(entry))
	if err != nil {
		h.responseError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookToResponse(updatedBook))
}

func (h *BookHandler) deleteBook(c *gin.Context) {
	id, ok := h.isolateId(c)
	if !ok {
		return
	}

	deleted, err := h.bookService.Delete(c.Request.Context(), id)
	if err != nil {
		h.responseError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, ErrResponseBookNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

/* Returns a page of the stored books matching the query filters. */
func (h *BookHandler) listBooks(c *gin.Context) {
	filter := book.Filter{
		Title:  c.Query("title"),
		Author: c.Query("author"),
		Genre:  c.Query("genre"),
	}

	if yearStr := c.Query("year"); yearStr != "" {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrResponseQueryYearInvalid)
			return
		}
		filter.Year = &year
	}

	if availableStr := c.Query("available"); availableStr != "" {
		available, err := strconv.ParseBool(availableStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrResponseQueryAvailableInvalid)
			return
		}
		filter.Available = &available
	}

	page, pageSize, valid := extractPageParams(c)
	if !valid {
		c.JSON(http.StatusBadRequest, ErrResponseQueryPageInvalid)
		return
	}

	pagedBooks, err := h.bookService.Search(c.Request.Context(), filter, book.Pagination{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		h.responseError(c, err)
		return
	}
	c.JSON(http.StatusOK, pagedBooksToResponse(page, pageSize, pagedBooks))
}

/* Maps service errors onto status codes and the error body. */
func (h *BookHandler) responseError(c *gin.Context, err error) {
	var validationErr *book.ValidationError
	var conflictErr *book.ConflictError
	switch {
	case errors.As(err, &validationErr):
		errR := ErrResponseBookEntryInvalid
		errR.Details = validationErr.Fields
		c.JSON(http.StatusUnprocessableEntity, errR)
	case errors.As(err, &conflictErr):
		errR := ErrResponseISBNConflict
		errR.Details = map[string]string{conflictErr.Field: conflictErr.Value}
		c.JSON(http.StatusConflict, errR)
	case errors.Is(err, book.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrResponseBookNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		h.log.Warn().Err(err).Str("path", c.FullPath()).Msg("request timed out")
		c.JSON(http.StatusServiceUnavailable, ErrResponseRequestTimeout)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, ErrResponseInternal)
	}
}

func (h *BookHandler) invalidJSON(c *gin.Context, err error) {
	h.log.Debug().Err(err).Msg("invalid json entry")
	errR := ErrResponseEntryInvalidJSON
	errR.Message += err.Error()
	c.JSON(http.StatusBadRequest, errR)
}

/* Isolates the ID from the URL. */
func (h *BookHandler) isolateId(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrResponseIdInvalidFormat)
		return uuid.Nil, false
	}
	return id, true
}

/* Validates and prepares the pagination parameters of the query. */
func extractPageParams(c *gin.Context) (page int, pageSize int, valid bool) {
	page, pageSize = 1, defaultPageSize

	if pageStr := c.Query("page"); pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p < 1 {
			return page, pageSize, false
		}
		page = p
	}

	if sizeStr := c.Query("page_size"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil || size < 1 || size > maxPageSize {
			return page, pageSize, false
		}
		pageSize = size
	}
	return page, pageSize, true
}

func entryToFields(e BookEntry) book.Fields {
	return book.Fields{
		Title:       e.Title,
		Author:      e.Author,
		Genre:       e.Genre,
		Year:        e.Year,
		Pages:       e.Pages,
		Available:   e.Available,
		ISBN:        e.ISBN,
		Description: e.Description,
		Extra:       e.Extra,
	}
}

func entryToPatch(e BookPatchEntry) book.Patch {
	return book.Patch{
		Title:       e.Title,
		Author:      e.Author,
		Genre:       e.Genre,
		Year:        e.Year,
		Pages:       e.Pages,
		Available:   e.Available,
		ISBN:        e.ISBN,
		Description: e.Description,
		Extra:       e.Extra,
	}
}

type BookResponse struct {
	ID          uuid.UUID      `json:"id"`
	Title       string         `json:"title"`
	Author      string         `json:"author"`
	Genre       string         `json:"genre"`
	Year        int            `json:"year"`
	Pages       int            `json:"pages"`
	Available   bool           `json:"available"`
	ISBN        *string        `json:"isbn"`
	Description *string        `json:"description"`
	Extra       map[string]any `json:"extra"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

/*Copy the fields of a book object to an http layer struct with json tags*/
func bookToResponse(b book.Book) BookResponse {
	return BookResponse{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Genre:       b.Genre,
		Year:        b.Year,
		Pages:       b.Pages,
		Available:   b.Available,
		ISBN:        b.ISBN,
		Description: b.Description,
		Extra:       b.Extra,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

type PageOfBooksResponse struct {
	PageCurrent int            `json:"page_current"`
	PageTotal   int            `json:"page_total"`
	PageSize    int            `json:"page_size"`
	ItemsTotal  int            `json:"items_total"`
	Results     []BookResponse `json:"results"`
}

/*Copy the fields of a book.Page object to an http layer struct with json tags*/
func pagedBooksToResponse(page, pageSize int, p book.Page) PageOfBooksResponse {
	results := []BookResponse{}
	for _, b := range p.Items {
		results = append(results, bookToResponse(b))
	}

	return PageOfBooksResponse{
		PageCurrent: page,
		PageTotal:   (p.Total + pageSize - 1) / pageSize,
		PageSize:    pageSize,
		ItemsTotal:  p.Total,
		Results:     results,
	}
}
