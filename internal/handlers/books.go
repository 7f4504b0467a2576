package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/online-library/apiserver/internal/access"
	"github.com/online-library/apiserver/internal/validation"
	"github.com/online-library/apiserver/types"
)

// CatalogService is what the book routes need from the catalog.
type CatalogService interface {
	List(ctx context.Context) ([]types.BookSummary, error)
	Get(ctx context.Context, id int) (types.BookDetail, error)
	Create(ctx context.Context, in types.NewBook) (types.BookDetail, error)
	Delete(ctx context.Context, id int) error
}

// BookHandler provides HTTP handlers for the book catalog.
type BookHandler struct {
	catalog   CatalogService
	validator *validation.Validator
}

func NewBookHandler(catalog CatalogService, validator *validation.Validator) *BookHandler {
	return &BookHandler{
		catalog:   catalog,
		validator: validator,
	}
}

// BookRouter registers book routes on the given router.
func BookRouter(r chi.Router, catalog CatalogService, validator *validation.Validator) {
	handler := NewBookHandler(catalog, validator)

	r.Get("/", handler.ListBooks)
	r.With(requireCapability(access.ManageCatalog)).Post("/", handler.CreateBook)
	r.Route("/{bookID}", func(r chi.Router) {
		r.Get("/", handler.GetBook)
		r.With(requireCapability(access.ManageCatalog)).Delete("/", handler.DeleteBook)
	})
}

// CreateBookRequest is the admin create payload. Authors and genres are
// lists of ids or lists of names; they are decoded separately so each
// list's problems are reported under its own field.
type CreateBookRequest struct {
	Title       string          `json:"title" validate:"required,notblank,max=255"`
	Description *string         `json:"description" validate:"omitempty,max=5000"`
	Year        *int            `json:"year" validate:"required,gte=0,lte=2100"`
	ISBN        *string         `json:"isbn" validate:"omitempty,max=32"`
	Authors     json.RawMessage `json:"authors"`
	Genres      json.RawMessage `json:"genres"`
}

func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookID")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	book, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	authors, authorsErr := decodeRefs("authors", req.Authors)
	genres, genresErr := decodeRefs("genres", req.Genres)
	if err := validation.Merge(h.validator.Validate(req), authorsErr, genresErr); err != nil {
		writeServiceError(w, r, err)
		return
	}

	book, err := h.catalog.Create(r.Context(), types.NewBook{
		Title:       req.Title,
		Description: req.Description,
		Year:        *req.Year,
		ISBN:        req.ISBN,
		Authors:     authors,
		Genres:      genres,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookID")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := h.catalog.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeRefs(field string, raw json.RawMessage) (types.EntityRefs, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return types.EntityRefs{}, validation.Field(field, "is required")
	}

	var refs types.EntityRefs
	if err := json.Unmarshal(raw, &refs); err != nil {
		return types.EntityRefs{}, validation.Field(field, err.Error())
	}
	if refs.Len() == 0 {
		return types.EntityRefs{}, validation.Field(field, "must contain at least one item")
	}
	return refs, nil
}
