package handler

import (
	"context"
	"net/http"

	"bookshelf-api/internal/model"
	"bookshelf-api/internal/service"
	"bookshelf-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// ListBooks handles GET /api/v1/books
func (h *CatalogHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	docs, err := h.catalog.ListBooks(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, docs)
}

// GetBook handles GET /api/v1/books/{id}
func (h *CatalogHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	doc, err := h.catalog.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, doc)
}

// SearchBooks handles GET /api/v1/books/search?q=
func (h *CatalogHandler) SearchBooks(w http.ResponseWriter, r *http.Request) {
	docs, err := h.catalog.SearchBooks(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, docs)
}

// BooksByGenre handles GET /api/v1/books/genre/{genre}
func (h *CatalogHandler) BooksByGenre(w http.ResponseWriter, r *http.Request) {
	docs, err := h.catalog.BooksByGenre(r.Context(), chi.URLParam(r, "genre"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, docs)
}

// CreateBook handles POST /api/v1/books
func (h *CatalogHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var in service.BookInput
	if err := decode(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	h.mutate(w, r, http.StatusCreated, func(ctx context.Context) (model.Document, error) {
		return h.catalog.CreateBook(ctx, in)
	})
}

// UpdateBook handles PATCH /api/v1/books/{id}
func (h *CatalogHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var in service.BookInput
	if err := decode(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context) (model.Document, error) {
		return h.catalog.UpdateBook(ctx, id, in)
	})
}

// DeleteBook handles DELETE /api/v1/books/{id}
func (h *CatalogHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context) (model.Document, error) {
		return h.catalog.DeleteBook(ctx, id)
	})
}
