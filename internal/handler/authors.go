package handler

import (
	"context"
	"net/http"

	"bookshelf-api/internal/model"
	"bookshelf-api/internal/service"
	"bookshelf-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// ListAuthors handles GET /api/v1/authors
func (h *CatalogHandler) ListAuthors(w http.ResponseWriter, r *http.Request) {
	docs, err := h.catalog.ListAuthors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, docs)
}

// GetAuthor handles GET /api/v1/authors/{id}
func (h *CatalogHandler) GetAuthor(w http.ResponseWriter, r *http.Request) {
	doc, err := h.catalog.GetAuthor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, doc)
}

// SearchAuthors handles GET /api/v1/authors/search?q=
func (h *CatalogHandler) SearchAuthors(w http.ResponseWriter, r *http.Request) {
	docs, err := h.catalog.SearchAuthors(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, docs)
}

// AuthorBooks handles GET /api/v1/authors/{id}/books
func (h *CatalogHandler) AuthorBooks(w http.ResponseWriter, r *http.Request) {
	docs, err := h.catalog.AuthorBooks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, docs)
}

// CreateAuthor handles POST /api/v1/authors
func (h *CatalogHandler) CreateAuthor(w http.ResponseWriter, r *http.Request) {
	var in service.AuthorInput
	if err := decode(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	h.mutate(w, r, http.StatusCreated, func(ctx context.Context) (model.Document, error) {
		return h.catalog.CreateAuthor(ctx, in)
	})
}

// UpdateAuthor handles PATCH /api/v1/authors/{id}
func (h *CatalogHandler) UpdateAuthor(w http.ResponseWriter, r *http.Request) {
	var in service.AuthorInput
	if err := decode(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context) (model.Document, error) {
		return h.catalog.UpdateAuthor(ctx, id, in)
	})
}

// DeleteAuthor handles DELETE /api/v1/authors/{id}
func (h *CatalogHandler) DeleteAuthor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context) (model.Document, error) {
		return h.catalog.DeleteAuthor(ctx, id)
	})
}
