package handler

import (
	"context"
	"net/http"
	"strconv"

	"bookshelf-api/internal/model"
	"bookshelf-api/internal/service"
	"bookshelf-api/pkg/apierror"
	"bookshelf-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// ListPublishers handles GET /api/v1/publishers
func (h *CatalogHandler) ListPublishers(w http.ResponseWriter, r *http.Request) {
	docs, err := h.catalog.ListPublishers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, docs)
}

// GetPublisher handles GET /api/v1/publishers/{id}
func (h *CatalogHandler) GetPublisher(w http.ResponseWriter, r *http.Request) {
	doc, err := h.catalog.GetPublisher(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, doc)
}

// PublishersEstablished handles GET /api/v1/publishers/established?min=&max=
func (h *CatalogHandler) PublishersEstablished(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	min, err := strconv.Atoi(query.Get("min"))
	if err != nil {
		h.fail(w, r, apierror.Field("min", "min must be an integer year"))
		return
	}
	max, err := strconv.Atoi(query.Get("max"))
	if err != nil {
		h.fail(w, r, apierror.Field("max", "max must be an integer year"))
		return
	}

	docs, err := h.catalog.PublishersEstablishedBetween(r.Context(), min, max)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, docs)
}

// PublisherBooks handles GET /api/v1/publishers/{id}/books
func (h *CatalogHandler) PublisherBooks(w http.ResponseWriter, r *http.Request) {
	docs, err := h.catalog.PublisherBooks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, docs)
}

// CreatePublisher handles POST /api/v1/publishers
func (h *CatalogHandler) CreatePublisher(w http.ResponseWriter, r *http.Request) {
	var in service.PublisherInput
	if err := decode(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	h.mutate(w, r, http.StatusCreated, func(ctx context.Context) (model.Document, error) {
		return h.catalog.CreatePublisher(ctx, in)
	})
}

// UpdatePublisher handles PATCH /api/v1/publishers/{id}
func (h *CatalogHandler) UpdatePublisher(w http.ResponseWriter, r *http.Request) {
	var in service.PublisherInput
	if err := decode(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context) (model.Document, error) {
		return h.catalog.UpdatePublisher(ctx, id, in)
	})
}

// DeletePublisher handles DELETE /api/v1/publishers/{id}
func (h *CatalogHandler) DeletePublisher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context) (model.Document, error) {
		return h.catalog.DeletePublisher(ctx, id)
	})
}
