package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"bookshelf-api/internal/model"
	"bookshelf-api/internal/service"
	"bookshelf-api/internal/views"
	"bookshelf-api/pkg/apierror"
	"bookshelf-api/pkg/response"

	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies for create and update calls.
const maxBodyBytes = 1 << 20

// warnRefreshFailed is attached to mutation responses whose write committed
// but whose cached views could not all be refreshed.
const warnRefreshFailed = "cache refresh failed"

// CatalogHandler serves the author, book and publisher endpoints.
type CatalogHandler struct {
	catalog *service.CatalogService
	logger  *zap.Logger
}

// NewCatalogHandler creates a new catalogue handler.
func NewCatalogHandler(catalog *service.CatalogService, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{catalog: catalog, logger: logger.Named("handler")}
}

type mutation func(ctx context.Context) (model.Document, error)

// mutate runs a write and answers with the resulting document. A failed
// cache refresh after a committed write keeps the success status and adds a
// warning.
func (h *CatalogHandler) mutate(w http.ResponseWriter, r *http.Request, status int, run mutation) {
	doc, err := run(r.Context())
	if err != nil && doc != nil && errors.Is(err, views.ErrCacheRefreshFailed) {
		h.logger.Warn("write committed with stale views", zap.Error(err))
		response.JSONWithWarning(w, status, doc, warnRefreshFailed)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, status, doc)
}

// fail maps service errors onto API errors.
func (h *CatalogHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	response.Error(w, toAPIError(h.logger, r, err))
}

func toAPIError(logger *zap.Logger, r *http.Request, err error) *apierror.Error {
	var apiErr *apierror.Error
	var verr *service.ValidationError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &verr):
		return apierror.Field(verr.Field, verr.Error())
	case errors.Is(err, service.ErrNotFound):
		return apierror.NotFound(err.Error())
	case errors.Is(err, views.ErrUnknownView):
		return apierror.BadRequest(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request timed out", zap.String("path", r.URL.Path), zap.Error(err))
		return apierror.ServiceUnavailable("")
	default:
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		return apierror.InternalError("")
	}
}

// decode reads a JSON body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return apierror.BadRequest("failed to read request body")
	}
	defer r.Body.Close()

	if len(strings.TrimSpace(string(body))) == 0 {
		return apierror.BadRequest("request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apierror.BadRequest("invalid JSON")
	}
	return nil
}
