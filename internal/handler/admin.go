package handler

import (
	"net/http"
	"runtime"
	"time"

	"bookshelf-api/internal/service"
	"bookshelf-api/pkg/apierror"
	"bookshelf-api/pkg/response"

	"go.uber.org/zap"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	catalog   *service.CatalogService
	pruner    *service.PruneScheduler
	storeType string
	cacheType string
	logger    *zap.Logger
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	catalog *service.CatalogService,
	pruner *service.PruneScheduler,
	storeType, cacheType string,
	logger *zap.Logger,
) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		catalog:   catalog,
		pruner:    pruner,
		storeType: storeType,
		cacheType: cacheType,
		logger:    logger.Named("admin"),
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.storeType
	stats["cache_type"] = h.cacheType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	catalogStats, err := h.catalog.Stats(r.Context())
	if err != nil {
		stats["catalog"] = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	} else {
		stats["catalog"] = catalogStats
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// EvictRequest names the cache key to drop.
type EvictRequest struct {
	Key string `json:"key"`
}

// EvictView handles POST /api/v1/admin/views/evict
func (h *AdminHandler) EvictView(w http.ResponseWriter, r *http.Request) {
	var req EvictRequest
	if err := decode(w, r, &req); err != nil {
		response.Error(w, toAPIError(h.logger, r, err))
		return
	}
	if req.Key == "" {
		response.Error(w, apierror.Field("key", "key is required"))
		return
	}

	removed, err := h.catalog.EvictView(r.Context(), req.Key)
	if err != nil {
		response.Error(w, toAPIError(h.logger, r, err))
		return
	}
	h.logger.Info("view evicted by admin", zap.String("key", req.Key), zap.Bool("removed", removed))
	response.OK(w, map[string]interface{}{
		"key":     req.Key,
		"removed": removed,
	})
}

// PruneViews handles POST /api/v1/admin/views/prune
func (h *AdminHandler) PruneViews(w http.ResponseWriter, r *http.Request) {
	pruned, err := h.pruner.RunNow()
	if err != nil {
		response.Error(w, toAPIError(h.logger, r, err))
		return
	}
	response.OK(w, map[string]interface{}{"pruned": pruned})
}
