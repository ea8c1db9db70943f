package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"bookshelf-api/pkg/response"
)

// Pinger is anything whose reachability can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency is a named backend checked by the readiness probe.
type Dependency struct {
	Name   string
	Pinger Pinger
}

// Handler contains shared HTTP handlers and their dependencies.
type Handler struct {
	service      string
	version      string
	dependencies []Dependency
	pingTimeout  time.Duration
	startTime    time.Time
}

// New creates a new handler.
func New(service, version string, deps ...Dependency) *Handler {
	return &Handler{
		service:      service,
		version:      version,
		dependencies: deps,
		pingTimeout:  2 * time.Second,
		startTime:    time.Now(),
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ready handles GET /api/v1/ready. It answers 503 when any dependency
// fails its ping.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := h.runChecks(r.Context())

	allReady := true
	for _, check := range checks {
		if check.Status != "ok" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func (h *Handler) runChecks(ctx context.Context) []Check {
	checks := []Check{{Name: "api", Status: "ok"}}
	for _, dep := range h.dependencies {
		pingCtx, cancel := context.WithTimeout(ctx, h.pingTimeout)
		err := dep.Pinger.Ping(pingCtx)
		cancel()

		check := Check{Name: dep.Name, Status: "ok"}
		if err != nil {
			check.Status = "error"
			check.Error = err.Error()
		}
		checks = append(checks, check)
	}
	return checks
}

// StatusResponse represents the unified status response for uptime monitors.
type StatusResponse struct {
	Service       string            `json:"service"`
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	PingMS        int64             `json:"ping_ms"`
	MemoryMB      float64           `json:"memory_mb"`
	Checks        map[string]string `json:"checks"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	requestStart := time.Now()

	checks := make(map[string]string)
	overall := "ok"
	for _, check := range h.runChecks(r.Context()) {
		checks[check.Name] = check.Status
		if check.Status != "ok" {
			overall = "degraded"
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, StatusResponse{
		Service:       h.service,
		Status:        overall,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		PingMS:        time.Since(requestStart).Milliseconds(),
		MemoryMB:      float64(int(memoryMB*100)) / 100,
		Checks:        checks,
	})
}
