package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bookshelf-api/internal/cache"
	"bookshelf-api/internal/catalog"
	"bookshelf-api/internal/handler"
	"bookshelf-api/internal/middleware"
	"bookshelf-api/internal/repository"
	"bookshelf-api/internal/router"
	"bookshelf-api/internal/service"
	"bookshelf-api/internal/views"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminKey = "test-admin-key"

// switchableCache refuses writes while down is set.
type switchableCache struct {
	cache.Store
	down bool
}

func (c *switchableCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.down {
		return errors.New("cache write refused")
	}
	return c.Store.Set(ctx, key, value, ttl)
}

type testServer struct {
	http.Handler
	cache *switchableCache
}

func newServer(t *testing.T) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	c := &switchableCache{Store: cache.NewMemoryCache()}
	t.Cleanup(func() { _ = c.Close() })

	reg, err := catalog.NewRegistry(catalog.Options{ListTTL: time.Hour})
	require.NoError(t, err)
	engine, err := views.NewEngine(reg, store, c, views.Options{EvictOnFailure: true}, nil)
	require.NoError(t, err)

	svc := service.NewCatalogService(store, engine, 5*time.Second, nil)
	pruner := service.NewPruneScheduler(engine, service.PruneConfig{}, nil)

	r := router.New(router.Config{
		Handler: handler.New("bookshelf-api", "test",
			handler.Dependency{Name: "store", Pinger: store},
			handler.Dependency{Name: "cache", Pinger: c},
		),
		CatalogHandler: handler.NewCatalogHandler(svc, nil),
		AdminHandler:   handler.NewAdminHandler(svc, pruner, "memory", "memory", nil),
		AdminAuth:      middleware.NewAdminAuth([]string{adminKey}),
	})
	return &testServer{Handler: r, cache: c}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Warning string          `json:"warning"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decodeDoc(t *testing.T, raw json.RawMessage) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func decodeList(t *testing.T, raw json.RawMessage) []map[string]interface{} {
	t.Helper()
	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &docs))
	return docs
}

func (s *testServer) seed(t *testing.T) (authorID, publisherID, bookID string) {
	t.Helper()

	code, env := s.do(t, http.MethodPost, "/api/v1/authors", map[string]interface{}{
		"name": "Octavia Butler", "dateOfBirth": "06/22/1947",
	})
	require.Equal(t, http.StatusCreated, code)
	authorID = decodeDoc(t, env.Data)["_id"].(string)

	code, env = s.do(t, http.MethodPost, "/api/v1/publishers", map[string]interface{}{
		"name": "Doubleday", "establishedYear": 1897, "location": "New York",
	})
	require.Equal(t, http.StatusCreated, code)
	publisherID = decodeDoc(t, env.Data)["_id"].(string)

	code, env = s.do(t, http.MethodPost, "/api/v1/books", map[string]interface{}{
		"title": "Kindred", "publicationDate": "06/01/1979", "genre": "SCIENCE_FICTION",
		"authorId": authorID, "publisherId": publisherID,
	})
	require.Equal(t, http.StatusCreated, code)
	bookID = decodeDoc(t, env.Data)["_id"].(string)
	return authorID, publisherID, bookID
}

func TestCatalogCRUD(t *testing.T) {
	s := newServer(t)
	authorID, publisherID, bookID := s.seed(t)

	code, env := s.do(t, http.MethodGet, "/api/v1/authors/"+authorID, nil)
	require.Equal(t, http.StatusOK, code)
	author := decodeDoc(t, env.Data)
	assert.EqualValues(t, 1, author["numOfBooks"])

	code, env = s.do(t, http.MethodGet, "/api/v1/books/search?q=kind", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeList(t, env.Data), 1)

	code, env = s.do(t, http.MethodGet, "/api/v1/books/genre/science_fiction", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeList(t, env.Data), 1)

	code, env = s.do(t, http.MethodGet, "/api/v1/publishers/established?min=1800&max=1900", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeList(t, env.Data), 1)

	code, env = s.do(t, http.MethodPatch, "/api/v1/books/"+bookID, map[string]interface{}{"title": "Kindred (Reissue)"})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, env.Warning)

	code, env = s.do(t, http.MethodGet, "/api/v1/publishers/"+publisherID+"/books", nil)
	require.Equal(t, http.StatusOK, code)
	books := decodeList(t, env.Data)
	require.Len(t, books, 1)
	assert.Equal(t, "Kindred (Reissue)", books[0]["title"])

	code, _ = s.do(t, http.MethodDelete, "/api/v1/authors/"+authorID, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/books/"+bookID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/api/v1/books", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decodeList(t, env.Data))
}

func TestCatalogValidation(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"bad date", http.MethodPost, "/api/v1/authors", map[string]interface{}{"name": "X", "dateOfBirth": "02/30/2000"}, http.StatusBadRequest},
		{"missing body", http.MethodPost, "/api/v1/authors", nil, http.StatusBadRequest},
		{"unknown genre", http.MethodGet, "/api/v1/books/genre/poetry", nil, http.StatusBadRequest},
		{"empty search", http.MethodGet, "/api/v1/authors/search?q=%20", nil, http.StatusBadRequest},
		{"non-numeric year", http.MethodGet, "/api/v1/publishers/established?min=abc&max=2000", nil, http.StatusBadRequest},
		{"inverted range", http.MethodGet, "/api/v1/publishers/established?min=2000&max=1900", nil, http.StatusBadRequest},
		{"missing author", http.MethodGet, "/api/v1/authors/nope", nil, http.StatusNotFound},
		{"empty update", http.MethodPatch, "/api/v1/publishers/nope", map[string]interface{}{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.False(t, env.Success)
		})
	}
}

func TestMutation_RefreshFailureIsAWarning(t *testing.T) {
	s := newServer(t)
	authorID, _, _ := s.seed(t)

	code, _ := s.do(t, http.MethodGet, "/api/v1/authors", nil)
	require.Equal(t, http.StatusOK, code)

	s.cache.down = true
	code, env := s.do(t, http.MethodPatch, "/api/v1/authors/"+authorID, map[string]interface{}{"bio": "Parable of the Sower"})
	s.cache.down = false

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "cache refresh failed", env.Warning)
	assert.Equal(t, "Parable of the Sower", decodeDoc(t, env.Data)["bio"])

	code, env = s.do(t, http.MethodGet, "/api/v1/authors", nil)
	require.Equal(t, http.StatusOK, code)
	list := decodeList(t, env.Data)
	require.Len(t, list, 1)
	assert.Equal(t, "Parable of the Sower", list[0]["bio"])
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, http.MethodGet, "/api/v1/admin/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/admin/stats", nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := s.do(t, http.MethodGet, "/api/v1/admin/stats", nil, "Authorization", "Bearer "+adminKey)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, decodeDoc(t, env.Data), "catalog")

	code, _ = s.do(t, http.MethodGet, "/api/v1/books", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/admin/views/evict", map[string]string{"key": "books"}, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, decodeDoc(t, env.Data)["removed"])

	code, _ = s.do(t, http.MethodPost, "/api/v1/admin/views/evict", map[string]string{"key": "chapters"}, "X-API-Key", adminKey)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/admin/views/prune", nil, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, decodeDoc(t, env.Data)["pruned"])
}

func TestHealthAndReady(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodGet, "/api/v1/ready", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, decodeDoc(t, env.Data)["ready"])

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bookshelf_http_requests_total")
}
