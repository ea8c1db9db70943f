package views_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookshelf-api/internal/cache"
	"bookshelf-api/internal/catalog"
	"bookshelf-api/internal/model"
	"bookshelf-api/internal/repository"
	"bookshelf-api/internal/views"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts reads and can be switched to fail them. A pause hook
// runs once, after the next Find has read the store and before it returns.
type countingStore struct {
	repository.DocumentStore
	reads atomic.Int64
	fail  atomic.Bool
	pause atomic.Pointer[func()]
}

var errStoreDown = errors.New("store down")

func (s *countingStore) Find(ctx context.Context, kind string, f repository.Filter) ([]model.Document, error) {
	s.reads.Add(1)
	if s.fail.Load() {
		return nil, errStoreDown
	}
	docs, err := s.DocumentStore.Find(ctx, kind, f)
	if hook := s.pause.Swap(nil); hook != nil {
		(*hook)()
	}
	return docs, err
}

func (s *countingStore) FindByID(ctx context.Context, kind, id string) (model.Document, error) {
	s.reads.Add(1)
	if s.fail.Load() {
		return nil, errStoreDown
	}
	return s.DocumentStore.FindByID(ctx, kind, id)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	raw    *repository.MemoryStore
	store  *countingStore
	cache  *cache.MemoryCache
	clock  *testClock
	engine *views.Engine
	reader *views.Reader
}

func newFixture(t *testing.T, mutate ...func(*views.Options)) *fixture {
	t.Helper()

	raw := repository.NewMemoryStore()
	store := &countingStore{DocumentStore: raw}
	clock := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.NewMemoryCacheWithClock(clock.now)
	t.Cleanup(func() { _ = c.Close() })

	reg, err := catalog.NewRegistry(catalog.Options{ListTTL: time.Hour})
	require.NoError(t, err)

	opts := views.Options{Concurrency: 4, EvictOnFailure: true, FilteredMax: 100}
	for _, m := range mutate {
		m(&opts)
	}
	engine, err := views.NewEngine(reg, store, c, opts, nil)
	require.NoError(t, err)

	return &fixture{raw: raw, store: store, cache: c, clock: clock, engine: engine, reader: engine.Reader()}
}

func (f *fixture) insert(t *testing.T, kind string, doc model.Document) model.Document {
	t.Helper()
	id, err := f.raw.Insert(context.Background(), kind, doc)
	require.NoError(t, err)
	stored, err := f.raw.FindByID(context.Background(), kind, id)
	require.NoError(t, err)
	return stored
}

func (f *fixture) get(t *testing.T, kind, id string) model.Document {
	t.Helper()
	doc, err := f.raw.FindByID(context.Background(), kind, id)
	require.NoError(t, err)
	return doc
}

func (f *fixture) update(t *testing.T, kind, id string, patch repository.Patch) model.MutationEvent {
	t.Helper()
	before := f.get(t, kind, id)
	matched, err := f.raw.Update(context.Background(), kind, id, patch)
	require.NoError(t, err)
	require.True(t, matched)
	return model.MutationEvent{Kind: kind, ID: id, Op: model.OpUpdate, Before: before, After: f.get(t, kind, id)}
}

func (f *fixture) remove(t *testing.T, kind, id string) model.MutationEvent {
	t.Helper()
	before := f.get(t, kind, id)
	removed, err := f.raw.Delete(context.Background(), kind, id)
	require.NoError(t, err)
	require.True(t, removed)
	return model.MutationEvent{Kind: kind, ID: id, Op: model.OpDelete, Before: before}
}

// warm reads key through the cache and asserts it is now cached.
func (f *fixture) warm(t *testing.T, key views.Key) {
	t.Helper()
	_, err := f.reader.Get(context.Background(), key)
	require.NoError(t, err)
	ok, err := f.cache.Exists(context.Background(), key.String())
	require.NoError(t, err)
	require.True(t, ok, "expected %s cached", key)
}

func (f *fixture) cached(t *testing.T, key views.Key) ([]byte, bool) {
	t.Helper()
	payload, err := f.cache.Get(context.Background(), key.String())
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, false
	}
	require.NoError(t, err)
	return payload, true
}

// fresh recomputes key from the store, bypassing the cache.
func (f *fixture) fresh(t *testing.T, key views.Key) []byte {
	t.Helper()
	d, ok := f.engine.Registry().Lookup(key.Name)
	require.True(t, ok)
	value, err := d.Recompute(context.Background(), f.raw, key.Params)
	require.NoError(t, err)
	payload, err := json.Marshal(value)
	require.NoError(t, err)
	return payload
}

func idsOf(t *testing.T, payload []byte) []string {
	t.Helper()
	var docs []model.Document
	require.NoError(t, json.Unmarshal(payload, &docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID()
	}
	return ids
}

func TestOnMutation_UpdateRefreshesCachedEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.insert(t, model.KindAuthor, model.Document{model.FieldName: "Ursula Le Guin", model.FieldBooks: []any{}})
	key := catalog.EntityKey(model.KindAuthor, author.ID())
	f.warm(t, key)
	f.warm(t, catalog.ListKey(model.KindAuthor))

	event := f.update(t, model.KindAuthor, author.ID(), repository.Patch{Set: map[string]any{model.FieldBio: "Earthsea"}})
	require.NoError(t, f.engine.OnMutation(ctx, event))

	got, ok := f.cached(t, key)
	require.True(t, ok)
	assert.JSONEq(t, string(f.fresh(t, key)), string(got))

	list, ok := f.cached(t, catalog.ListKey(model.KindAuthor))
	require.True(t, ok)
	assert.JSONEq(t, string(f.fresh(t, catalog.ListKey(model.KindAuthor))), string(list))
}

func TestOnMutation_DoesNotPopulateUncachedViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	author := f.insert(t, model.KindAuthor, model.Document{model.FieldName: "Iain Banks"})
	require.NoError(t, f.engine.OnMutation(ctx, model.MutationEvent{
		Kind: model.KindAuthor, ID: author.ID(), Op: model.OpCreate, After: author,
	}))

	event := f.update(t, model.KindAuthor, author.ID(), repository.Patch{Set: map[string]any{model.FieldName: "Iain M. Banks"}})
	require.NoError(t, f.engine.OnMutation(ctx, event))

	assert.Equal(t, 0, f.cache.Len())
}

func TestReader_HitDoesNotTouchStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.insert(t, model.KindBook, model.Document{model.FieldTitle: "Dune", model.FieldGenre: "SCIENCE_FICTION"})
	key := catalog.EntityKey(model.KindBook, book.ID())

	first, err := f.reader.Get(ctx, key)
	require.NoError(t, err)
	reads := f.store.reads.Load()

	second, err := f.reader.Get(ctx, key)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, reads, f.store.reads.Load())
}

func TestReader_NotFoundIsNotCached(t *testing.T) {
	f := newFixture(t)

	_, err := f.reader.Get(context.Background(), catalog.EntityKey(model.KindAuthor, "missing"))
	assert.ErrorIs(t, err, views.ErrNotFound)
	assert.Equal(t, 0, f.cache.Len())
}

func TestReader_UnknownView(t *testing.T) {
	f := newFixture(t)

	_, err := f.reader.Get(context.Background(), views.NewKey("chapters"))
	assert.ErrorIs(t, err, views.ErrUnknownView)
}

func TestEvict_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.insert(t, model.KindAuthor, model.Document{model.FieldName: "A"})
	key := catalog.EntityKey(model.KindAuthor, author.ID())
	f.warm(t, key)

	removed, err := f.engine.Evict(ctx, key)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.engine.Evict(ctx, key)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 0, f.cache.Len())
}

func TestOnMutation_DeleteCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	publisher := f.insert(t, model.KindPublisher, model.Document{model.FieldName: "Ace", model.FieldEstablishedYear: 1952, model.FieldBooks: []any{}})
	author := f.insert(t, model.KindAuthor, model.Document{model.FieldName: "Frank Herbert", model.FieldBooks: []any{}})
	var books []model.Document
	for _, title := range []string{"Dune", "Dune Messiah"} {
		b := f.insert(t, model.KindBook, model.Document{
			model.FieldTitle:       title,
			model.FieldGenre:       "SCIENCE_FICTION",
			model.FieldAuthorID:    author.ID(),
			model.FieldPublisherID: publisher.ID(),
		})
		f.update(t, model.KindAuthor, author.ID(), repository.Patch{Push: map[string]string{model.FieldBooks: b.ID()}})
		f.update(t, model.KindPublisher, publisher.ID(), repository.Patch{Push: map[string]string{model.FieldBooks: b.ID()}})
		books = append(books, b)
	}

	authorKey := catalog.EntityKey(model.KindAuthor, author.ID())
	childList := catalog.BooksByAuthorKey(author.ID())
	f.warm(t, authorKey)
	f.warm(t, childList)
	f.warm(t, catalog.GenreKey("SCIENCE_FICTION"))
	f.warm(t, catalog.EntityKey(model.KindPublisher, publisher.ID()))
	for _, b := range books {
		f.warm(t, catalog.EntityKey(model.KindBook, b.ID()))
	}

	// Children are deleted first, as the catalogue service does.
	var cascade []model.MutationEvent
	for _, b := range books {
		f.update(t, model.KindPublisher, publisher.ID(), repository.Patch{Pull: map[string]string{model.FieldBooks: b.ID()}})
		cascade = append(cascade, f.remove(t, model.KindBook, b.ID()))
	}
	event := f.remove(t, model.KindAuthor, author.ID())
	event.Cascade = cascade

	require.NoError(t, f.engine.OnMutation(ctx, event))

	_, ok := f.cached(t, authorKey)
	assert.False(t, ok)
	for _, b := range books {
		_, ok := f.cached(t, catalog.EntityKey(model.KindBook, b.ID()))
		assert.False(t, ok)
	}

	children, ok := f.cached(t, childList)
	require.True(t, ok, "child list is refreshed, not evicted")
	assert.Empty(t, idsOf(t, children))

	genre, ok := f.cached(t, catalog.GenreKey("SCIENCE_FICTION"))
	require.True(t, ok)
	assert.Empty(t, idsOf(t, genre))

	pub, ok := f.cached(t, catalog.EntityKey(model.KindPublisher, publisher.ID()))
	require.True(t, ok)
	assert.JSONEq(t, string(f.fresh(t, catalog.EntityKey(model.KindPublisher, publisher.ID()))), string(pub))
}

func TestOnMutation_RelationshipMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.insert(t, model.KindAuthor, model.Document{model.FieldName: "A", model.FieldBooks: []any{}})
	b := f.insert(t, model.KindAuthor, model.Document{model.FieldName: "B", model.FieldBooks: []any{}})
	x := f.insert(t, model.KindBook, model.Document{model.FieldTitle: "X", model.FieldGenre: "MYSTERY", model.FieldAuthorID: a.ID()})
	f.update(t, model.KindAuthor, a.ID(), repository.Patch{Push: map[string]string{model.FieldBooks: x.ID()}})

	listA, listB := catalog.BooksByAuthorKey(a.ID()), catalog.BooksByAuthorKey(b.ID())
	f.warm(t, listA)
	f.warm(t, listB)
	f.warm(t, catalog.EntityKey(model.KindAuthor, a.ID()))
	f.warm(t, catalog.EntityKey(model.KindAuthor, b.ID()))

	event := f.update(t, model.KindBook, x.ID(), repository.Patch{Set: map[string]any{model.FieldAuthorID: b.ID()}})
	f.update(t, model.KindAuthor, a.ID(), repository.Patch{Pull: map[string]string{model.FieldBooks: x.ID()}})
	f.update(t, model.KindAuthor, b.ID(), repository.Patch{Push: map[string]string{model.FieldBooks: x.ID()}})
	require.NoError(t, f.engine.OnMutation(ctx, event))

	gotA, ok := f.cached(t, listA)
	require.True(t, ok)
	assert.NotContains(t, idsOf(t, gotA), x.ID())

	gotB, ok := f.cached(t, listB)
	require.True(t, ok)
	assert.Contains(t, idsOf(t, gotB), x.ID())

	authorA, ok := f.cached(t, catalog.EntityKey(model.KindAuthor, a.ID()))
	require.True(t, ok)
	assert.JSONEq(t, string(f.fresh(t, catalog.EntityKey(model.KindAuthor, a.ID()))), string(authorA))
}

func TestOnMutation_FilteredViewMatchesBothSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	book := f.insert(t, model.KindBook, model.Document{model.FieldTitle: "It", model.FieldGenre: "FANTASY"})
	fantasy := catalog.GenreKey("FANTASY")
	f.warm(t, fantasy)

	event := f.update(t, model.KindBook, book.ID(), repository.Patch{Set: map[string]any{model.FieldGenre: "HORROR"}})
	require.NoError(t, f.engine.OnMutation(ctx, event))

	got, ok := f.cached(t, fantasy)
	require.True(t, ok)
	assert.Empty(t, idsOf(t, got))

	_, ok = f.cached(t, catalog.GenreKey("HORROR"))
	assert.False(t, ok, "uncached filtered view must not be created")
}

func TestOnMutation_FoundedYearRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inside := catalog.FoundedYearKey(1900, 2000)
	outside := catalog.FoundedYearKey(2000, 2020)
	f.warm(t, inside)
	f.warm(t, outside)

	p := f.insert(t, model.KindPublisher, model.Document{model.FieldName: "Tor", model.FieldEstablishedYear: 1980})
	require.NoError(t, f.engine.OnMutation(ctx, model.MutationEvent{Kind: model.KindPublisher, ID: p.ID(), Op: model.OpCreate, After: p}))

	got, ok := f.cached(t, inside)
	require.True(t, ok)
	assert.Equal(t, []string{p.ID()}, idsOf(t, got))

	got, ok = f.cached(t, outside)
	require.True(t, ok)
	assert.Empty(t, idsOf(t, got))
}

func TestOnMutation_ConcurrentMutationsConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	list := catalog.ListKey(model.KindBook)
	f.warm(t, list)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := model.Document{model.FieldTitle: fmt.Sprintf("Book %d", i), model.FieldGenre: "ROMANCE"}
			id, err := f.raw.Insert(ctx, model.KindBook, doc)
			assert.NoError(t, err)
			doc[model.IDField] = id
			assert.NoError(t, f.engine.OnMutation(ctx, model.MutationEvent{Kind: model.KindBook, ID: id, Op: model.OpCreate, After: doc}))
		}(i)
	}
	wg.Wait()

	got, ok := f.cached(t, list)
	require.True(t, ok)
	assert.JSONEq(t, string(f.fresh(t, list)), string(got))
	assert.Len(t, idsOf(t, got), 20)
}

func TestReader_ListExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, model.KindPublisher, model.Document{model.FieldName: "Gollancz", model.FieldEstablishedYear: 1927})
	list := catalog.ListKey(model.KindPublisher)
	f.warm(t, list)

	f.clock.advance(3601 * time.Second)

	_, err := f.cache.Get(ctx, list.String())
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	reads := f.store.reads.Load()
	_, err = f.reader.Get(ctx, list)
	require.NoError(t, err)
	assert.Equal(t, reads+1, f.store.reads.Load())

	_, ok := f.cached(t, list)
	assert.True(t, ok)
}

func TestOnMutation_RefreshFailureEvicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.insert(t, model.KindAuthor, model.Document{model.FieldName: "A"})
	key := catalog.EntityKey(model.KindAuthor, author.ID())
	f.warm(t, key)

	event := f.update(t, model.KindAuthor, author.ID(), repository.Patch{Set: map[string]any{model.FieldName: "B"}})
	f.store.fail.Store(true)

	err := f.engine.OnMutation(ctx, event)
	require.ErrorIs(t, err, views.ErrCacheRefreshFailed)

	var refreshErr *views.RefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Contains(t, refreshErr.Keys, key.String())

	_, ok := f.cached(t, key)
	assert.False(t, ok, "stale entry must be evicted")

	// The committed write is untouched.
	assert.Equal(t, "B", f.get(t, model.KindAuthor, author.ID()).String(model.FieldName))
}

func TestOnMutation_RefreshFailureKeepsEntryWhenConfigured(t *testing.T) {
	f := newFixture(t, func(o *views.Options) { o.EvictOnFailure = false })
	ctx := context.Background()
	author := f.insert(t, model.KindAuthor, model.Document{model.FieldName: "A"})
	key := catalog.EntityKey(model.KindAuthor, author.ID())
	f.warm(t, key)

	event := f.update(t, model.KindAuthor, author.ID(), repository.Patch{Set: map[string]any{model.FieldName: "B"}})
	f.store.fail.Store(true)

	assert.ErrorIs(t, f.engine.OnMutation(ctx, event), views.ErrCacheRefreshFailed)
	_, ok := f.cached(t, key)
	assert.True(t, ok)
}

func TestOnMutation_MissingParentIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.warm(t, catalog.ListKey(model.KindBook))

	book := f.insert(t, model.KindBook, model.Document{model.FieldTitle: "Orphan", model.FieldGenre: "HORROR", model.FieldAuthorID: "ghost"})
	err := f.engine.OnMutation(ctx, model.MutationEvent{Kind: model.KindBook, ID: book.ID(), Op: model.OpCreate, After: book})
	require.NoError(t, err)

	got, ok := f.cached(t, catalog.ListKey(model.KindBook))
	require.True(t, ok)
	assert.Equal(t, []string{book.ID()}, idsOf(t, got))
}

func TestReader_LimiterBoundsFilteredViews(t *testing.T) {
	f := newFixture(t, func(o *views.Options) { o.FilteredMax = 2 })
	ctx := context.Background()

	first := catalog.BookSearchKey("dune")
	f.warm(t, first)
	f.warm(t, catalog.BookSearchKey("it"))
	f.warm(t, catalog.BookSearchKey("emma"))

	_, ok := f.cached(t, first)
	assert.False(t, ok)

	keys, err := f.cache.Keys(ctx, catalog.ViewBookSearch+":*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

// downCache fails every call as an unreachable backend would.
type downCache struct{}

var errDown = fmt.Errorf("%w: connection refused", cache.ErrCacheUnavailable)

func (downCache) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (downCache) Set(context.Context, string, []byte, time.Duration) error { return errDown }
func (downCache) Delete(context.Context, string) (bool, error) { return false, errDown }
func (downCache) Exists(context.Context, string) (bool, error) { return false, errDown }
func (downCache) Keys(context.Context, string) ([]string, error) { return nil, errDown }
func (downCache) Expire(context.Context, string, time.Duration) (bool, error) { return false, errDown }
func (downCache) Ping(context.Context) error { return errDown }
func (downCache) Close() error { return nil }

func TestReader_CacheUnavailableIsAMiss(t *testing.T) {
	store := repository.NewMemoryStore()
	reg, err := catalog.NewRegistry(catalog.Options{ListTTL: time.Hour})
	require.NoError(t, err)
	engine, err := views.NewEngine(reg, store, downCache{}, views.Options{}, nil)
	require.NoError(t, err)

	id, err := store.Insert(context.Background(), model.KindAuthor, model.Document{model.FieldName: "A"})
	require.NoError(t, err)

	doc, err := views.Load[model.Document](context.Background(), engine.Reader(), catalog.EntityKey(model.KindAuthor, id))
	require.NoError(t, err)
	assert.Equal(t, "A", doc.String(model.FieldName))
}
