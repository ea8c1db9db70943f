package views

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyString(t *testing.T) {
	assert.Equal(t, "authors", NewKey("authors").String())
	assert.Equal(t, "author:42", NewKey("author", "42").String())
	assert.Equal(t, "foundedYear:1900:2000", NewKey("foundedYear", "1900", "2000").String())
	assert.Equal(t, "search:author:le guin", NewKey("search:author", "le guin").String())
}

func TestParseKey(t *testing.T) {
	key, err := parseKey("search:book", 1, "search:book:a:b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:b"}, key.Params)

	key, err = parseKey("foundedYear", 2, "foundedYear:1900:2000")
	require.NoError(t, err)
	assert.Equal(t, []string{"1900", "2000"}, key.Params)

	_, err = parseKey("foundedYear", 2, "foundedYear:1900")
	assert.Error(t, err)

	_, err = parseKey("genre", 1, "books")
	assert.Error(t, err)

	key, err = parseKey("books", 0, "books")
	require.NoError(t, err)
	assert.Empty(t, key.Params)
}

func TestRegistryParse(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(
		EntityView("book"),
		ListView("book", time.Hour),
		FilteredView("search:book", "book", 1, 0, nil),
	))

	key, d, err := reg.Parse("search:book:dune")
	require.NoError(t, err)
	assert.Equal(t, "search:book", d.Name)
	assert.Equal(t, []string{"dune"}, key.Params)

	_, d, err = reg.Parse("books")
	require.NoError(t, err)
	assert.Equal(t, CollectionList, d.Kind)

	_, _, err = reg.Parse("chapter:1")
	assert.ErrorIs(t, err, ErrUnknownView)

	assert.Error(t, reg.Register(EntityView("book")), "duplicate names are rejected")
}

func TestCoordinator_SerialisesPerKey(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := c.Acquire(ctx, "books")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, c.InFlight())
}

func TestCoordinator_DistinctKeysDoNotBlock(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	releaseA, err := c.Acquire(ctx, "a")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := c.Acquire(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestCoordinator_AcquireHonoursContext(t *testing.T) {
	c := NewCoordinator()
	release, err := c.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op
	assert.Equal(t, 0, c.InFlight())
}
