package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadgerCache(t *testing.T) *BadgerCache {
	t.Helper()
	c, err := NewBadgerCache(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBadgerCache_RoundTrip(t *testing.T) {
	c := newTestBadgerCache(t)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "publisher:1", []byte(`{"name":"p"}`), NoExpiration))

	got, err := c.Get(ctx, "publisher:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"p"}`, string(got))

	ok, err := c.Exists(ctx, "publisher:1")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := c.Delete(ctx, "publisher:1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.Delete(ctx, "publisher:1")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = c.Get(ctx, "publisher:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestBadgerCache_KeysAndExpire(t *testing.T) {
	c := newTestBadgerCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "genre:FICTION", []byte("[]"), NoExpiration))
	require.NoError(t, c.Set(ctx, "genre:HORROR", []byte("[]"), NoExpiration))
	require.NoError(t, c.Set(ctx, "books", []byte("[]"), time.Hour))

	keys, err := c.Keys(ctx, "genre:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"genre:FICTION", "genre:HORROR"}, keys)

	ok, err := c.Expire(ctx, "books", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Expire(ctx, "nope", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerCache_ClosedIsUnavailable(t *testing.T) {
	c, err := NewBadgerCache(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.True(t, IsUnavailable(c.Ping(context.Background())))
}

func TestNewBadgerCache_RequiresDir(t *testing.T) {
	_, err := NewBadgerCache(BadgerConfig{})
	assert.Error(t, err)
}
