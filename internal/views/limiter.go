package views

import (
	"context"
	"time"

	"bookshelf-api/internal/cache"
	"bookshelf-api/internal/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Limiter bounds the number of cached filtered-query views. When a new key
// pushes the count past the limit, the least recently used key is deleted
// from the cache.
type Limiter struct {
	lru    *lru.Cache[string, struct{}]
	cache  cache.Store
	logger *zap.Logger
}

// NewLimiter creates a limiter tracking at most size keys.
func NewLimiter(size int, c cache.Store, logger *zap.Logger) (*Limiter, error) {
	l := &Limiter{cache: c, logger: logger}
	inner, err := lru.NewWithEvict[string, struct{}](size, l.onEvict)
	if err != nil {
		return nil, err
	}
	l.lru = inner
	return l, nil
}

// onEvict runs outside the LRU lock.
func (l *Limiter) onEvict(key string, _ struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := l.cache.Delete(ctx, key); err != nil {
		l.logger.Warn("failed to delete evicted filtered view", zap.String("key", key), zap.Error(err))
	} else {
		l.logger.Debug("filtered view evicted by limiter", zap.String("key", key))
	}
	metrics.FilteredViewsTracked.Set(float64(l.lru.Len()))
}

// Touch records use of key, evicting the oldest key when over the limit.
func (l *Limiter) Touch(key string) {
	l.lru.Add(key, struct{}{})
	metrics.FilteredViewsTracked.Set(float64(l.lru.Len()))
}

// Remove stops tracking key. The eviction callback also deletes it from the
// cache, which is a no-op when the caller already did.
func (l *Limiter) Remove(key string) {
	l.lru.Remove(key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	return l.lru.Len()
}

// Load starts tracking filtered views already present in the cache, so a
// persistent cache stays bounded across restarts.
func (l *Limiter) Load(ctx context.Context, descriptors []*Descriptor) error {
	for _, d := range descriptors {
		if d.Kind != FilteredQuery {
			continue
		}
		keys, err := l.cache.Keys(ctx, d.Pattern())
		if err != nil {
			return err
		}
		for _, key := range keys {
			l.Touch(key)
		}
	}
	return nil
}

// Prune stops tracking keys that have left the cache on their own (TTL
// expiry, external deletes) so they no longer occupy limiter slots.
func (l *Limiter) Prune(ctx context.Context) (int, error) {
	pruned := 0
	for _, key := range l.lru.Keys() {
		ok, err := l.cache.Exists(ctx, key)
		if err != nil {
			return pruned, err
		}
		if !ok {
			l.lru.Remove(key)
			pruned++
		}
	}
	return pruned, nil
}
