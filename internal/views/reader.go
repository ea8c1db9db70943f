package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bookshelf-api/internal/cache"
	"bookshelf-api/internal/metrics"

	"go.uber.org/zap"
)

// Reader serves views read-through: cache first, store on miss.
type Reader struct {
	engine *Engine
}

// Reader returns a read path sharing the engine's coordinator and limiter.
func (e *Engine) Reader() *Reader {
	return &Reader{engine: e}
}

// Get returns the encoded view. Cache failures are treated as misses. A
// missing entity returns ErrNotFound and is never cached.
func (r *Reader) Get(ctx context.Context, key Key) ([]byte, error) {
	e := r.engine
	d, ok := e.registry.Lookup(key.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, key.Name)
	}
	raw := key.String()

	if payload, ok := r.cached(ctx, d, raw); ok {
		return payload, nil
	}

	release, err := e.coordinator.Acquire(ctx, raw)
	if err != nil {
		return nil, err
	}
	defer release()

	// Whoever held the lock, a reader or a refresh, may have written the key.
	if payload, ok := r.cached(ctx, d, raw); ok {
		return payload, nil
	}

	payload, err := e.recompute(ctx, d, key)
	if errors.Is(err, ErrNotFound) {
		metrics.ViewReadsTotal.WithLabelValues(d.Name, "not_found").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.ViewReadsTotal.WithLabelValues(d.Name, "error").Inc()
		return nil, err
	}

	if err := e.cache.Set(ctx, raw, payload, d.TTL); err != nil {
		e.logger.Warn("failed to populate view", zap.String("key", raw), zap.Error(err))
	} else if d.Kind == FilteredQuery {
		e.limiter.Touch(raw)
	}

	metrics.ViewReadsTotal.WithLabelValues(d.Name, "miss").Inc()
	return payload, nil
}

func (r *Reader) cached(ctx context.Context, d *Descriptor, raw string) ([]byte, bool) {
	payload, err := r.engine.cache.Get(ctx, raw)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.engine.logger.Warn("cache read failed, treating as miss", zap.String("key", raw), zap.Error(err))
		}
		return nil, false
	}

	if d.Kind == FilteredQuery {
		r.engine.limiter.Touch(raw)
	}
	metrics.ViewReadsTotal.WithLabelValues(d.Name, "hit").Inc()
	return payload, true
}

// Load reads a view and decodes it into T.
func Load[T any](ctx context.Context, r *Reader, key Key) (T, error) {
	var out T
	payload, err := r.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("failed to decode view %s: %w", key, err)
	}
	return out, nil
}
