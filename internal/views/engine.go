package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bookshelf-api/internal/cache"
	"bookshelf-api/internal/metrics"
	"bookshelf-api/internal/model"
	"bookshelf-api/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tune the engine.
type Options struct {
	// Concurrency bounds parallel refreshes per mutation.
	Concurrency int
	// EvictOnFailure deletes a key whose refresh failed instead of leaving
	// the stale value in place.
	EvictOnFailure bool
	// StoreTimeout bounds each document store call. Zero means no bound.
	StoreTimeout time.Duration
	// FilteredMax bounds the number of cached filtered-query views.
	FilteredMax int
}

// Engine keeps cached views consistent with the document store after writes.
// It never writes to the store itself.
type Engine struct {
	registry    *Registry
	store       repository.DocumentStore
	cache       cache.Store
	coordinator *Coordinator
	limiter     *Limiter
	logger      *zap.Logger
	opts        Options
}

// NewEngine wires an engine to its store and cache.
func NewEngine(registry *Registry, store repository.DocumentStore, c cache.Store, opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.FilteredMax <= 0 {
		opts.FilteredMax = 1000
	}

	logger = logger.Named("views")
	limiter, err := NewLimiter(opts.FilteredMax, c, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create filtered view limiter: %w", err)
	}

	return &Engine{
		registry:    registry,
		store:       store,
		cache:       c,
		coordinator: NewCoordinator(),
		limiter:     limiter,
		logger:      logger,
		opts:        opts,
	}, nil
}

// Registry returns the engine's view registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Warm starts tracking filtered views already in the cache.
func (e *Engine) Warm(ctx context.Context) error {
	return e.limiter.Load(ctx, e.registry.Descriptors())
}

// OnMutation refreshes or evicts the cached views made stale by a committed
// write. Cascaded child deletions are processed before the parent event.
// Only keys already present in the cache are recomputed; keys of deleted
// entities are evicted unconditionally.
//
// A non-nil error wraps ErrCacheRefreshFailed and is a *RefreshError. The
// store write is never undone.
func (e *Engine) OnMutation(ctx context.Context, event model.MutationEvent) error {
	start := time.Now()
	index := newKeyIndex(e.cache)

	deleting := make(map[string]bool)
	events := flatten(event)
	for _, ev := range events {
		if ev.Op == model.OpDelete {
			deleting[NewKey(ev.Kind, ev.ID).String()] = true
		}
	}

	candidates := make(map[string]Key)
	evictions := make(map[string]Key)
	var failures []refreshFailure

	for _, ev := range events {
		scope, err := e.scopeFor(ctx, ev, index, deleting)
		if err != nil {
			failures = append(failures, refreshFailure{key: NewKey(ev.Kind, ev.ID).String(), err: err})
		}

		if ev.Op == model.OpDelete {
			if _, ok := e.registry.Lookup(ev.Kind); ok {
				k := NewKey(ev.Kind, ev.ID)
				evictions[k.String()] = k
			}
		}

		for _, d := range e.registry.Descriptors() {
			keys, err := d.AffectedBy(ctx, scope, ev)
			if err != nil {
				failures = append(failures, refreshFailure{key: d.Pattern(), err: err})
				continue
			}
			for _, k := range keys {
				candidates[k.String()] = k
			}
		}
	}
	for k := range evictions {
		delete(candidates, k)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.opts.Concurrency)

	fail := func(key string, err error) {
		mu.Lock()
		failures = append(failures, refreshFailure{key: key, err: err})
		mu.Unlock()
	}

	for raw, key := range evictions {
		g.Go(func() error {
			if _, err := e.evict(ctx, key); err != nil {
				fail(raw, err)
			}
			return nil
		})
	}
	for raw, key := range candidates {
		d, _ := e.registry.Lookup(key.Name)
		g.Go(func() error {
			if err := e.refresh(ctx, d, key); err != nil {
				fail(raw, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Debug("mutation processed",
		zap.String("kind", event.Kind),
		zap.String("id", event.ID),
		zap.String("op", string(event.Op)),
		zap.Int("cascade", len(event.Cascade)),
		zap.Int("candidates", len(candidates)),
		zap.Int("evictions", len(evictions)),
		zap.Int("failures", len(failures)),
		zap.Duration("duration", time.Since(start)))

	if len(failures) == 0 {
		return nil
	}

	refreshErr := &RefreshError{}
	for _, f := range failures {
		refreshErr.Keys = append(refreshErr.Keys, f.key)
		refreshErr.Causes = append(refreshErr.Causes, f.err)
	}
	e.logger.Warn("cache refresh failed",
		zap.String("kind", event.Kind),
		zap.String("id", event.ID),
		zap.Strings("keys", refreshErr.Keys),
		zap.Error(refreshErr.Causes[0]))
	return refreshErr
}

type refreshFailure struct {
	key string
	err error
}

// flatten orders cascaded child events before their parent.
func flatten(event model.MutationEvent) []model.MutationEvent {
	var out []model.MutationEvent
	for _, child := range event.Cascade {
		out = append(out, flatten(child)...)
	}
	event.Cascade = nil
	return append(out, event)
}

// scopeFor collects the documents ev touched: its own snapshots plus the
// current state of every parent whose back-reference changed. A missing parent
// is logged and skipped unless it is itself being deleted by this mutation.
func (e *Engine) scopeFor(ctx context.Context, ev model.MutationEvent, index *keyIndex, deleting map[string]bool) (*Scope, error) {
	scope := newScope(index)
	snapshots := ev.Snapshots()
	if len(snapshots) == 0 && ev.ID != "" {
		snapshots = []model.Document{{model.IDField: ev.ID}}
	}
	scope.add(ev.Kind, snapshots...)

	var firstErr error
	for _, rel := range e.registry.Relationships(ev.Kind) {
		if !ev.RefChanged(rel.Field) {
			continue
		}
		for _, ref := range ev.Refs(rel.Field) {
			parent, err := e.findParent(ctx, rel.ParentKind, ref)
			if errors.Is(err, repository.ErrNotFound) {
				if deleting[NewKey(rel.ParentKind, ref).String()] {
					continue
				}
				e.logger.Warn("parent missing while computing affected views",
					zap.String("child", NewKey(ev.Kind, ev.ID).String()),
					zap.String("parent", NewKey(rel.ParentKind, ref).String()),
					zap.Error(ErrInconsistentRelationship))
				continue
			}
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to load %s %s: %w", rel.ParentKind, ref, err)
				}
				continue
			}
			scope.add(rel.ParentKind, parent)
		}
	}
	return scope, firstErr
}

func (e *Engine) findParent(ctx context.Context, kind, id string) (model.Document, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.FindByID(ctx, kind, id)
}

// refresh recomputes key if, and only if, it is still cached once the key
// lock is held.
func (e *Engine) refresh(ctx context.Context, d *Descriptor, key Key) error {
	raw := key.String()
	release, err := e.coordinator.Acquire(ctx, raw)
	if err != nil {
		return err
	}
	defer release()

	present, err := e.cache.Exists(ctx, raw)
	if err != nil {
		metrics.ViewRefreshesTotal.WithLabelValues(d.Name, "failed").Inc()
		return fmt.Errorf("presence check: %w", err)
	}
	if !present {
		return nil
	}

	payload, err := e.recompute(ctx, d, key)
	if errors.Is(err, ErrNotFound) {
		e.deleteLocked(ctx, d, raw)
		metrics.ViewRefreshesTotal.WithLabelValues(d.Name, "evicted").Inc()
		return nil
	}
	if err == nil {
		err = e.cache.Set(ctx, raw, payload, d.TTL)
	}
	if err != nil {
		if e.opts.EvictOnFailure {
			e.deleteLocked(ctx, d, raw)
		}
		metrics.ViewRefreshesTotal.WithLabelValues(d.Name, "failed").Inc()
		return err
	}

	if d.Kind == FilteredQuery {
		e.limiter.Touch(raw)
	}
	metrics.ViewRefreshesTotal.WithLabelValues(d.Name, "refreshed").Inc()
	return nil
}

// deleteLocked evicts raw; the caller holds the key lock. Errors are logged
// because the caller is already reporting a failure or a not-found.
func (e *Engine) deleteLocked(ctx context.Context, d *Descriptor, raw string) {
	if _, err := e.cache.Delete(ctx, raw); err != nil {
		e.logger.Warn("failed to evict view", zap.String("key", raw), zap.Error(err))
	}
	if d.Kind == FilteredQuery {
		e.limiter.Remove(raw)
	}
}

// Evict removes key from the cache. Evicting an absent key is a no-op.
func (e *Engine) Evict(ctx context.Context, key Key) (bool, error) {
	if _, ok := e.registry.Lookup(key.Name); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownView, key.Name)
	}
	return e.evict(ctx, key)
}

func (e *Engine) evict(ctx context.Context, key Key) (bool, error) {
	raw := key.String()
	release, err := e.coordinator.Acquire(ctx, raw)
	if err != nil {
		return false, err
	}
	defer release()

	removed, err := e.cache.Delete(ctx, raw)
	if err != nil {
		return false, err
	}
	if d, ok := e.registry.Lookup(key.Name); ok && d.Kind == FilteredQuery {
		e.limiter.Remove(raw)
	}
	if removed {
		metrics.ViewRefreshesTotal.WithLabelValues(key.Name, "evicted").Inc()
	}
	return removed, nil
}

// recompute reads the view from the store and encodes it.
func (e *Engine) recompute(ctx context.Context, d *Descriptor, key Key) ([]byte, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	start := time.Now()
	value, err := d.Recompute(ctx, e.store, key.Params)
	metrics.ViewRecomputeDuration.WithLabelValues(d.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode view %s: %w", key, err)
	}
	return payload, nil
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

// Stats reports engine state for diagnostics.
func (e *Engine) Stats() map[string]any {
	names := make([]string, 0, len(e.registry.Descriptors()))
	for _, d := range e.registry.Descriptors() {
		names = append(names, d.Name)
	}
	stats := map[string]any{
		"views":            names,
		"filtered_tracked": e.limiter.Len(),
		"filtered_max":     e.opts.FilteredMax,
		"keys_in_flight":   e.coordinator.InFlight(),
		"evict_on_failure": e.opts.EvictOnFailure,
	}
	if sized, ok := e.cache.(cache.Sizer); ok {
		stats["cache_entries"] = sized.Len()
	}
	return stats
}

// Prune drops limiter entries for filtered views no longer in the cache.
func (e *Engine) Prune(ctx context.Context) (int, error) {
	return e.limiter.Prune(ctx)
}
