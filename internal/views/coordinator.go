package views

import (
	"context"
	"sync"
)

// Coordinator serialises recompute-and-store sequences per view key. Holders
// must re-check cache state after acquiring, since a previous holder may have
// already written or evicted the key.
type Coordinator struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{locks: make(map[string]*keyLock)}
}

// Acquire blocks until key is free or ctx is done. The returned release
// function must be called exactly once.
func (c *Coordinator) Acquire(ctx context.Context, key string) (func(), error) {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		c.unref(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			c.unref(key, l)
		})
	}, nil
}

func (c *Coordinator) unref(key string, l *keyLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, key)
	}
}

// InFlight returns the number of keys currently held or awaited.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
