// Package spike provides a primitive to handle spike-like load on retrieving external resources
package spike

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultCleanupInterval = 5 * time.Second
	defaultFetchTimeout    = 10 * time.Second
)

// Fetch loads the value for key. It runs detached from the callers' contexts so that
// one caller giving up does not fail the others waiting on the same key.
type Fetch[T any] func(ctx context.Context, key string) (T, error)

// Manager coalesces concurrent requests for the same key into a single fetch and
// keeps successful results for cacheTime. Errors are not cached.
type Manager[T any] struct {
	fetch        Fetch[T]
	cache        *gocache.Cache
	cacheTime    time.Duration
	fetchTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]*call[T]
}

type call[T any] struct {
	done chan struct{}
	v    T
	err  error
}

func NewManager[T any](fetch Fetch[T], cacheTime time.Duration) *Manager[T] {
	return &Manager[T]{
		fetch:        fetch,
		cache:        gocache.New(cacheTime, defaultCleanupInterval),
		cacheTime:    cacheTime,
		fetchTimeout: defaultFetchTimeout,
		inflight:     make(map[string]*call[T]),
	}
}

func (m *Manager[T]) cached(key string) (T, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true //nolint:forcetypeassert
}

func (m *Manager[T]) GetResult(ctx context.Context, key string) (T, error) { //nolint:ireturn
	if v, ok := m.cached(key); ok {
		return v, nil
	}

	m.mu.Lock()
	if v, ok := m.cached(key); ok {
		m.mu.Unlock()
		return v, nil
	}
	c, ok := m.inflight[key]
	if !ok {
		c = &call[T]{done: make(chan struct{})}
		m.inflight[key] = c
		go m.run(key, c)
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-c.done:
		return c.v, c.err
	}
}

func (m *Manager[T]) run(key string, c *call[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), m.fetchTimeout)
	defer cancel()

	c.v, c.err = m.fetch(ctx, key)

	m.mu.Lock()
	if c.err == nil {
		m.cache.Set(key, c.v, m.cacheTime)
	}
	delete(m.inflight, key)
	m.mu.Unlock()
	close(c.done)
}
