/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache provides the time-boxed fee and limits cache owned by a single engine.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prime-transaction-pipeline-go/internal/observability"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched fee schedule or limit set stays fresh
const DefaultTTL = 20 * time.Second

const flightKey = "fetch"

// fetchTimeout bounds a shared upstream request, which outlives any single caller.
const fetchTimeout = 30 * time.Second

var ErrNoValue = errors.New("no cached value")

// FetchFunc performs the upstream request
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cache holds one value fetched from an upstream service. Concurrent Fetch calls
// during a refresh share a single upstream request, and a failed refresh never
// evicts the previous value.
type Cache[T any] struct {
	name  string
	ttl   time.Duration
	fetch FetchFunc[T]
	now   func() time.Time

	mu        sync.RWMutex
	value     T
	hasValue  bool
	fetchedAt time.Time
	// generation is bumped by Invalidate so a refresh started earlier cannot
	// mark its result fresh.
	generation uint64

	group singleflight.Group
}

type Option[T any] func(*Cache[T])

// WithClock overrides the time source.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) { c.now = now }
}

func New[T any](name string, ttl time.Duration, fetch FetchFunc[T], opts ...Option[T]) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache[T]{
		name:  name,
		ttl:   ttl,
		fetch: fetch,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the cached value while it is younger than the TTL, otherwise
// performs one upstream request. An upstream failure is returned to the caller.
func (c *Cache[T]) Fetch(ctx context.Context) (T, error) {
	if v, ok := c.fresh(); ok {
		observability.CacheFetches.WithLabelValues(c.name, "hit").Inc()
		zap.L().Debug("Cache hit", zap.String("cache", c.name))
		return v, nil
	}

	observability.CacheFetches.WithLabelValues(c.name, "miss").Inc()
	v, err := c.refresh(ctx)
	if err != nil {
		observability.CacheFetches.WithLabelValues(c.name, "error").Inc()
		var zero T
		return zero, err
	}
	return v, nil
}

// FetchStale behaves like Fetch but serves the last good value when the
// refresh fails. Without a previous value the upstream error is returned.
func (c *Cache[T]) FetchStale(ctx context.Context) (T, error) {
	v, err := c.Fetch(ctx)
	if err == nil {
		return v, nil
	}

	c.mu.RLock()
	last, ok := c.value, c.hasValue
	c.mu.RUnlock()
	if !ok {
		return v, err
	}

	observability.CacheFetches.WithLabelValues(c.name, "stale").Inc()
	zap.L().Warn("Serving stale cached value after refresh failure",
		zap.String("cache", c.name),
		zap.Error(err))
	return last, nil
}

// Peek returns the current value without contacting upstream.
func (c *Cache[T]) Peek() (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasValue {
		var zero T
		return zero, ErrNoValue
	}
	return c.value, nil
}

// Invalidate forces the next Fetch to go upstream. The previous value is kept
// as a stale fallback.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.generation++
	c.mu.Unlock()
	zap.L().Debug("Cache invalidated", zap.String("cache", c.name))
}

func (c *Cache[T]) fresh() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hasValue && !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.value, true
	}
	var zero T
	return zero, false
}

func (c *Cache[T]) refresh(ctx context.Context) (T, error) {
	ch := c.group.DoChan(flightKey, func() (any, error) {
		// Waiters share this request, so one caller giving up must not cancel it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		c.mu.RLock()
		gen := c.generation
		c.mu.RUnlock()

		observability.UpstreamRequests.WithLabelValues(c.name).Inc()
		v, err := c.fetch(fctx)
		if err != nil {
			return nil, fmt.Errorf("%s refresh failed: %w", c.name, err)
		}

		c.mu.Lock()
		c.value = v
		c.hasValue = true
		if gen == c.generation {
			c.fetchedAt = c.now()
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
