// Package refresh decides, per cache key, whether a caller is answered from
// a cached value or from a new upstream fetch, and makes sure concurrent
// callers for the same key share one fetch.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/M-sasank/finsight/internal/cache"
)

// Backing is where a coordinator reads and writes values for a key.
// Get reports ok=false for a miss; read failures are misses too.
type Backing[T any] interface {
	Get(ctx context.Context, key cache.Key) (T, time.Time, bool)
	Put(ctx context.Context, key cache.Key, v T) error
}

// FetchFunc produces a new value from upstream.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options tune a single Resolve call.
type Options struct {
	// Force skips the cache and always fetches.
	Force bool
	// AllowStale serves an expired cached value when the fetch fails.
	AllowStale bool
}

// Source tells where a resolved value came from.
type Source int

const (
	SourceCache Source = iota + 1
	SourceFresh
	SourceStale
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceFresh:
		return "fresh"
	case SourceStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Result is a resolved value with its provenance.
type Result[T any] struct {
	Value     T
	Source    Source
	FetchedAt time.Time
}

type settings struct {
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*settings)

// WithLogger sets the logger used for stale-fallback warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// Coordinator resolves values of type T against one backing and TTL.
type Coordinator[T any] struct {
	backing Backing[T]
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a Coordinator serving values younger than ttl from backing.
func New[T any](backing Backing[T], ttl time.Duration, opts ...Option) *Coordinator[T] {
	s := settings{logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(&s)
	}
	return &Coordinator[T]{backing: backing, ttl: ttl, logger: s.logger, now: s.now}
}

// TTL returns the freshness threshold.
func (c *Coordinator[T]) TTL() time.Duration { return c.ttl }

// putError marks a failure to store a successfully fetched value. Stale
// fallback does not apply to it.
type putError struct{ err error }

func (e *putError) Error() string { return e.err.Error() }
func (e *putError) Unwrap() error { return e.err }

// Resolve returns the value for key. A fresh cached value is returned as is
// unless opts.Force is set. Otherwise fetch runs at most once per key at a
// time; callers arriving while it runs wait for and share its result. The
// fetch runs on a context detached from ctx cancellation so an abandoning
// caller does not abort the work other callers are waiting on.
func (c *Coordinator[T]) Resolve(ctx context.Context, key cache.Key, opts Options, fetch FetchFunc[T]) (Result[T], error) {
	var stale *Result[T]
	if !opts.Force {
		if v, at, ok := c.backing.Get(ctx, key); ok {
			if cache.IsFresh(c.now().Sub(at), c.ttl) {
				return Result[T]{Value: v, Source: SourceCache, FetchedAt: at}, nil
			}
			stale = &Result[T]{Value: v, Source: SourceStale, FetchedAt: at}
		}
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if !opts.Force {
			// A flight that finished just before this one may have filled the backing.
			if v, at, ok := c.backing.Get(fctx, key); ok && cache.IsFresh(c.now().Sub(at), c.ttl) {
				return Result[T]{Value: v, Source: SourceCache, FetchedAt: at}, nil
			}
		}
		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if err := c.backing.Put(fctx, key, v); err != nil {
			return nil, &putError{err: fmt.Errorf("storing %s: %w", key, err)}
		}
		return Result[T]{Value: v, Source: SourceFresh, FetchedAt: c.now()}, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	case res = <-ch:
	}

	if res.Err == nil {
		return res.Val.(Result[T]), nil
	}

	var pe *putError
	if !opts.AllowStale || errors.As(res.Err, &pe) {
		return Result[T]{}, res.Err
	}
	if stale == nil {
		if v, at, ok := c.backing.Get(ctx, key); ok {
			stale = &Result[T]{Value: v, Source: SourceStale, FetchedAt: at}
		}
	}
	if stale == nil {
		return Result[T]{}, res.Err
	}
	c.logger.Warn("refresh failed, serving stale value",
		"key", key.String(), "fetched_at", stale.FetchedAt, "error", res.Err)
	return *stale, nil
}
