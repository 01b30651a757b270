package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"searchcore/pkg/apicall"
	"searchcore/pkg/log"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxEntries bounds the number of stored responses.
const DefaultMaxEntries = 100

type entry[V any] struct {
	value   V
	expires time.Time
}

// ResponseCache collapses concurrent identical calls into one and keeps
// successful results for a caller-chosen TTL. Entries are only checked for
// expiry when they are looked up; the LRU bound keeps memory in check.
type ResponseCache[V any] struct {
	flights singleflight.Group
	entries *lru.Cache[uint64, entry[V]]
	clock   clock.Clock
	metrics *Metrics

	mu     sync.Mutex
	active map[uint64]*flight
}

// flight is the context shared by every caller waiting on one signature. It
// is cancelled once the last of them gives up.
type flight struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	waiters int
}

// New creates a cache holding at most maxEntries responses.
func New[V any](maxEntries int, clk clock.Clock, meter metric.Meter) (*ResponseCache[V], error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clk == nil {
		clk = clock.New()
	}

	entries, err := lru.New[uint64, entry[V]](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	metrics, err := NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	return &ResponseCache[V]{
		entries: entries,
		clock:   clk,
		metrics: metrics,
		active:  make(map[uint64]*flight),
	}, nil
}

// Perform returns the cached value for signature if it is still live, joins
// an in-flight fetch for the same signature if there is one, or runs fetch.
//
// fetch runs on a context shared by all waiters: one caller giving up does not
// fail the others, but when every waiter has given up the fetch is cancelled.
// A successful result is stored for ttl; ttl <= 0 only deduplicates.
func (c *ResponseCache[V]) Perform(ctx context.Context, signature uint64, ttl time.Duration,
	fetch func(context.Context) (V, error),
) (V, error) {
	var zero V

	if value, ok := c.lookup(signature); ok {
		c.metrics.lookup(resultHit)
		return value, nil
	}
	if ctx.Err() != nil {
		return zero, fmt.Errorf("%w: %w", apicall.ErrCancelled, context.Cause(ctx))
	}

	f := c.join(ctx, signature)
	ch := c.flights.DoChan(flightKey(signature), func() (interface{}, error) {
		// Another flight may have stored the value between our lookup and now.
		if value, ok := c.lookup(signature); ok {
			return value, nil
		}

		value, err := fetch(f.ctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			c.entries.Add(signature, entry[V]{value: value, expires: c.clock.Now().Add(ttl)})
		}
		return value, nil
	})

	select {
	case result := <-ch:
		c.leave(signature, f, nil)
		if result.Shared {
			c.metrics.lookup(resultShared)
		} else {
			c.metrics.lookup(resultMiss)
		}
		if result.Err != nil {
			return zero, result.Err
		}
		value, ok := result.Val.(V)
		if !ok {
			return zero, fmt.Errorf("cache: unexpected value type %T", result.Val)
		}
		return value, nil

	case <-ctx.Done():
		cause := context.Cause(ctx)
		if c.leave(signature, f, cause) {
			log.Debug().Str("signature", flightKey(signature)).Msg("Last caller left, request cancelled")
		} else {
			log.Debug().Str("signature", flightKey(signature)).Msg("Caller left shared request")
		}
		return zero, fmt.Errorf("%w: %w", apicall.ErrCancelled, cause)
	}
}

// join registers the caller as a waiter on the signature's flight, creating
// the flight context if nobody is waiting yet.
func (c *ResponseCache[V]) join(ctx context.Context, signature uint64) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.active[signature]
	if !ok {
		fctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.active[signature] = f
	}
	f.waiters++
	return f
}

// leave drops one waiter and reports whether it was the last one to abandon
// the flight. When no waiter is left the flight is cancelled and forgotten, so
// a later caller starts a fresh fetch instead of joining a dying one.
func (c *ResponseCache[V]) leave(signature uint64, f *flight, cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return false
	}
	if c.active[signature] == f {
		delete(c.active, signature)
	}
	c.flights.Forget(flightKey(signature))
	f.cancel(cause)

	return cause != nil
}

func flightKey(signature uint64) string {
	return strconv.FormatUint(signature, 16)
}

func (c *ResponseCache[V]) lookup(signature uint64) (V, bool) {
	e, ok := c.entries.Get(signature)
	if !ok {
		var zero V
		return zero, false
	}

	if !c.clock.Now().Before(e.expires) {
		c.entries.Remove(signature)
		var zero V
		return zero, false
	}

	return e.value, true
}

// Len returns the number of stored entries, expired ones included.
func (c *ResponseCache[V]) Len() int {
	return c.entries.Len()
}

// Purge drops every stored entry. In-flight requests are not affected.
func (c *ResponseCache[V]) Purge() {
	c.entries.Purge()
}
