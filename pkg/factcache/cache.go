// Package factcache deduplicates and throttles carbon footprint lookups against a
// text-generation backend.
//
// Facts are cached forever per normalized food name. New lookups are gated so that
// no two backend calls start closer together than the configured interval; a
// lookup that lands inside the interval gets RateLimited and no data.
package factcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/food-detector/pkg/client"
	"github.com/menta2k/food-detector/pkg/detection"
	"github.com/menta2k/food-detector/pkg/types"
)

const (
	// DefaultInterval is the minimum spacing between backend calls
	DefaultInterval = 3 * time.Second
	// DefaultTimeout bounds a single backend call
	DefaultTimeout = 5 * time.Second
)

// Outcome says how a lookup was resolved
type Outcome int

const (
	// Hit means the fact came from the cache without a backend call
	Hit Outcome = iota
	// Fetched means the backend answered with a parseable fact
	Fetched
	// Fallback means the backend answered but the reply was unusable; a placeholder fact was cached
	Fallback
	// RateLimited means the gate was closed; try again later
	RateLimited
	// Failed means the backend call itself failed; nothing was cached
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Fetched:
		return "fetched"
	case Fallback:
		return "fallback"
	case RateLimited:
		return "rate_limited"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the answer to a lookup. Fact is non-nil for Hit, Fetched and Fallback.
type Result struct {
	Fact    *types.FoodFact
	Outcome Outcome
	Err     error
}

// HasFact reports whether the result carries a fact
func (r Result) HasFact() bool {
	return r.Fact != nil
}

// Config holds the gate interval and the per-call timeout
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfig returns the default gate settings
func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, Timeout: DefaultTimeout}
}

// Option customizes a Cache
type Option func(*Cache)

// WithClock replaces the wall clock, mainly for tests
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clock = clk
	}
}

// Cache is the process-wide fact store plus rate gate. It is safe for concurrent use.
type Cache struct {
	client   client.TextClient
	clock    clock.Clock
	logger   *zap.SugaredLogger
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	facts    map[string]*types.FoodFact
	lastCall time.Time
	inFlight bool
}

// New creates a cache backed by the given text client
func New(tc client.TextClient, cfg Config, logger *zap.SugaredLogger, opts ...Option) *Cache {
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &Cache{
		client:   tc,
		clock:    clock.New(),
		logger:   logger,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		facts:    make(map[string]*types.FoodFact),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the fact for a food name, calling the backend at most once per interval.
// It never panics and never returns an error directly; failures are reported in the Result.
func (c *Cache) Lookup(ctx context.Context, foodName string) Result {
	name := detection.FoodName(foodName)

	c.mu.Lock()
	if fact, ok := c.facts[name]; ok {
		c.mu.Unlock()
		return Result{Fact: fact, Outcome: Hit}
	}
	now := c.clock.Now()
	if c.inFlight || (!c.lastCall.IsZero() && now.Sub(c.lastCall) < c.interval) {
		c.mu.Unlock()
		c.logger.Debugw("fact lookup rate limited", "food", name)
		return Result{Outcome: RateLimited}
	}
	c.inFlight = true
	c.mu.Unlock()

	raw, err := c.call(ctx, name)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if err != nil {
		c.logger.Warnw("fact lookup failed", "food", name, "backend", c.backendName(), "error", err)
		return Result{Outcome: Failed, Err: err}
	}

	fact, perr := ParseFact(raw)
	outcome := Fetched
	if perr != nil {
		c.logger.Infow("unusable fact reply, caching fallback", "food", name, "error", perr)
		fact = FallbackFact(name)
		outcome = Fallback
	}
	if existing, ok := c.facts[name]; ok {
		fact = existing
	} else {
		c.facts[name] = fact
	}
	c.lastCall = now
	c.logger.Debugw("fact cached", "food", name, "outcome", outcome.String())
	return Result{Fact: fact, Outcome: outcome}
}

// call runs the backend request under the per-call timeout and turns panics into errors
func (c *Cache) call(ctx context.Context, name string) (raw string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("text client panicked: %v", r)
		}
	}()
	if c.client == nil {
		return "", errors.New("no text client configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err = c.client.Complete(ctx, BuildPrompt(name))
	if err != nil {
		return "", errors.Wrapf(err, "%s completion for %q", c.client.Name(), name)
	}
	return raw, nil
}

func (c *Cache) backendName() string {
	if c.client == nil {
		return "none"
	}
	return c.client.Name()
}

// Len returns the number of cached facts
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.facts)
}

// Snapshot returns a copy of every cached fact keyed by food name
func (c *Cache) Snapshot() map[string]types.FoodFact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.FoodFact, len(c.facts))
	for k, v := range c.facts {
		out[k] = *v
	}
	return out
}
