package tedapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gatewatch/gatewatch/pkg/log"
)

const (
	// rateLimitCooldown is how long every operation short-circuits to
	// "no data" after the gateway answers 429/503. The device's rate
	// limiter is aggressive; hammering it only extends the ban.
	rateLimitCooldown = 5 * time.Minute

	defaultLockTimeout = 5 * time.Second

	lockInitialDelay = 50 * time.Millisecond
	lockMaxDelay     = time.Second
	lockJitter       = 0.25
)

type cacheEntry struct {
	value     any
	fetchedAt time.Time
}

// requestExecutor is the cache/lock/cooldown layer every transport call
// passes through. One executor belongs to one client/transport pair; there
// is no global state.
type requestExecutor struct {
	lockTimeout time.Duration
	now         func() time.Time

	mu            sync.Mutex
	cache         map[string]cacheEntry
	locks         map[string]*sync.Mutex
	cooldownUntil time.Time
}

func newRequestExecutor(lockTimeout time.Duration) *requestExecutor {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &requestExecutor{
		lockTimeout: lockTimeout,
		now:         time.Now,
		cache:       make(map[string]cacheEntry),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (e *requestExecutor) cooldownActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now().Before(e.cooldownUntil)
}

func (e *requestExecutor) startCooldown(d time.Duration) {
	e.mu.Lock()
	e.cooldownUntil = e.now().Add(d)
	e.mu.Unlock()
}

func (e *requestExecutor) cached(key string, ttl time.Duration) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[key]
	if !ok || e.now().Sub(entry.fetchedAt) >= ttl {
		return nil, false
	}
	return entry.value, true
}

func (e *requestExecutor) store(key string, v any) {
	e.mu.Lock()
	e.cache[key] = cacheEntry{value: v, fetchedAt: e.now()}
	e.mu.Unlock()
}

func (e *requestExecutor) keyLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// acquire takes the per-key lock, retrying with exponential backoff and
// jitter until the lock timeout elapses.
func (e *requestExecutor) acquire(ctx context.Context, key string) (func(), error) {
	l := e.keyLock(key)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = lockInitialDelay
	bo.RandomizationFactor = lockJitter
	bo.Multiplier = 2
	bo.MaxInterval = lockMaxDelay
	bo.MaxElapsedTime = e.lockTimeout
	for {
		if l.TryLock() {
			return l.Unlock, nil
		}
		d := bo.NextBackOff()
		if d == backoff.Stop {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
}

// fetch runs one cached operation: cache-check, lock-acquire, re-check,
// fetch, cache-store. A nil, nil return means "no data this cycle" (the
// cooldown is active or just got opened); polling loops keep running.
func (e *requestExecutor) fetch(ctx context.Context, key string, ttl time.Duration, force bool, fn func(context.Context) (any, error)) (any, error) {
	if e.cooldownActive() {
		log.Ctx(ctx).DebugContext(ctx, "cooldown active, skipping fetch", slog.String("op", key))
		return nil, nil
	}
	if !force {
		if v, ok := e.cached(key, ttl); ok {
			return v, nil
		}
	}

	release, err := e.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	// whoever held the lock may have refreshed the entry while we waited
	if !force {
		if v, ok := e.cached(key, ttl); ok {
			return v, nil
		}
	}
	if e.cooldownActive() {
		return nil, nil
	}

	v, err := fn(ctx)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			log.Ctx(ctx).WarnContext(ctx, "gateway rate limit hit, entering cooldown",
				slog.String("op", key), slog.Duration("cooldown", rateLimitCooldown))
			e.startCooldown(rateLimitCooldown)
			return nil, nil
		}
		return nil, err
	}
	if v != nil {
		e.store(key, v)
	}
	return v, nil
}
