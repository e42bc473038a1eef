package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is one fixed-window budget. A Max of zero disables the window.
type Window struct {
	Max    int
	Period time.Duration
}

func (w Window) enabled() bool {
	return w.Max > 0 && w.Period > 0
}

// Config holds per-scope budgets. Scopes without an entry are unthrottled.
type Config struct {
	Windows map[Scope]Window
}

// Limiter enforces fixed-window budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) window(scope Scope) (Window, bool) {
	if l == nil || l.redis == nil {
		return Window{}, false
	}
	w, ok := l.config.Windows[scope]
	if !ok || !w.enabled() {
		return Window{}, false
	}
	return w, true
}

// Allow counts one hit for identifier in scope and returns ErrRateLimited
// once the window budget is exceeded. Empty identifiers are never throttled.
func (l *Limiter) Allow(ctx context.Context, scope Scope, identifier string) error {
	w, ok := l.window(scope)
	if !ok || identifier == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, key(scope, identifier), w.Period)
	if err != nil {
		return err
	}
	if count > int64(w.Max) {
		return ErrRateLimited
	}
	return nil
}

// Check reports ErrRateLimited when identifier already exceeded its budget
// in scope, without counting a hit.
func (l *Limiter) Check(ctx context.Context, scope Scope, identifier string) error {
	w, ok := l.window(scope)
	if !ok || identifier == "" {
		return nil
	}

	count, err := l.Count(ctx, scope, identifier)
	if err != nil {
		return err
	}
	if count >= w.Max {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter for identifier in scope.
func (l *Limiter) Reset(ctx context.Context, scope Scope, identifier string) error {
	if _, ok := l.window(scope); !ok || identifier == "" {
		return nil
	}
	if err := l.redis.Del(ctx, key(scope, identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Count returns the current counter for identifier in scope. Missing keys
// return zero.
func (l *Limiter) Count(ctx context.Context, scope Scope, identifier string) (int, error) {
	if l == nil || l.redis == nil {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, key(scope, identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
