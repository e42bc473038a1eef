package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestAllowExhaustsWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, Config{Windows: map[Scope]Window{
		ScopeCaptcha: {Max: 3, Period: time.Minute},
	}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, ScopeCaptcha, "10.0.0.1"); err != nil {
			t.Fatalf("hit %d: expected allowed, got %v", i, err)
		}
	}
	if err := l.Allow(ctx, ScopeCaptcha, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Allow(ctx, ScopeCaptcha, "10.0.0.2"); err != nil {
		t.Fatalf("expected other identifier to be independent, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Allow(ctx, ScopeCaptcha, "10.0.0.1"); err != nil {
		t.Fatalf("expected fresh window after expiry, got %v", err)
	}
}

func TestWindowTTLSetOnFirstHitOnly(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, Config{Windows: map[Scope]Window{
		ScopePasswordReset: {Max: 10, Period: time.Minute},
	}})
	ctx := context.Background()

	_ = l.Allow(ctx, ScopePasswordReset, "a@example.com")
	mr.FastForward(30 * time.Second)
	_ = l.Allow(ctx, ScopePasswordReset, "a@example.com")

	ttl := mr.TTL("apr:a@example.com")
	if ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("expected remaining ttl <= 30s, got %v", ttl)
	}
}

func TestCheckAndReset(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, Config{Windows: map[Scope]Window{
		ScopeLogin: {Max: 2, Period: time.Minute},
	}})
	ctx := context.Background()

	if err := l.Check(ctx, ScopeLogin, "u"); err != nil {
		t.Fatalf("expected empty counter to pass check, got %v", err)
	}
	_ = l.Allow(ctx, ScopeLogin, "u")
	_ = l.Allow(ctx, ScopeLogin, "u")
	if err := l.Check(ctx, ScopeLogin, "u"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected exhausted budget to fail check, got %v", err)
	}
	if n, _ := l.Count(ctx, ScopeLogin, "u"); n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}

	if err := l.Reset(ctx, ScopeLogin, "u"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := l.Check(ctx, ScopeLogin, "u"); err != nil {
		t.Fatalf("expected reset counter to pass, got %v", err)
	}
}

func TestUnconfiguredScopeAndNilLimiterNeverThrottle(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, Config{})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := l.Allow(ctx, ScopeRegisterIP, "ip"); err != nil {
			t.Fatalf("expected unthrottled scope, got %v", err)
		}
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Allow(ctx, ScopeCaptcha, "ip"); err != nil {
		t.Fatalf("expected nil limiter to allow, got %v", err)
	}
}

func TestRedisFailureIsWrapped(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, Config{Windows: map[Scope]Window{
		ScopeCaptcha: {Max: 1, Period: time.Minute},
	}})
	mr.Close()

	err := l.Allow(context.Background(), ScopeCaptcha, "ip")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
