package api

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"studyhub/internal/errcode"
)

func newTestLimiter(t *testing.T, limits LoginLimits) (*loginLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newLoginLimiter(client, limits), mr
}

func TestLoginLimiterHourlyBucket(t *testing.T) {
	limiter, _ := newTestLimiter(t, LoginLimits{PerHour: 2})
	clock := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.admit(ctx, "10.0.0.1", "a@example.com", logger); err != nil {
			t.Fatalf("attempt %d should pass: %v", i+1, err)
		}
	}
	if err := limiter.admit(ctx, "10.0.0.1", "a@example.com", logger); !errcode.IsCode(err, errcode.RateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	if err := limiter.admit(ctx, "10.0.0.2", "a@example.com", logger); err != nil {
		t.Fatalf("other ip must have its own bucket: %v", err)
	}

	clock = clock.Add(time.Hour)
	if err := limiter.admit(ctx, "10.0.0.1", "a@example.com", logger); err != nil {
		t.Fatalf("next hour must start a new bucket: %v", err)
	}
}

func TestLoginLimiterLockAndReset(t *testing.T) {
	limiter, mr := newTestLimiter(t, LoginLimits{LockThreshold: 2, LockTTL: time.Minute})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	limiter.fail(ctx, "b@example.com", logger)
	limiter.succeed(ctx, "b@example.com")
	limiter.fail(ctx, "b@example.com", logger)
	if err := limiter.admit(ctx, "ip", "b@example.com", logger); err != nil {
		t.Fatalf("success must reset the failure count: %v", err)
	}

	limiter.fail(ctx, "b@example.com", logger)
	if err := limiter.admit(ctx, "ip", "b@example.com", logger); !errcode.IsCode(err, errcode.RateLimited) {
		t.Fatalf("expected lock after threshold, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := limiter.admit(ctx, "ip", "b@example.com", logger); err != nil {
		t.Fatalf("lock should expire: %v", err)
	}
}

func TestLoginLimiterFailsOpenWithoutRedis(t *testing.T) {
	limiter, mr := newTestLimiter(t, LoginLimits{PerHour: 1, LockThreshold: 1, LockTTL: time.Minute})
	mr.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := limiter.admit(context.Background(), "ip", "c@example.com", logger); err != nil {
		t.Fatalf("redis outage must not block login: %v", err)
	}
}
