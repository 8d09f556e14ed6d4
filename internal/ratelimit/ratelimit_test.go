package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// --- Local Tests ---

func TestLocal_ZeroDelayNeverBlocks(t *testing.T) {
	l := NewLocal(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("expected no pacing, took %v", elapsed)
	}
}

func TestLocal_EnforcesMinDelay(t *testing.T) {
	l := NewLocal(50 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// first token is free, the next two wait 50ms each
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected at least ~100ms of pacing, got %v", elapsed)
	}
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := NewLocal(time.Hour)
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Error("expected error on cancelled context")
	}
}

// --- Redis Tests ---

func TestRedis_FirstAcquireIsImmediate(t *testing.T) {
	rdb := newMiniRedis(t)
	l := NewRedis(rdb, "test:first", 100*time.Millisecond)

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first token should be immediate, took %v", elapsed)
	}

	if _, err := rdb.HGet(context.Background(), "test:first", "tokens").Result(); err != nil {
		t.Errorf("expected bucket state in redis: %v", err)
	}
}

func TestRedis_SharedBucketPacesHolders(t *testing.T) {
	rdb := newMiniRedis(t)
	a := NewRedis(rdb, "test:shared", 100*time.Millisecond)
	b := NewRedis(rdb, "test:shared", 100*time.Millisecond)

	start := time.Now()
	if err := a.Wait(context.Background()); err != nil {
		t.Fatalf("a.Wait() error = %v", err)
	}
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("b.Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("second holder should wait for the shared token, took %v", elapsed)
	}
}

func TestRedis_TimeoutWhileWaiting(t *testing.T) {
	rdb := newMiniRedis(t)
	l := NewRedis(rdb, "test:timeout", 10*time.Second)
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Errorf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestRedis_ZeroDelayDisabled(t *testing.T) {
	l := NewRedis(nil, "", 0)
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("expected nil for disabled limiter, got %v", err)
	}
}
