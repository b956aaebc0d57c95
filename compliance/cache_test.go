package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestCache(t *testing.T) (*RedisStatusCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStatusCache(client, time.Minute), s
}

func TestRedisStatusCache_RoundTrip(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "user-1"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	want := Standing{Suspended: true, ViolationCount: 3}
	if err := cache.Set(ctx, "user-1", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := cache.Get(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	if err := cache.Invalidate(ctx, "user-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "user-1"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestRedisStatusCache_Expires(t *testing.T) {
	cache, s := setupTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "user-2", Standing{ViolationCount: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, ok, _ := cache.Get(ctx, "user-2"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestRedisStatusCache_ServerDown(t *testing.T) {
	cache, s := setupTestCache(t)
	s.Close()

	if _, _, err := cache.Get(context.Background(), "user-3"); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}
