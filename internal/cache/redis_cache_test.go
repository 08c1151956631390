package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisCache_StoreSent_Success(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, 10*time.Second)

	ctx := context.Background()
	sentAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)
	providerIDs := []string{"wamid.opener", "wamid.text"}

	if err := cache.StoreSent(ctx, "4f9c1a2e", providerIDs, sentAt); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	key := "sched:4f9c1a2e"

	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}
	if ttlRemaining := mr.TTL(key); ttlRemaining <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttlRemaining)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if len(got.ProviderMessageIDs) != 2 || got.ProviderMessageIDs[0] != "wamid.opener" {
		t.Fatalf("expected provider ids %v, got %v", providerIDs, got.ProviderMessageIDs)
	}
	if !got.SentAt.Equal(sentAt) {
		t.Fatalf("expected SentAt %v, got %v", sentAt, got.SentAt)
	}
}

func TestRedisCache_StoreSent_OverwritesExistingValue(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	if err := cache.StoreSent(ctx, "m-1", []string{"first"}, time.Now()); err != nil {
		t.Fatalf("first StoreSent() error: %v", err)
	}
	if err := cache.StoreSent(ctx, "m-1", []string{"second"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("second StoreSent() error: %v", err)
	}

	raw, err := mr.Get("sched:m-1")
	if err != nil {
		t.Fatalf("failed to get key sched:m-1: %v", err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if len(got.ProviderMessageIDs) != 1 || got.ProviderMessageIDs[0] != "second" {
		t.Fatalf("expected overwritten ids [second], got %v", got.ProviderMessageIDs)
	}
}

func TestRedisCache_StoreSent_ContextCanceled(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cache.StoreSent(ctx, "m-1", []string{"x"}, time.Now()); err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}
