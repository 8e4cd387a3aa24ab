package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreInvalidURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url"); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestRedisStoreLookupMiss(t *testing.T) {
	store, _ := setupTestRedis(t)
	entry, err := store.Lookup(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected miss, got %+v", entry)
	}
}

func TestRedisStoreReserveIsExclusive(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "h1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Reserve = %v, %v", ok, err)
	}
	ok, err = store.Reserve(ctx, "h1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second Reserve = %v, %v", ok, err)
	}

	if err := store.Release(ctx, "h1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	ok, err = store.Reserve(ctx, "h1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Reserve after release = %v, %v", ok, err)
	}

	s.FastForward(2 * time.Minute)
	ok, err = store.Reserve(ctx, "h1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Reserve after expiry = %v, %v", ok, err)
	}
}

func TestRedisStoreSaveAndLookup(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Second)

	err := store.Save(ctx, Entry{
		KeyHash:   "h2",
		Status:    201,
		Response:  []byte(`{"success":true}`),
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
	}, time.Hour)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entry, err := store.Lookup(ctx, "h2")
	if err != nil || entry == nil {
		t.Fatalf("Lookup = %+v, %v", entry, err)
	}
	if entry.Status != 201 || string(entry.Response) != `{"success":true}` {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if ttl := s.TTL("pagepush:idem:h2"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	s.FastForward(time.Hour)
	entry, err = store.Lookup(ctx, "h2")
	if err != nil || entry != nil {
		t.Fatalf("expected expiry, got %+v, %v", entry, err)
	}
}
