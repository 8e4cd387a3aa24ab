package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHashKey(t *testing.T) {
	if HashKey("abc") == "abc" || len(HashKey("abc")) != 64 {
		t.Fatalf("unexpected hash %q", HashKey("abc"))
	}
	if HashKey("abc") != HashKey("abc") {
		t.Fatal("hash must be deterministic")
	}
}

func TestLookupBlankKeyIsMiss(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour)
	entry, err := cache.Lookup(context.Background(), "  ")
	if err != nil || entry != nil {
		t.Fatalf("Lookup() = %+v, %v", entry, err)
	}
}

func TestBeginCompleteLookup(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	entry, err := cache.Begin(ctx, "key-1")
	if err != nil || entry != nil {
		t.Fatalf("first Begin = %+v, %v", entry, err)
	}
	if _, err := cache.Begin(ctx, "key-1"); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected in progress, got %v", err)
	}

	if err := cache.Complete(ctx, "key-1", 201, []byte(`{"page_id":"p1"}`)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	entry, err = cache.Begin(ctx, "key-1")
	if err != nil || entry == nil {
		t.Fatalf("Begin after complete = %+v, %v", entry, err)
	}
	if string(entry.Response) != `{"page_id":"p1"}` || entry.Status != 201 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	looked, err := cache.Lookup(ctx, "key-1")
	if err != nil || looked == nil {
		t.Fatalf("Lookup = %+v, %v", looked, err)
	}
}

func TestAbortAllowsRetry(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	if _, err := cache.Begin(ctx, "key-2"); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := cache.Abort(ctx, "key-2"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	entry, err := cache.Begin(ctx, "key-2")
	if err != nil || entry != nil {
		t.Fatalf("Begin after abort = %+v, %v", entry, err)
	}
}

func TestEntryExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	cache := New(store, time.Hour)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	if err := cache.Store(ctx, "key-3", 200, []byte(`{}`)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	now = now.Add(time.Hour)
	entry, err := cache.Lookup(ctx, "key-3")
	if err != nil || entry != nil {
		t.Fatalf("expected expired entry, got %+v, %v", entry, err)
	}
}

func TestBeginConcurrentSingleWinner(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := cache.Begin(ctx, "shared")
			if err == nil && entry == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one reservation, got %d", winners)
	}
}
