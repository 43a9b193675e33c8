package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryKV_Basics(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV[[]string]()

	if _, ok, err := kv.Get(ctx, "roles"); err != nil || ok {
		t.Fatalf("expected miss on empty store, got ok=%v err=%v", ok, err)
	}

	if err := kv.Set(ctx, "roles", []string{"admin", "viewer"}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok, err := kv.Get(ctx, "roles")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(v) != 2 || v[0] != "admin" {
		t.Errorf("unexpected value %v", v)
	}

	if err := kv.Delete(ctx, "roles"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "roles"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestMemoryKV_ExpiredEntriesAreRemovedOnRead(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	kv := NewMemoryKV[string]()
	kv.now = func() time.Time { return now }

	_ = kv.Set(ctx, "k", "v", time.Second)
	_ = kv.Set(ctx, "forever", "v", 0)

	now = now.Add(time.Second)
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Error("entry must be invisible once now >= expiresAt")
	}
	if kv.Len() != 1 {
		t.Errorf("expected expired entry to be removed, %d entries remain", kv.Len())
	}

	now = now.Add(24 * time.Hour)
	if _, ok, _ := kv.Get(ctx, "forever"); !ok {
		t.Error("entries without ttl must not expire")
	}
}

func TestMemoryKV_ClearAndClose(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV[int]()
	_ = kv.Set(ctx, "a", 1, 0)
	_ = kv.Set(ctx, "b", 2, 0)

	if err := kv.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if kv.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", kv.Len())
	}

	_ = kv.Close()
	if err := kv.Set(ctx, "a", 1, 0); err != ErrClosed {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if err := kv.Ping(ctx); err != ErrClosed {
		t.Errorf("expected ErrClosed from Ping, got %v", err)
	}
}

// Race Test
func TestMemoryKV_ThreadSafety(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV[int]()

	var wg sync.WaitGroup
	wg.Add(100)
	for i := range 100 {
		go func() {
			defer wg.Done()
			_ = kv.Set(ctx, "k", i, time.Minute)
			_, _, _ = kv.Get(ctx, "k")
		}()
	}
	wg.Wait()

	if _, ok, _ := kv.Get(ctx, "k"); !ok {
		t.Error("expected key to be present after concurrent writes")
	}
}

func BenchmarkMemoryKV_Get(b *testing.B) {
	ctx := context.Background()
	kv := NewMemoryKV[string]()
	_ = kv.Set(ctx, "k", "v", time.Hour)

	for b.Loop() {
		_, _, _ = kv.Get(ctx, "k")
	}
}
