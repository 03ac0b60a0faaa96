package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	cache := NewMemoryCache(&Options{
		DefaultTTL: time.Minute,
		MaxEntries: 100,
	})
	defer cache.Close()

	ctx := context.Background()

	if err := cache.Set(ctx, "result:opm:abc", []byte("payload"), 0); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	got, err := cache.Get(ctx, "result:opm:abc")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("expected payload, got %s", got)
	}

	// копия не связана с хранимым значением
	got[0] = 'X'
	again, _ := cache.Get(ctx, "result:opm:abc")
	if string(again) != "payload" {
		t.Errorf("stored value mutated through returned slice: %s", again)
	}
}

func TestMemoryCache_GetNotFound(t *testing.T) {
	cache := NewMemoryCache(nil)
	defer cache.Close()

	_, err := cache.Get(context.Background(), "nonexistent")
	if err != ErrKeyNotFound {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestMemoryCache_OverwriteAndDelete(t *testing.T) {
	cache := NewMemoryCache(nil)
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "k", []byte("v1"), 0)
	cache.Set(ctx, "k", []byte("v2"), 0)

	got, _ := cache.Get(ctx, "k")
	if string(got) != "v2" {
		t.Errorf("expected overwritten value v2, got %s", got)
	}

	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if exists, _ := cache.Exists(ctx, "k"); exists {
		t.Error("expected key to be deleted")
	}
	// удаление отсутствующего ключа не ошибка
	if err := cache.Delete(ctx, "k"); err != nil {
		t.Errorf("delete of missing key: %v", err)
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	cache := NewMemoryCache(&Options{
		DefaultTTL:      time.Minute,
		CleanupInterval: 20 * time.Millisecond,
	})
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "short", []byte("value"), 50*time.Millisecond)
	cache.Set(ctx, "long", []byte("value"), 0)

	if _, err := cache.Get(ctx, "short"); err != nil {
		t.Fatalf("expected key to exist: %v", err)
	}

	time.Sleep(120 * time.Millisecond)

	if _, err := cache.Get(ctx, "short"); err != ErrKeyNotFound {
		t.Errorf("expected ErrKeyNotFound after TTL, got %v", err)
	}
	if _, err := cache.Get(ctx, "long"); err != nil {
		t.Errorf("default TTL entry should survive: %v", err)
	}

	stats, _ := cache.Stats(ctx)
	if stats.TotalKeys != 1 {
		t.Errorf("expected expired entry to be cleaned up, TotalKeys = %d", stats.TotalKeys)
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	cache := NewMemoryCache(&Options{
		MaxEntries: 3,
		DefaultTTL: time.Minute,
	})
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "key1", []byte("value1"), 0)
	cache.Set(ctx, "key2", []byte("value2"), 0)
	cache.Set(ctx, "key3", []byte("value3"), 0)

	// key1 становится самым свежим
	cache.Get(ctx, "key1")

	cache.Set(ctx, "key4", []byte("value4"), 0)

	if _, err := cache.Get(ctx, "key2"); err != ErrKeyNotFound {
		t.Error("expected key2 to be evicted")
	}
	for _, key := range []string{"key1", "key3", "key4"} {
		if _, err := cache.Get(ctx, key); err != nil {
			t.Errorf("expected %s to still exist", key)
		}
	}

	stats, _ := cache.Stats(ctx)
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestMemoryCache_DeleteByPattern(t *testing.T) {
	cache := NewMemoryCache(nil)
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "result:opm:a", []byte("1"), 0)
	cache.Set(ctx, "result:opm:b", []byte("2"), 0)
	cache.Set(ctx, "result:mrst:a", []byte("3"), 0)

	n, err := cache.DeleteByPattern(ctx, "result:opm:*")
	if err != nil {
		t.Fatalf("DeleteByPattern() error = %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if exists, _ := cache.Exists(ctx, "result:mrst:a"); !exists {
		t.Error("mrst entry should survive")
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := NewMemoryCache(nil)
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "result:opm:a", []byte("1234"), 0)
	cache.Set(ctx, "plain", []byte("56"), 0)

	cache.Get(ctx, "result:opm:a")
	cache.Get(ctx, "missing")

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", stats.HitRate)
	}
	if stats.MemoryBytes != 6 {
		t.Errorf("MemoryBytes = %d, want 6", stats.MemoryBytes)
	}
	if stats.KeysByPrefix["result"] != 1 || stats.KeysByPrefix["other"] != 1 {
		t.Errorf("unexpected prefixes: %v", stats.KeysByPrefix)
	}
}

func TestMemoryCache_Close(t *testing.T) {
	cache := NewMemoryCache(nil)

	ctx := context.Background()
	cache.Set(ctx, "key", []byte("value"), 0)

	if err := cache.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	if _, err := cache.Get(ctx, "key"); err != ErrCacheClosed {
		t.Errorf("expected ErrCacheClosed, got %v", err)
	}
	if err := cache.Set(ctx, "key", nil, 0); err != ErrCacheClosed {
		t.Errorf("expected ErrCacheClosed on Set, got %v", err)
	}

	// Double close should be safe
	if err := cache.Close(); err != nil {
		t.Errorf("double close should not error: %v", err)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
	}{
		{"* anything", "*", "anything", true},
		{"prefix match", "result:*", "result:opm:abc", true},
		{"prefix mismatch", "result:*", "other:key", false},
		{"suffix match", "*:abc", "result:opm:abc", true},
		{"suffix mismatch", "*:abc", "result:opm:xyz", false},
		{"exact", "exact", "exact", true},
		{"exact other", "exact", "other", false},
		{"middle wildcard", "result:*:abc", "result:mrst:abc", true},
		{"middle wildcard empty", "result:*:abc", "result::abc", true},
		{"key too short", "prefix*suffix", "presuf", false},
		{"exact length match", "a*b", "ab", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchPattern(tt.pattern, tt.key); got != tt.want {
				t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"result:key", "result"},
		{"key", "other"},
		{"a:b:c", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := extractPrefix(tt.key); got != tt.want {
				t.Errorf("extractPrefix(%s) = %s, want %s", tt.key, got, tt.want)
			}
		})
	}
}
