package cache

import (
	"strings"
	"testing"

	"reservoir/internal/testutil"
)

func TestResultKey(t *testing.T) {
	t.Run("nil request", func(t *testing.T) {
		if key := ResultKey(nil, "opm"); key != "" {
			t.Errorf("ResultKey(nil) = %v, want empty string", key)
		}
	})

	t.Run("same request same key", func(t *testing.T) {
		k1 := ResultKey(testutil.SmallRequest(), "opm")
		k2 := ResultKey(testutil.SmallRequest(), "OPM")
		if k1 != k2 {
			t.Errorf("same request should produce same key: %v != %v", k1, k2)
		}
		if !strings.HasPrefix(k1, "result:opm:") {
			t.Errorf("unexpected key layout: %s", k1)
		}
	})

	t.Run("title does not change key", func(t *testing.T) {
		req := testutil.SmallRequest()
		req.Title = "renamed"
		if ResultKey(req, "opm") != ResultKey(testutil.SmallRequest(), "opm") {
			t.Error("title must not affect the cache key")
		}
	})

	t.Run("physics changes key", func(t *testing.T) {
		req := testutil.SmallRequest()
		req.Grid.Porosity = 0.25
		if ResultKey(req, "opm") == ResultKey(testutil.SmallRequest(), "opm") {
			t.Error("different requests should produce different keys")
		}
	})

	t.Run("backend changes key", func(t *testing.T) {
		req := testutil.SmallRequest()
		if ResultKey(req, "opm") == ResultKey(req, "mrst") {
			t.Error("backends must not share cache entries")
		}
	})
}

func TestBackendPattern(t *testing.T) {
	key := BuildResultKey("abc", "MRST")
	if key != "result:mrst:abc" {
		t.Errorf("BuildResultKey() = %s", key)
	}
	if !matchPattern(BackendPattern("mrst"), key) {
		t.Error("backend pattern should match its keys")
	}
	if matchPattern(BackendPattern("opm"), key) {
		t.Error("opm pattern should not match mrst keys")
	}
}
