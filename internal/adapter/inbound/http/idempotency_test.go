package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIdempotencyMiddlewareReplaysCachedResponse(t *testing.T) {
	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("X-Call-Count", "1")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("response-body"))
	})
	mw := IdempotencyMiddleware(10, time.Minute)(inner)

	req := func() *http.Request {
		r := httptest.NewRequest("POST", "/api/v1/check", nil)
		r.Header.Set(IdempotencyHeader, "key-1")
		return r
	}

	rec1 := httptest.NewRecorder()
	mw.ServeHTTP(rec1, req())
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if rec1.Code != http.StatusCreated || rec1.Body.String() != "response-body" {
		t.Fatalf("first response = %d %q", rec1.Code, rec1.Body.String())
	}

	rec2 := httptest.NewRecorder()
	mw.ServeHTTP(rec2, req())
	if calls != 1 {
		t.Errorf("calls after replay = %d, want 1 (handler should not re-run)", calls)
	}
	if rec2.Code != http.StatusCreated || rec2.Body.String() != "response-body" {
		t.Fatalf("replayed response = %d %q", rec2.Code, rec2.Body.String())
	}
	if rec2.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Errorf("replayed response missing X-Idempotency-Replayed header")
	}
}

func TestIdempotencyMiddlewareSkipsRequestsWithoutHeader(t *testing.T) {
	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	mw := IdempotencyMiddleware(10, time.Minute)(inner)

	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/check", nil))
	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/check", nil))

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (no caching without an idempotency key)", calls)
	}
}

func TestIdempotencyMiddlewareDoesNotCacheServerErrors(t *testing.T) {
	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	mw := IdempotencyMiddleware(10, time.Minute)(inner)

	req := func() *http.Request {
		r := httptest.NewRequest("POST", "/api/v1/check", nil)
		r.Header.Set(IdempotencyHeader, "key-err")
		return r
	}

	mw.ServeHTTP(httptest.NewRecorder(), req())
	mw.ServeHTTP(httptest.NewRecorder(), req())

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (5xx responses should not be cached)", calls)
	}
}

func TestIdempotencyCacheEvictsOldestAtCapacity(t *testing.T) {
	c := newIdempotencyCache(2, time.Minute)
	c.put("a", 200, http.Header{}, []byte("a"))
	c.put("b", 200, http.Header{}, []byte("b"))
	c.put("c", 200, http.Header{}, []byte("c"))

	if _, ok := c.get("a"); ok {
		t.Error("entry a should have been evicted at capacity")
	}
	if _, ok := c.get("b"); !ok {
		t.Error("entry b should still be cached")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("entry c should still be cached")
	}
}

func TestIdempotencyCacheExpiresByTTL(t *testing.T) {
	c := newIdempotencyCache(10, 10*time.Millisecond)
	c.put("key", 200, http.Header{}, []byte("body"))

	if _, ok := c.get("key"); !ok {
		t.Fatal("entry should be present immediately after put")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get("key"); ok {
		t.Error("entry should have expired after TTL")
	}
}
