package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(&RateLimiterConfig{RequestsPerSecond: 0.001, Burst: 2, Next: ok})

	get := func(addr string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/scores", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		rl.ServeHTTP(w, r)
		return w.Code
	}

	for i, want := range []int{http.StatusTeapot, http.StatusTeapot, http.StatusTooManyRequests} {
		if got := get("10.0.0.1:1234"); got != want {
			t.Errorf("request %d: got %d, want %d", i, got, want)
		}
	}
	// Same host, different port.
	if got := get("10.0.0.1:9999"); got != http.StatusTooManyRequests {
		t.Errorf("other port: got %d", got)
	}
	if got := get("10.0.0.2:1234"); got != http.StatusTeapot {
		t.Errorf("other client: got %d", got)
	}
}

func TestRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:80"
	if got := RemoteAddr(r); got != "192.0.2.1:80" {
		t.Errorf("got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.1.1")
	if got := RemoteAddr(r); got != "203.0.113.9" {
		t.Errorf("got %q", got)
	}
}

func TestCacheHeaderAdder(t *testing.T) {
	ch := NewCacheHeaderAdder(&CacheHeaderAdderConfig{
		Next:   ok,
		MaxAge: 30 * time.Second,
	})
	w := httptest.NewRecorder()
	ch.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=30" {
		t.Errorf("GET Cache-Control = %q", got)
	}

	w = httptest.NewRecorder()
	ch.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/scores", nil))
	if got := w.Header().Get("Cache-Control"); got != "" {
		t.Errorf("POST Cache-Control = %q", got)
	}

	ch = NewCacheHeaderAdder(&CacheHeaderAdderConfig{Next: ok, CachePrivate: true, Immutable: true})
	w = httptest.NewRecorder()
	ch.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/x", nil))
	if got := w.Header().Get("Cache-Control"); got != "private, immutable" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestRequestLoggerPassesCode(t *testing.T) {
	rl := NewRequestLogger(ok, clockwork.NewFakeClock())
	w := httptest.NewRecorder()
	rl.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("got %d", w.Code)
	}
}

func TestResponseRecorder(t *testing.T) {
	rec := &responseRecorder{ResponseWriter: httptest.NewRecorder()}
	if rec.Code() != http.StatusOK {
		t.Errorf("default code %d", rec.Code())
	}
	rec.Write([]byte("hello"))
	rec.WriteHeader(http.StatusNotFound)
	if rec.Code() != http.StatusOK {
		t.Errorf("code after implicit header = %d", rec.Code())
	}
	rec.Write([]byte(" world"))
	if rec.bytes != 11 {
		t.Errorf("bytes = %d", rec.bytes)
	}
}
