package middleware

import (
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/ts4z/cyclepot/he"
	"github.com/ts4z/cyclepot/varz"
)

var rateLimited = varz.NewCounter("rate_limited_total", "Requests refused by the per-client rate limiter.")

// RateLimiter allows each client address a token bucket of requests.  The
// least recently seen clients are forgotten once maxClients is reached.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
	next     http.Handler
}

type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxClients        int
	Next              http.Handler
}

func NewRateLimiter(c *RateLimiterConfig) *RateLimiter {
	size := c.MaxClients
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		panic(err)
	}
	return &RateLimiter{
		limiters: cache,
		rate:     rate.Limit(c.RequestsPerSecond),
		burst:    c.Burst,
		next:     c.Next,
	}
}

func clientKey(r *http.Request) string {
	addr := RemoteAddr(r)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters.Get(key)
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters.Add(key, l)
	}
	return l
}

func (rl *RateLimiter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !rl.limiter(clientKey(r)).Allow() {
		rateLimited.Inc()
		he.SendErrorToHTTPClient(w, "accept request", he.HTTPCodedErrorf(http.StatusTooManyRequests, "rate limit exceeded"))
		return
	}
	rl.next.ServeHTTP(w, r)
}
