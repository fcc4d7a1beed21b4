package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ts4z/cyclepot/varz"
)

type Clock interface {
	Now() time.Time
}

var requestDuration = varz.NewHistogramVec("request_seconds", "HTTP request latency by route pattern and code.", "pattern", "code")

// RequestLogger logs each request and records its latency.
type RequestLogger struct {
	next  http.Handler
	clock Clock
}

func NewRequestLogger(next http.Handler, clock Clock) *RequestLogger {
	return &RequestLogger{next: next, clock: clock}
}

// RemoteAddr prefers the first proxy hop's idea of the client.
func RemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	return r.RemoteAddr
}

func (rl *RequestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := rl.clock.Now()
	rec := &responseRecorder{ResponseWriter: w}
	rl.next.ServeHTTP(rec, r)
	code := rec.Code()
	duration := rl.clock.Now().Sub(start)
	pattern := r.Pattern
	if pattern == "" {
		pattern = "unmatched"
	}
	requestDuration.WithLabelValues(pattern, strconv.Itoa(code)).Observe(duration.Seconds())
	slog.Info("access", "code", code, "remote", RemoteAddr(r), "method", r.Method, "path", r.URL.Path, "bytes", rec.bytes, "duration", duration)
}
