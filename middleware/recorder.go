package middleware

import (
	"net/http"
)

var _ http.ResponseWriter = &responseRecorder{}

// responseRecorder notes the status and body size of a response for the
// access log.
type responseRecorder struct {
	http.ResponseWriter
	code  int
	bytes int
}

func (rr *responseRecorder) WriteHeader(statusCode int) {
	if rr.code == 0 {
		rr.code = statusCode
	}
	rr.ResponseWriter.WriteHeader(statusCode)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.code == 0 {
		rr.code = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

func (rr *responseRecorder) Code() int {
	if rr.code == 0 {
		return http.StatusOK
	}
	return rr.code
}
