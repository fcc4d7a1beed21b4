// Package he carries HTTP status codes alongside errors.
package he

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// HTTPError is an error with the status code the client should see.
type HTTPError struct {
	code int
	err  error
}

func HTTPCodedErrorf(code int, f string, more ...any) *HTTPError {
	return &HTTPError{
		code: code,
		err:  fmt.Errorf(f, more...),
	}
}

func New(code int, err error) *HTTPError {
	return &HTTPError{
		code: code,
		err:  err,
	}
}

func (e *HTTPError) Error() string {
	return e.err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.err
}

// StatusCode is the code that SendErrorToHTTPClient would use.
func (e *HTTPError) StatusCode() int {
	return e.code
}

// Code finds the status for err, defaulting to 500.
func Code(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.code
	}
	return http.StatusInternalServerError
}

// SendErrorToHTTPClient writes err as a JSON {"error": ...} body.  If it
// happens to be (or wrap) an HTTPError the client gets that code;
// otherwise the client gets 500 and it's on us.
func SendErrorToHTTPClient(w http.ResponseWriter, while string, err error) {
	code := Code(err)
	txt := fmt.Sprintf("can't %s: %v", while, err)
	if code >= 500 {
		slog.Error(txt, "code", code)
	} else {
		slog.Info(txt, "code", code)
	}
	WriteJSON(w, code, map[string]string{"error": txt})
}

// WriteJSON sends v with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("error encoding response", "error", err)
	}
}
