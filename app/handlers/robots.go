package handlers

import (
	"io"
	"net/http"
)

// HandleRobotsTXT keeps crawlers off the API; there is nothing to index.
func HandleRobotsTXT(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	for _, line := range []string{
		"User-agent: *",
		"Disallow: /api/",
		"Disallow: /metrics",
	} {
		io.WriteString(w, line+"\r\n")
	}
}
