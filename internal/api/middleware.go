package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sgerhart/reqsentry/internal/model"
)

// maxInspectedBody caps how much of a request body the analyzers see.
// Larger bodies are still counted by the payload-size analyzer via
// Content-Length.
const maxInspectedBody = 64 << 10

// Middleware wraps a handler with the security pipeline. Denied requests
// receive the fixed denial shape and never reach the inner handler.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := buildRequestContext(r)
		decision := p.Inspect(rc)

		w.Header().Set("X-Request-ID", decision.RequestID)

		if !decision.Allow {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(decision.Status)
			json.NewEncoder(w).Encode(decision.Body)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// buildRequestContext extracts the request descriptor the analyzers
// consume. An unreadable body is treated as empty input, never an error.
func buildRequestContext(r *http.Request) *model.RequestContext {
	var body string
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxInspectedBody))
		if err == nil {
			body = string(data)
			// Restore the body for the inner handler.
			r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(data), r.Body))
		}
	}

	query := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	return &model.RequestContext{
		Identity:      clientIdentity(r),
		UserAgent:     r.UserAgent(),
		Timestamp:     time.Now(),
		URL:           r.URL.RequestURI(),
		Method:        r.Method,
		Headers:       r.Header,
		Body:          body,
		Query:         query,
		ContentLength: r.ContentLength,
		Referer:       r.Referer(),
	}
}

// clientIdentity resolves the client identity: first X-Forwarded-For hop,
// then X-Real-IP, then the connection's remote address.
func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
