// Package correlation assigns a stable per-request identifier so a chat
// request can be followed across logs, spans, and the tracking store.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// HeaderName is the canonical correlation identifier header.
	HeaderName = "X-Modelgate-Correlation-ID"
	maxIDLen   = 128
)

type contextKey struct{}

var correlationContextKey contextKey

// Middleware guarantees every request carries a correlation identifier: an
// inbound one is reused when valid, otherwise a fresh one is minted. The
// identifier is placed on the request context and echoed in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, ok := FromContext(req.Context())
		if !ok {
			id = FromHeaders(req.Header)
			if id == "" {
				id = NewID()
			}
			req = req.WithContext(WithContext(req.Context(), id))
		}
		w.Header().Set(HeaderName, id)
		next.ServeHTTP(w, req)
	})
}

// WithContext stores a normalized correlation identifier in context.
func WithContext(ctx context.Context, id string) context.Context {
	normalized := normalizeID(id)
	if normalized == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationContextKey, normalized)
}

// FromContext extracts a normalized correlation identifier from context.
func FromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(correlationContextKey).(string)
	if !ok {
		return "", false
	}
	normalized := normalizeID(value)
	if normalized == "" {
		return "", false
	}
	return normalized, true
}

// FromHeaders extracts a normalized correlation identifier from known headers.
func FromHeaders(headers http.Header) string {
	if headers == nil {
		return ""
	}
	candidates := []string{
		HeaderName,
		"X-Request-ID",
		"X-Request-Id",
		"X-Correlation-ID",
		"X-Correlation-Id",
	}
	for _, header := range candidates {
		if id := normalizeID(headers.Get(header)); id != "" {
			return id
		}
	}
	return ""
}

// NewID returns a new correlation identifier.
func NewID() string {
	var bytes [16]byte
	if _, err := rand.Read(bytes[:]); err != nil {
		return fmt.Sprintf("corr-%d", time.Now().UnixNano())
	}
	return "corr-" + hex.EncodeToString(bytes[:])
}

func normalizeID(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if len(value) > maxIDLen {
		value = value[:maxIDLen]
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return ""
		}
	}
	return value
}
