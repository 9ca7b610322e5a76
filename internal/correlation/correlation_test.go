package correlation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareMintsIdentifier(t *testing.T) {
	t.Parallel()

	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if seen == "" || !strings.HasPrefix(seen, "corr-") {
		t.Fatalf("context id=%q, want minted corr- identifier", seen)
	}
	if got := rec.Header().Get(HeaderName); got != seen {
		t.Fatalf("response header=%q, want %q", got, seen)
	}
}

func TestMiddlewareReusesInboundIdentifier(t *testing.T) {
	t.Parallel()

	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc.123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req-abc.123" {
		t.Fatalf("context id=%q, want inbound identifier", seen)
	}
}

func TestNormalizeRejectsUnsafeValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "valid", input: "abc-123_X.y:z", want: "abc-123_X.y:z"},
		{name: "whitespace trimmed", input: "  abc  ", want: "abc"},
		{name: "injection rejected", input: "abc\ndef", want: ""},
		{name: "empty", input: "", want: ""},
	}
	for _, tt := range tests {
		if got := normalizeID(tt.input); got != tt.want {
			t.Fatalf("normalizeID(%q)=%q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFromHeadersPrefersCanonicalHeader(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Set(HeaderName, "canonical-id")
	headers.Set("X-Request-ID", "fallback-id")

	if got := FromHeaders(headers); got != "canonical-id" {
		t.Fatalf("id=%q, want canonical-id", got)
	}
}
