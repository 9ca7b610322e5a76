package observability

import (
	"regexp"
	"strings"
)

const credentialRedacted = "[CREDENTIAL_REDACTED]"

// credentialPatterns detects credential formats that must never appear in
// exported telemetry. The chat endpoints accept caller-supplied provider keys
// per request, so span attributes are a real leak surface.
var credentialPatterns = []*regexp.Regexp{
	// Provider API key prefixes: sk-..., sk_..., co-..., AIza... style keys
	regexp.MustCompile(`(?i)\bsk[-_][a-z0-9_-]{8,}\b`),
	regexp.MustCompile(`(?i)\bAIza[a-z0-9_-]{20,}\b`),
	// Bearer token in header-like strings
	regexp.MustCompile(`(?i)\bBearer\s+[a-z0-9_.\-/+=]{8,}\b`),
	// Connection string secrets: password=..., secret=..., token=...
	regexp.MustCompile(`(?i)\b(?:password|secret|token|api_key)\s*=\s*\S{4,}`),
}

// ContainsCredential reports whether s matches any known credential pattern.
// Strings under 8 chars are skipped; no pattern can match them.
func ContainsCredential(s string) bool {
	if len(s) < 8 {
		return false
	}
	for _, p := range credentialPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// ScrubCredentials replaces detected credential patterns in s with a redaction
// marker. A clean string is returned unchanged without allocating.
func ScrubCredentials(s string) string {
	if len(s) < 8 {
		return s
	}
	result := s
	changed := false
	for _, p := range credentialPatterns {
		if p.MatchString(result) {
			result = p.ReplaceAllString(result, credentialRedacted)
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.TrimSpace(result)
}
