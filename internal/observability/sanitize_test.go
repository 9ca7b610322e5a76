package observability

import (
	"strings"
	"testing"
)

func TestContainsCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "openai style key", input: "sk-proj4abcdef1234567890", want: true},
		{name: "underscore key", input: "sk_live_abcdef123456", want: true},
		{name: "google style key", input: "AIzaSyD4abcdefghijklmnopqrstu", want: true},
		{name: "bearer header", input: "Authorization: Bearer abc123def456", want: true},
		{name: "connection string secret", input: "host=db password=hunter22", want: true},
		{name: "plain text", input: "say hello to the model", want: false},
		{name: "short string", input: "sk-abc", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ContainsCredential(tt.input); got != tt.want {
				t.Fatalf("ContainsCredential(%q)=%v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScrubCredentials(t *testing.T) {
	t.Parallel()

	scrubbed := ScrubCredentials("request failed with key sk-proj4abcdef1234567890 retrying")
	if strings.Contains(scrubbed, "sk-proj4") {
		t.Fatalf("scrubbed=%q, want key removed", scrubbed)
	}
	if !strings.Contains(scrubbed, credentialRedacted) {
		t.Fatalf("scrubbed=%q, want redaction marker", scrubbed)
	}

	clean := "no secrets in this message"
	if got := ScrubCredentials(clean); got != clean {
		t.Fatalf("clean string changed: %q", got)
	}
}
