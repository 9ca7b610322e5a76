package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Metric computation failure sentinels. Both must be surfaced to callers;
// the framer substitutes a zero sentinel in the in-band terminator only.
var (
	ErrInsufficientData = errors.New("insufficient samples")
	ErrDivisionByZero   = errors.New("division by zero")
)

// UnknownProviderError reports a chat request for a provider that is not in
// the adapter registry.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("provider %q is not registered", e.Provider)
}

// UnsupportedModelError reports a model missing from the provider's
// configured model table. Raised before any upstream call.
type UnsupportedModelError struct {
	Provider string
	Model    string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("model %q is not supported by %s", e.Model, e.Provider)
}

// MissingCredentialsError reports a request with neither a caller-supplied
// nor a configured API key.
type MissingCredentialsError struct {
	Provider string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("no API key supplied or configured for %s", e.Provider)
}

// Upstream failure kinds.
const (
	UpstreamKindTimeout   = "timeout"
	UpstreamKindAuth      = "auth"
	UpstreamKindMalformed = "malformed"
	UpstreamKindUnknown   = "upstream"
)

// UpstreamError wraps any failure of the provider's API: HTTP errors,
// timeouts, and malformed payloads. Never absorbed silently.
type UpstreamError struct {
	Provider string
	Model    string
	Status   int
	Kind     string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s upstream call for %s failed (%s, status %d): %v", e.Provider, e.Model, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s upstream call for %s failed (%s): %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Timeout() bool {
	return e.Kind == UpstreamKindTimeout
}

// newUpstreamError classifies err, keeping timeout detection ahead of the
// status-based kinds so a deadline expiry mid-transfer is never reported as a
// generic upstream failure.
func newUpstreamError(provider, model string, status int, err error) *UpstreamError {
	kind := UpstreamKindUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = UpstreamKindTimeout
	case isNetTimeout(err):
		kind = UpstreamKindTimeout
	case status == 401 || status == 403:
		kind = UpstreamKindAuth
	}
	return &UpstreamError{Provider: provider, Model: model, Status: status, Kind: kind, Err: err}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
