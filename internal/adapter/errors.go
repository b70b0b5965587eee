package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// UpstreamError reports that the provider rejected or failed the request.
// The gateway surfaces it to the caller with provider identity and status
// so the caller can retry or show it, never swallows it.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: status %d: %s", e.Provider, e.Status, e.Body)
}

// TranslationError reports that the gateway could not speak the
// provider's wire format. Recoverable; the pipeline degrades instead of
// crashing.
type TranslationError struct {
	Provider string
	Cause    error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation %s: %v", e.Provider, e.Cause)
}

func (e *TranslationError) Unwrap() error { return e.Cause }

// ConfigError is fatal at startup, e.g. an unknown provider identifier.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// IsUpstream reports whether err is an upstream provider failure.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// IsContextOverflow checks if an error indicates context window overflow
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"context_length_exceeded", "context window", "too long", "maximum context"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status == 413
	}
	return false
}

// IsRateLimitOrAuth checks if an error is due to rate limiting or auth issues
func IsRateLimitOrAuth(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status == 429 || ue.Status == 401 || ue.Status == 403
	}
	return false
}
