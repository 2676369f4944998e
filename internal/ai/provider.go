// Package ai rewrites and translates articles through an ordered chain of
// text-generation providers with independent rate-limit state.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors of the orchestrator.
var (
	ErrNoProviders        = errors.New("no providers configured")
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// TextProvider is a single chat-completion style backend.
type TextProvider interface {
	Name() string
	Generate(ctx context.Context, system, user string) (string, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrorKind classifies provider failures.
type ErrorKind int

// Provider error kinds.
const (
	KindOther ErrorKind = iota
	KindRateLimited
)

func (k ErrorKind) String() string {
	if k == KindRateLimited {
		return "rate_limited"
	}
	return "other"
}

// ProviderError is returned by provider adapters.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

var rateLimitMarkers = []string{
	"429",
	"quota",
	"resource exhausted",
	"resource_exhausted",
	"too many requests",
	"rate limit",
}

// IsRateLimitMessage reports whether an error message describes a rate limit.
func IsRateLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Classify returns the kind of err and, for rate limits, the provider's retry hint.
func Classify(err error) (ErrorKind, time.Duration) {
	if err == nil {
		return KindOther, 0
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Kind == KindRateLimited || pe.StatusCode == http.StatusTooManyRequests {
			return KindRateLimited, pe.RetryAfter
		}
	}
	if IsRateLimitMessage(err.Error()) {
		return KindRateLimited, 0
	}
	return KindOther, 0
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
