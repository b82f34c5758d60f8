package platform

import (
	"errors"
	"fmt"
	"time"

	"github.com/omnisocial/omnisocial/internal/models"
)

// Kind classifies an adapter or hub failure. Every public operation in
// this package and its consumers fails with a *Error carrying one of
// these kinds; nothing panics across the package boundary.
type Kind string

const (
	// KindValidation marks a missing or malformed call parameter. The
	// request never reached the network.
	KindValidation Kind = "validation"
	// KindNotConnected marks a call for a (user, platform) pair with no
	// credential entry.
	KindNotConnected Kind = "not_connected"
	// KindRateLimited marks a rejection from the local limiter or an
	// upstream 429. Retryable after RetryAfter.
	KindRateLimited Kind = "rate_limited"
	// KindAuth marks a 401 that survived the single refresh-and-replay,
	// or a refresh that could not be performed. Terminal for the call.
	KindAuth Kind = "auth"
	// KindUpstream marks a 5xx or network-level failure that exhausted
	// the retry budget.
	KindUpstream Kind = "upstream"
	// KindClient marks any other 4xx. Not retried.
	KindClient Kind = "client"
	// KindNotRegistered marks a call against a platform with no
	// registered adapter.
	KindNotRegistered Kind = "not_registered"
)

// Error is the structured failure returned by adapters and the hub.
type Error struct {
	Kind      Kind
	Platform  models.Platform
	Message   string
	RateLimit *models.RateLimitInfo
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Platform, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Platform, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RetryAfter returns the wait hint carried by a rate-limit failure,
// zero otherwise.
func (e *Error) RetryAfter() time.Duration {
	if e.RateLimit != nil {
		return e.RateLimit.RetryAfter
	}
	return 0
}

// Errorf builds a *Error with a formatted message.
func Errorf(kind Kind, p models.Platform, format string, args ...any) *Error {
	return &Error{Kind: kind, Platform: p, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds a *Error around an underlying cause.
func WrapErr(kind Kind, p models.Platform, err error, message string) *Error {
	return &Error{Kind: kind, Platform: p, Message: message, Err: err}
}

// KindOf extracts the Kind from err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryAfter reports the retry hint of a rate-limit failure.
func IsRetryAfter(err error) (time.Duration, bool) {
	pe, ok := AsError(err)
	if !ok || pe.Kind != KindRateLimited {
		return 0, false
	}
	return pe.RetryAfter(), true
}
