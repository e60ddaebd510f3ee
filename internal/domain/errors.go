package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for failure modes that carry no extra payload.
var (
	// ErrRateLimited means the quota was exhausted and no action was taken.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUntrustedSource means the URL failed the allow-list; no fetch was
	// attempted.
	ErrUntrustedSource = errors.New("untrusted source")
	// ErrClassificationFailed means the extraction service call failed or
	// its response could not be parsed as an array at all.
	ErrClassificationFailed = errors.New("classification failed")
	// ErrWriteFailed means persistence rejected a candidate.
	ErrWriteFailed = errors.New("write failed")
	// ErrDuplicate means an identical opportunity already exists.
	ErrDuplicate = errors.New("duplicate opportunity")
	// ErrInvalidRequest means a caller-supplied request failed validation
	// before any external call was made.
	ErrInvalidRequest = errors.New("invalid request")
)

// FetchError is a network or HTTP failure for a source URL.
type FetchError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("fetch %s: timeout", e.URL)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError rejects a single candidate; it never aborts the
// enclosing source.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candidate: %s %s", e.Field, e.Reason)
}

// Retryable reports whether a source-level failure may be attempted again.
// Rate-limit denials and allow-list rejections cannot be helped by
// retrying.
func Retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUntrustedSource) {
		return false
	}
	return true
}
