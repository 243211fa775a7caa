package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/neltoby/pokemon/internal/platform/resilience"
)

var (
	// ErrNotFound is returned when the upstream has no such resource
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable is returned when the upstream failed after retries
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedUpstream is returned when an upstream payload cannot be used
	ErrMalformedUpstream = errors.New("malformed upstream response")
	// ErrInvalidArgument is returned for caller input outside the accepted domain
	ErrInvalidArgument = errors.New("invalid argument")
)

// Condition codes returned by Code
const (
	CodeInvalidArgument     = "invalid_argument"
	CodeNotFound            = "not_found"
	CodeMalformedUpstream   = "malformed_upstream"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeInternal            = "internal"
)

// StatusError is a non-2xx upstream response
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}

// NetworkError is a connection-level failure, including a per-attempt timeout
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError is an upstream body that could not be decoded
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Code returns the stable condition code for err
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrMalformedUpstream):
		return CodeMalformedUpstream
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		// A caller deadline expiring means the upstream did not answer in time
		return CodeUpstreamUnavailable
	default:
		return CodeInternal
	}
}

// isTransient reports whether another attempt could succeed
func isTransient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func classified(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMalformedUpstream) ||
		errors.Is(err, ErrUpstreamUnavailable)
}

// translate maps transport failures to the catalog sentinels. Errors that are
// already classified, and caller cancellation, pass through unchanged.
func translate(err error) error {
	if err == nil || classified(err) {
		return err
	}

	var (
		statusErr *StatusError
		netErr    *NetworkError
		decodeErr *DecodeError
	)
	switch {
	case errors.As(err, &statusErr):
		if statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	case errors.As(err, &netErr), errors.Is(err, resilience.ErrCircuitOpen):
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	case errors.As(err, &decodeErr):
		return fmt.Errorf("%w: %w", ErrMalformedUpstream, err)
	}
	return err
}
