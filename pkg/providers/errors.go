package providers

import (
	"errors"
	"fmt"
)

// ErrProviderFailure is the sentinel every provider-side failure matches
// with errors.Is().
var ErrProviderFailure = errors.New("provider request failed")

// ErrEmptyResponse is returned when a provider answers without content.
// It chains to ErrProviderFailure so callers map it like any other
// provider-side failure.
var ErrEmptyResponse = fmt.Errorf("%w: empty response", ErrProviderFailure)

// APIError is a non-2xx answer from a provider API. It carries the status
// and body so callers can surface the provider's own message unchanged.
type APIError struct {
	// Provider is the provider name.
	Provider string

	// Status is the HTTP status code.
	Status int

	// Message is the provider's error body, truncated to a sane length.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

// Is implements error matching for errors.Is().
func (e *APIError) Is(target error) bool {
	return target == ErrProviderFailure
}
