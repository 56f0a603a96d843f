package routing

import (
	"errors"
	"fmt"
	"strings"
)

// Common routing errors checked with errors.Is().
var (
	// ErrNoAvailableProvider is returned when no requested target maps to
	// a configured queue.
	ErrNoAvailableProvider = errors.New("no available provider")

	// ErrReloadUnsupported is returned when keys resolve directly from
	// the environment, where there is nothing to reload.
	ErrReloadUnsupported = errors.New("key reload not supported for this resolver")

	// ErrUnknownProvider is returned for a reload of a provider the
	// router was never configured with.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrEmptyHistory is returned when a chat request carries no messages.
	ErrEmptyHistory = errors.New("history cannot be empty")
)

// NoAvailableProviderError reports which targets were requested when no
// queue could serve any of them.
type NoAvailableProviderError struct {
	// Targets are the candidates that were requested.
	Targets []Target
}

// Error implements the error interface.
func (e *NoAvailableProviderError) Error() string {
	names := make([]string, 0, len(e.Targets))
	for _, t := range e.Targets {
		names = append(names, t.Provider+"/"+t.Model)
	}
	return fmt.Sprintf("no available provider for targets: %s", strings.Join(names, ", "))
}

// Is implements error matching for errors.Is().
func (e *NoAvailableProviderError) Is(target error) bool {
	return target == ErrNoAvailableProvider
}
