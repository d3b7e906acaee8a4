// Package transcribe routes transcription requests between the local engine
// and the cloud API, with a single configured fallback attempt.
package transcribe

import (
	"context"
	"fmt"
	"strings"
)

const (
	ProviderLocal = "local"
	ProviderCloud = "cloud"
)

// Request is immutable once constructed; the router builds one per provider
// attempt.
type Request struct {
	AudioPath string
	ModelID   string
	Language  string
}

type Result struct {
	Text     string
	Provider string
}

// Provider is one transcription backend.
type Provider interface {
	Name() string
	// Available reports whether the provider could serve a request right
	// now (binary present, credentials configured).
	Available() bool
	Transcribe(ctx context.Context, req Request) (string, error)
}

// ProviderError wraps a failure with the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailed is the terminal routing failure, carrying the reason
// from every attempted provider in order.
type AllProvidersFailed struct {
	Reasons []*ProviderError
}

func (e *AllProvidersFailed) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for _, reason := range e.Reasons {
		parts = append(parts, reason.Error())
	}
	return "all transcription providers failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every attempt so errors.Is can see a canceled context
// through the aggregate.
func (e *AllProvidersFailed) Unwrap() []error {
	errs := make([]error, 0, len(e.Reasons))
	for _, reason := range e.Reasons {
		errs = append(errs, reason)
	}
	return errs
}
