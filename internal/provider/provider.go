// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"fmt"

	"github.com/shineum/smtp-relay/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Implementations make exactly one API call per Send and never retry.
type Provider interface {
	// Send delivers the request and returns the provider's acceptance receipt.
	Send(ctx context.Context, req *email.SendRequest) (*Receipt, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Receipt is the provider's acceptance response. It is logged, not interpreted.
type Receipt struct {
	// ID is the provider's message identifier, when one is returned.
	ID string
	// Raw is the provider's response value.
	Raw any
}

// APIError carries the diagnostic payload of a provider-reported failure
// (malformed request, auth failure, rate limit).
type APIError struct {
	Provider   string
	StatusCode int
	Payload    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.StatusCode, e.Payload)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Payload)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
