// Package delivery submits mapped requests to the configured provider and
// normalizes the result.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/smtp-relay/internal/email"
	"github.com/shineum/smtp-relay/internal/provider"
)

// Outcome is a successful delivery: the provider accepted the request.
type Outcome struct {
	Provider string
	Receipt  *provider.Receipt
}

// Error is a failed delivery. Payload holds the provider's diagnostic body when
// the provider reported one.
type Error struct {
	Provider string
	Payload  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("delivery via %s failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Gateway hands requests to a single provider.
type Gateway struct {
	provider provider.Provider
}

// NewGateway creates a Gateway for p.
func NewGateway(p provider.Provider) *Gateway {
	return &Gateway{provider: p}
}

// Provider returns the name of the provider requests are sent to.
func (g *Gateway) Provider() string {
	return g.provider.Name()
}

// Deliver submits req with exactly one provider call. There are no retries;
// the SMTP client is expected to retry on the resulting temporary failure.
func (g *Gateway) Deliver(ctx context.Context, req *email.SendRequest) (*Outcome, error) {
	name := g.provider.Name()

	receipt, err := g.provider.Send(ctx, req)
	if err != nil {
		derr := &Error{Provider: name, Err: err}
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) {
			derr.Payload = apiErr.Payload
		}

		slog.ErrorContext(ctx, "provider send failed",
			"provider", name,
			"payload", derr.Payload,
			"error", err,
		)
		return nil, derr
	}

	if receipt == nil {
		receipt = &provider.Receipt{}
	}

	slog.InfoContext(ctx, "email sent",
		"provider", name,
		"receipt_id", receipt.ID,
		"receipt", receipt.Raw,
		"to", email.Emails(req.To),
		"subject", req.Subject,
		"attachments", len(req.Attachments),
	)

	return &Outcome{Provider: name, Receipt: receipt}, nil
}
