// Package resend implements a Provider that sends emails via the Resend API.
package resend

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/smtp-relay/internal/email"
	"github.com/shineum/smtp-relay/internal/provider"
)

// Config holds Resend provider configuration.
type Config struct {
	APIKey string
}

// Provider sends emails through the Resend API.
type Provider struct {
	client *resend.Client
}

// New creates a Resend provider.
func New(cfg Config) *Provider {
	return NewWithClient(resend.NewClient(cfg.APIKey))
}

// NewWithClient creates a provider around an existing client, used for testing.
func NewWithClient(client *resend.Client) *Provider {
	return &Provider{client: client}
}

// Send implements provider.Provider.
func (p *Provider) Send(ctx context.Context, req *email.SendRequest) (*provider.Receipt, error) {
	params, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return nil, &provider.APIError{Provider: p.Name(), Payload: err.Error(), Err: err}
	}

	return &provider.Receipt{ID: resp.Id, Raw: resp}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

func buildRequest(req *email.SendRequest) (*resend.SendEmailRequest, error) {
	params := &resend.SendEmailRequest{
		From:    req.From.String(),
		To:      email.Formatted(req.To),
		Subject: req.Subject,
		Html:    req.HTML,
		Text:    req.Text,
		Cc:      email.Formatted(req.Cc),
		Bcc:     email.Formatted(req.Bcc),
	}
	if req.ReplyTo != nil {
		params.ReplyTo = req.ReplyTo.String()
	}

	if len(req.Attachments) > 0 {
		attachments, err := convertAttachments(req.Attachments)
		if err != nil {
			return nil, err
		}
		params.Attachments = attachments
	}

	return params, nil
}

// convertAttachments decodes the outbound payloads; the Resend client encodes
// attachment bytes itself.
func convertAttachments(attachments []email.OutboundAttachment) ([]*resend.Attachment, error) {
	result := make([]*resend.Attachment, len(attachments))
	for i, a := range attachments {
		content, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			return nil, fmt.Errorf("resend: invalid attachment payload for %q: %w", a.Filename, err)
		}
		result[i] = &resend.Attachment{
			Filename:    a.Filename,
			Content:     content,
			ContentType: a.ContentType,
		}
	}
	return result, nil
}
