// Package postmark implements a Provider backed by the Postmark transactional API.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"

	"github.com/shineum/smtp-relay/internal/email"
	"github.com/shineum/smtp-relay/internal/provider"
)

// ErrMissingServerToken is returned when the provider is configured without a server token.
var ErrMissingServerToken = errors.New("postmark: server token is required")

// Config holds Postmark credentials. Only the server token is needed for sending.
type Config struct {
	ServerToken  string
	AccountToken string
}

// EmailSender is the subset of the Postmark client used for delivery.
type EmailSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Provider sends emails through Postmark.
type Provider struct {
	client EmailSender
}

// New creates a Postmark provider.
func New(cfg Config) (*Provider, error) {
	if cfg.ServerToken == "" {
		return nil, ErrMissingServerToken
	}
	return NewWithClient(postmark.NewClient(cfg.ServerToken, cfg.AccountToken)), nil
}

// NewWithClient creates a provider with a custom client, used for testing.
func NewWithClient(client EmailSender) *Provider {
	return &Provider{client: client}
}

// Send implements provider.Provider.
func (p *Provider) Send(ctx context.Context, req *email.SendRequest) (*provider.Receipt, error) {
	resp, err := p.client.SendEmail(ctx, buildEmail(req))
	if resp.ErrorCode > 0 {
		return nil, &provider.APIError{
			Provider: p.Name(),
			Payload:  fmt.Sprintf("%d - %s", resp.ErrorCode, resp.Message),
			Err:      err,
		}
	}
	if err != nil {
		return nil, &provider.APIError{Provider: p.Name(), Payload: err.Error(), Err: err}
	}

	return &provider.Receipt{ID: resp.MessageID, Raw: resp}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "postmark"
}

// buildEmail maps the request onto Postmark's message shape. Postmark takes
// recipient lists as comma-separated strings and attachment content as base64,
// which the request already carries.
func buildEmail(req *email.SendRequest) postmark.Email {
	msg := postmark.Email{
		From:     req.From.String(),
		To:       strings.Join(email.Formatted(req.To), ", "),
		Cc:       strings.Join(email.Formatted(req.Cc), ", "),
		Bcc:      strings.Join(email.Formatted(req.Bcc), ", "),
		Subject:  req.Subject,
		HTMLBody: req.HTML,
		TextBody: req.Text,
	}
	if req.ReplyTo != nil {
		msg.ReplyTo = req.ReplyTo.String()
	}

	for _, a := range req.Attachments {
		msg.Attachments = append(msg.Attachments, postmark.Attachment{
			Name:        a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}
	return msg
}
