// Package stdout implements a Provider that prints send requests instead of delivering them.
package stdout

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/shineum/smtp-relay/internal/email"
	"github.com/shineum/smtp-relay/internal/provider"
)

// Provider prints send requests in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	seq    atomic.Uint64
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the request. Write failures are reported like any provider failure.
func (p *Provider) Send(_ context.Context, req *email.SendRequest) (*provider.Receipt, error) {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", req.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(email.Formatted(req.To), ", "))

	if len(req.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(email.Formatted(req.Cc), ", "))
	}
	if len(req.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(email.Formatted(req.Bcc), ", "))
	}
	if req.ReplyTo != nil {
		fmt.Fprintf(&b, "Reply-To: %s\n", req.ReplyTo)
	}

	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	b.WriteString("Body:\n")

	body := req.Text
	if body == "" {
		body = req.HTML
	}
	b.WriteString(body + "\n")

	if len(req.Attachments) > 0 {
		attachments := make([]string, 0, len(req.Attachments))
		for _, att := range req.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(decodedSize(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return nil, &provider.APIError{Provider: p.Name(), Payload: "write failed", Err: err}
	}

	id := fmt.Sprintf("stdout-%d", p.seq.Add(1))
	return &provider.Receipt{ID: id, Raw: id}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// decodedSize returns the byte length of a padded base64 payload.
func decodedSize(encoded string) int {
	padding := len(encoded) - len(strings.TrimRight(encoded, "="))
	return base64.StdEncoding.DecodedLen(len(encoded)) - padding
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
