// Package parser decodes raw RFC 5322 submissions into email.Message values.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/shineum/smtp-relay/internal/email"
)

// ErrEmptyMessage is returned when the submission carries no bytes at all.
var ErrEmptyMessage = errors.New("empty message")

// ParseError reports a raw message that could not be decoded.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse message: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes raw into an email.Message. Only fatal MIME errors fail the parse;
// recoverable problems reported by the decoder are logged. A missing or unparseable
// From header leaves Message.From nil rather than failing here.
func Parse(raw []byte) (*email.Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Err: ErrEmptyMessage}
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	for _, perr := range env.Errors {
		slog.Warn("recoverable MIME error", "error", perr.Error())
	}

	msg := &email.Message{
		Subject:   env.GetHeader("Subject"),
		MessageID: env.GetHeader("Message-Id"),
		HTML:      env.HTML,
		Text:      env.Text,
		Headers:   make(map[string][]string),
	}

	for _, key := range env.GetHeaderKeys() {
		msg.Headers[key] = env.GetHeaderValues(key)
	}

	if from := addressList(env, "From"); len(from) > 0 {
		msg.From = &from[0]
	}
	msg.To = addressList(env, "To")
	msg.Cc = addressList(env, "Cc")
	msg.Bcc = addressList(env, "Bcc")
	msg.ReplyTo = addressList(env, "Reply-To")

	msg.Attachments = collectAttachments(env)

	return msg, nil
}

// addressList returns the parsed addresses of header key, or nil when the header is
// absent or cannot be parsed.
func addressList(env *enmime.Envelope, key string) []email.Address {
	list, err := env.AddressList(key)
	if err != nil {
		if !errors.Is(err, mail.ErrHeaderNotPresent) {
			slog.Warn("failed to parse address header",
				"header", key,
				"value", env.GetHeader(key),
				"error", err,
			)
		}
		return nil
	}

	out := make([]email.Address, 0, len(list))
	for _, a := range list {
		if a == nil || strings.TrimSpace(a.Address) == "" {
			continue
		}
		out = append(out, email.Address{Email: a.Address, Name: a.Name})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// collectAttachments walks the MIME tree depth-first and returns every
// attachment part in document order, whatever list the decoder sorted it into.
func collectAttachments(env *enmime.Envelope) []email.Attachment {
	if env.Root == nil {
		return nil
	}

	var out []email.Attachment
	for _, p := range env.Root.DepthMatchAll(isAttachment) {
		out = append(out, toAttachment(p))
	}
	return out
}

// isAttachment reports whether p is a leaf part that is not message body: an
// explicit attachment, a named part, or any part that is not plain text or HTML.
func isAttachment(p *enmime.Part) bool {
	ct := strings.ToLower(p.ContentType)
	if p.FirstChild != nil || strings.HasPrefix(ct, "multipart/") {
		return false
	}
	if strings.EqualFold(p.Disposition, "attachment") || p.FileName != "" {
		return true
	}
	return ct != "" && ct != "text/plain" && ct != "text/html"
}

func toAttachment(p *enmime.Part) email.Attachment {
	filename := p.FileName
	if filename == "" {
		filename = fallbackFilename(p.ContentType)
	}
	return email.Attachment{
		Filename:    filename,
		ContentType: p.ContentType,
		Content:     p.Content,
	}
}

// fallbackFilename derives a name from the media type so providers that require a
// file name still accept the attachment.
func fallbackFilename(contentType string) string {
	parts := strings.SplitN(contentType, "/", 2)
	if len(parts) == 2 && parts[1] != "" {
		return "attachment." + parts[1]
	}
	return "attachment"
}
