// Package mapper turns a parsed inbound message into a provider-agnostic send request.
package mapper

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"

	"github.com/shineum/smtp-relay/internal/attachment"
	"github.com/shineum/smtp-relay/internal/email"
)

// ErrNoSender is returned for messages without an identifiable sender.
var ErrNoSender = errors.New("message has no sender address")

// Mapping stages reported by MappingError.
const (
	StageSender     = "sender"
	StageAttachment = "attachment"
)

// MappingError reports why a message could not be turned into a SendRequest.
type MappingError struct {
	Stage string
	Err   error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("failed to map message (%s): %v", e.Stage, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// Mapper builds SendRequests, persisting attachments through a Store.
type Mapper struct {
	store attachment.Store
}

// New creates a Mapper that persists attachments to store.
func New(store attachment.Store) *Mapper {
	return &Mapper{store: store}
}

// Map converts msg into a SendRequest. The sender is checked before any attachment
// is written, and a failure on any attachment aborts the whole request.
func (m *Mapper) Map(ctx context.Context, msg *email.Message) (*email.SendRequest, error) {
	if msg == nil || msg.From == nil || msg.From.Email == "" {
		return nil, &MappingError{Stage: StageSender, Err: ErrNoSender}
	}

	req := &email.SendRequest{
		From:    *msg.From,
		To:      slices.Clone(msg.To),
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}

	if req.Subject == "" {
		req.Subject = email.NoSubject
	}
	if len(msg.Cc) > 0 {
		req.Cc = slices.Clone(msg.Cc)
	}
	if len(msg.Bcc) > 0 {
		req.Bcc = slices.Clone(msg.Bcc)
	}
	// Providers accept a single reply-to address.
	if len(msg.ReplyTo) > 0 {
		replyTo := msg.ReplyTo[0]
		req.ReplyTo = &replyTo
	}

	if len(msg.Attachments) > 0 {
		attachments := make([]email.OutboundAttachment, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			h, err := m.store.Persist(ctx, att.Filename, att.ContentType, att.Content)
			if err != nil {
				return nil, &MappingError{Stage: StageAttachment, Err: err}
			}
			attachments = append(attachments, email.OutboundAttachment{
				Content:     base64.StdEncoding.EncodeToString(h.Content),
				Filename:    att.Filename,
				Disposition: email.DispositionAttachment,
				ContentType: att.ContentType,
			})
		}
		req.Attachments = attachments
	}

	return req, nil
}
