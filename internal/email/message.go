// Package email defines the message types that flow through the relay:
// the parsed inbound message and the provider-agnostic outbound request.
package email

import "net/mail"

// NoSubject is the subject used when the inbound message has none.
const NoSubject = "(No Subject)"

// DispositionAttachment is the disposition tag carried by every outbound attachment.
const DispositionAttachment = "attachment"

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// String formats the address in RFC 5322 form. Names are quoted and encoded as needed.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// Message is the structured view of one raw submission.
type Message struct {
	From        *Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	ReplyTo     []Address
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
	MessageID   string
	Headers     map[string][]string
}

// Attachment is a file carried by an inbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// SendRequest is an outbound email ready for a delivery provider.
// Cc, Bcc and Attachments are nil when unset.
type SendRequest struct {
	From        Address
	To          []Address
	Subject     string
	HTML        string
	Text        string
	Cc          []Address
	Bcc         []Address
	ReplyTo     *Address
	Attachments []OutboundAttachment
}

// OutboundAttachment is an attachment encoded for a delivery API.
type OutboundAttachment struct {
	// Content is the base64 (standard encoding) payload.
	Content     string
	Filename    string
	Disposition string
	ContentType string
}

// Emails returns the bare addresses of list, in order.
func Emails(list []Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Email)
	}
	return out
}

// Formatted returns every address of list in "Name <email>" form, in order.
func Formatted(list []Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}
