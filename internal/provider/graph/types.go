package graph

import (
	"github.com/shineum/smtp-relay/internal/email"
)

const fileAttachmentType = "#microsoft.graph.fileAttachment"

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject       string            `json:"subject"`
	Body          messageBody       `json:"body"`
	From          *recipient        `json:"from,omitempty"`
	ToRecipients  []recipient       `json:"toRecipients"`
	CcRecipients  []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo       []recipient       `json:"replyTo,omitempty"`
	Attachments   []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	ContentBytes string `json:"contentBytes"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildSendMailRequest converts a SendRequest into a sendMail body. Graph carries a
// single body, so HTML wins over plain text when both are present.
func buildSendMailRequest(req *email.SendRequest) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     req.Text,
	}
	if req.HTML != "" {
		body.ContentType = "html"
		body.Content = req.HTML
	}

	from := toRecipient(req.From)
	msg := sendMailMessage{
		Subject:       req.Subject,
		Body:          body,
		From:          &from,
		ToRecipients:  toRecipients(req.To),
		CcRecipients:  toRecipients(req.Cc),
		BccRecipients: toRecipients(req.Bcc),
	}
	if msg.ToRecipients == nil {
		msg.ToRecipients = []recipient{}
	}
	if req.ReplyTo != nil {
		msg.ReplyTo = []recipient{toRecipient(*req.ReplyTo)}
	}

	// Outbound attachment content is already base64, which is what contentBytes takes.
	for _, att := range req.Attachments {
		msg.Attachments = append(msg.Attachments, graphAttachment{
			ODataType:    fileAttachmentType,
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: att.Content,
		})
	}

	return &sendMailRequest{Message: msg, SaveToSentItems: false}
}

func toRecipient(a email.Address) recipient {
	return recipient{EmailAddress: emailAddress{Address: a.Email, Name: a.Name}}
}

func toRecipients(addrs []email.Address) []recipient {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, toRecipient(a))
	}
	return out
}
