package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/mail"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-relay/internal/email"
	"github.com/shineum/smtp-relay/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func baseRequest() *email.SendRequest {
	return &email.SendRequest{
		From:    email.Address{Email: "sender@example.com"},
		To:      []email.Address{{Email: "to@example.com"}},
		Subject: "Test Subject",
		Text:    "Hello, World!",
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ses", NewWithClient(&mockSESClient{}, "").Name())
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock, "")

	receipt, err := p.Send(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, "test-message-id", receipt.ID)
	assert.Equal(t, 1, mock.callCount)

	input := mock.lastInput
	require.NotNil(t, input.Content.Simple)
	assert.Equal(t, "sender@example.com", *input.FromEmailAddress)
	assert.Equal(t, "Test Subject", *input.Content.Simple.Subject.Data)
	assert.Equal(t, "Hello, World!", *input.Content.Simple.Body.Text.Data)
	assert.Nil(t, input.Content.Simple.Body.Html)
	assert.Nil(t, input.ReplyToAddresses)
	assert.Nil(t, input.ConfigurationSetName)
}

func TestSend_HTMLAndOptionalFields(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock, "relay-set")

	req := baseRequest()
	req.From = email.Address{Email: "sender@example.com", Name: "Sender"}
	req.HTML = "<h1>Hello</h1>"
	req.To = []email.Address{{Email: "to1@example.com"}, {Email: "to2@example.com"}}
	req.Cc = []email.Address{{Email: "cc@example.com"}}
	req.Bcc = []email.Address{{Email: "bcc@example.com"}}
	req.ReplyTo = &email.Address{Email: "reply@example.com"}

	_, err := p.Send(context.Background(), req)
	require.NoError(t, err)

	input := mock.lastInput
	assert.Equal(t, `"Sender" <sender@example.com>`, *input.FromEmailAddress)
	assert.Equal(t, "<h1>Hello</h1>", *input.Content.Simple.Body.Html.Data)
	assert.Equal(t, "UTF-8", *input.Content.Simple.Body.Html.Charset)
	assert.Equal(t, []string{"to1@example.com", "to2@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, []string{"cc@example.com"}, input.Destination.CcAddresses)
	assert.Equal(t, []string{"bcc@example.com"}, input.Destination.BccAddresses)
	assert.Equal(t, []string{"reply@example.com"}, input.ReplyToAddresses)
	assert.Equal(t, "relay-set", *input.ConfigurationSetName)
}

func TestSend_WithAttachmentsUsesRawMessage(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock, "")

	req := baseRequest()
	req.Bcc = []email.Address{{Email: "hidden@example.com"}}
	req.Attachments = []email.OutboundAttachment{{
		Content:     base64.StdEncoding.EncodeToString([]byte("file content")),
		Filename:    "test.txt",
		Disposition: email.DispositionAttachment,
		ContentType: "text/plain",
	}}

	_, err := p.Send(context.Background(), req)
	require.NoError(t, err)

	input := mock.lastInput
	require.NotNil(t, input.Content.Raw)
	assert.Nil(t, input.Content.Simple)
	assert.Equal(t, []string{"hidden@example.com"}, input.Destination.BccAddresses)

	raw := string(input.Content.Raw.Data)
	assert.Contains(t, raw, "From: sender@example.com")
	assert.Contains(t, raw, "To: to@example.com")
	assert.Contains(t, raw, "multipart/mixed")
	assert.Contains(t, raw, "attachment; filename=test.txt")
	assert.NotContains(t, raw, "hidden@example.com")
}

func TestSend_ProviderErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified."}
		},
	}
	p := NewWithClient(mock, "")

	receipt, err := p.Send(context.Background(), baseRequest())
	require.Nil(t, receipt)
	assert.Equal(t, 1, mock.callCount)

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ses", apiErr.Provider)
	assert.Equal(t, "MessageRejected: Email address is not verified.", apiErr.Payload)
}

func TestSend_TransportError(t *testing.T) {
	t.Parallel()

	netErr := errors.New("dial tcp: connection refused")
	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, netErr
		},
	}

	_, err := NewWithClient(mock, "").Send(context.Background(), baseRequest())

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.ErrorIs(t, err, netErr)
	assert.Contains(t, apiErr.Payload, "connection refused")
	assert.Equal(t, 1, mock.callCount)
}

func TestBuildRawMessage(t *testing.T) {
	t.Parallel()

	req := &email.SendRequest{
		From:    email.Address{Email: "sender@example.com"},
		To:      []email.Address{{Email: "to@example.com"}},
		Cc:      []email.Address{{Email: "cc@example.com"}},
		ReplyTo: &email.Address{Email: "reply@example.com"},
		Subject: "Raw Test",
		Text:    "text body",
		HTML:    "<p>html body</p>",
		Attachments: []email.OutboundAttachment{{
			Content:     base64.StdEncoding.EncodeToString([]byte("pdf content")),
			Filename:    "doc.pdf",
			Disposition: email.DispositionAttachment,
			ContentType: "application/pdf",
		}},
	}

	raw, err := buildRawMessage(req)
	require.NoError(t, err)

	rawStr := string(raw)
	for _, want := range []string{
		"From: sender@example.com",
		"To: to@example.com",
		"Cc: cc@example.com",
		"Reply-To: reply@example.com",
		"Subject: Raw Test",
		"MIME-Version: 1.0",
		"multipart/mixed",
		"multipart/alternative",
		"text/plain; charset=UTF-8",
		"text/html; charset=UTF-8",
		"Content-Type: application/pdf",
		"Content-Transfer-Encoding: base64",
		base64.StdEncoding.EncodeToString([]byte("pdf content")),
	} {
		assert.Contains(t, rawStr, want)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Raw Test", msg.Header.Get("Subject"))
}

func TestBuildRawMessage_EncodesNonASCIISubject(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.Subject = "Grüße"
	req.Attachments = []email.OutboundAttachment{{Content: "eA==", Filename: "a.bin", Disposition: "attachment"}}

	raw, err := buildRawMessage(req)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: =?UTF-8?q?Gr=C3=BC=C3=9Fe?=")
	assert.Contains(t, string(raw), "Content-Type: application/octet-stream")
}

func TestWrapBase64(t *testing.T) {
	t.Parallel()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	encoded := wrapBase64(base64.StdEncoding.EncodeToString(data))
	lines := strings.Split(encoded, "\r\n")
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], 76)
	assert.LessOrEqual(t, len(lines[1]), 76)
	assert.Empty(t, wrapBase64(""))
}

func TestProviderInterface(t *testing.T) {
	t.Parallel()

	var _ provider.Provider = (*Provider)(nil)
}
