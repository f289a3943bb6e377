package postmark

import (
	"context"
	"errors"
	"testing"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-relay/internal/email"
	"github.com/shineum/smtp-relay/internal/provider"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendEmail(ctx context.Context, msg postmark.Email) (postmark.EmailResponse, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(postmark.EmailResponse), args.Error(1)
}

func request() *email.SendRequest {
	return &email.SendRequest{
		From:    email.Address{Email: "a@x.com", Name: "Alice"},
		To:      []email.Address{{Email: "b@y.com"}, {Email: "c@y.com"}},
		Subject: "Hi",
		Text:    "hello",
	}
}

func TestNew_RequiresServerToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorIs(t, err, ErrMissingServerToken)

	p, err := New(Config{ServerToken: "server"})
	require.NoError(t, err)
	assert.Equal(t, "postmark", p.Name())
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	sender := new(MockSender)
	sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(msg postmark.Email) bool {
		return msg.From == `"Alice" <a@x.com>` &&
			msg.To == "b@y.com, c@y.com" &&
			msg.Subject == "Hi" &&
			msg.TextBody == "hello" &&
			msg.Cc == "" && msg.Bcc == ""
	})).Return(postmark.EmailResponse{MessageID: "pm-1"}, nil).Once()

	receipt, err := NewWithClient(sender).Send(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "pm-1", receipt.ID)
	sender.AssertExpectations(t)
}

func TestSend_ErrorCodeInResponse(t *testing.T) {
	t.Parallel()

	sender := new(MockSender)
	sender.On("SendEmail", mock.Anything, mock.Anything).
		Return(postmark.EmailResponse{ErrorCode: 300, Message: "Invalid email request"}, nil).Once()

	receipt, err := NewWithClient(sender).Send(context.Background(), request())
	require.Nil(t, receipt)

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "postmark", apiErr.Provider)
	assert.Equal(t, "300 - Invalid email request", apiErr.Payload)
	sender.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestSend_TransportError(t *testing.T) {
	t.Parallel()

	netErr := errors.New("connection reset by peer")
	sender := new(MockSender)
	sender.On("SendEmail", mock.Anything, mock.Anything).
		Return(postmark.EmailResponse{}, netErr).Once()

	_, err := NewWithClient(sender).Send(context.Background(), request())

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, "connection reset by peer", apiErr.Payload)
	sender.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestBuildEmail_OptionalFields(t *testing.T) {
	t.Parallel()

	req := request()
	req.HTML = "<p>hello</p>"
	req.Cc = []email.Address{{Email: "cc@y.com"}}
	req.Bcc = []email.Address{{Email: "bcc@y.com"}}
	req.ReplyTo = &email.Address{Email: "r@x.com"}
	req.Attachments = []email.OutboundAttachment{
		{Content: "YWJj", Filename: "note.txt", Disposition: email.DispositionAttachment, ContentType: "text/plain"},
		{Content: "SGVsbG8=", Filename: "report.pdf", Disposition: email.DispositionAttachment, ContentType: "application/pdf"},
	}

	msg := buildEmail(req)
	assert.Equal(t, "cc@y.com", msg.Cc)
	assert.Equal(t, "bcc@y.com", msg.Bcc)
	assert.Equal(t, "r@x.com", msg.ReplyTo)
	assert.Equal(t, "<p>hello</p>", msg.HTMLBody)
	assert.Equal(t, []postmark.Attachment{
		{Name: "note.txt", Content: "YWJj", ContentType: "text/plain"},
		{Name: "report.pdf", Content: "SGVsbG8=", ContentType: "application/pdf"},
	}, msg.Attachments)
}

func TestProviderInterface(t *testing.T) {
	t.Parallel()

	var _ provider.Provider = (*Provider)(nil)
}
