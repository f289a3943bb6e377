package smtp

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-relay/internal/delivery"
	"github.com/shineum/smtp-relay/internal/provider"
	"github.com/shineum/smtp-relay/internal/relay"
)

// fakeProcessor records the bytes it was given and returns a fixed result.
type fakeProcessor struct {
	result *relay.Transaction
	got    []string
}

func (f *fakeProcessor) Process(_ context.Context, r io.Reader) *relay.Transaction {
	data, err := io.ReadAll(r)
	if err != nil {
		return &relay.Transaction{
			States: []relay.State{relay.Receiving, relay.Rejected},
			Stage:  relay.Receiving,
			Err:    err,
		}
	}
	f.got = append(f.got, string(data))
	return f.result
}

var accepted = &relay.Transaction{
	States:  []relay.State{relay.Receiving, relay.Parsing, relay.Mapping, relay.Delivering, relay.Acknowledged},
	Outcome: &delivery.Outcome{Provider: "mock", Receipt: &provider.Receipt{ID: "r-1"}},
}

var rejected = &relay.Transaction{
	States: []relay.State{relay.Receiving, relay.Parsing, relay.Mapping, relay.Rejected},
	Stage:  relay.Mapping,
	Err:    errors.New("message has no sender address"),
}

func newSession(t *testing.T, p Processor) (*Backend, *Session) {
	t.Helper()

	b := NewBackend(context.Background(), p)
	s, err := b.NewSession(nil)
	require.NoError(t, err)
	return b, s.(*Session)
}

func TestSession_DataAccepted(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{result: accepted}
	_, s := newSession(t, p)

	require.NoError(t, s.Mail("a@x.com", &gosmtp.MailOptions{}))
	require.NoError(t, s.Rcpt("b@y.com", &gosmtp.RcptOptions{}))
	require.NoError(t, s.Data(strings.NewReader("Subject: Hi\r\n\r\nhello\r\n")))

	assert.Equal(t, []string{"Subject: Hi\r\n\r\nhello\r\n"}, p.got)
}

func TestSession_DataRejectedWith451(t *testing.T) {
	t.Parallel()

	_, s := newSession(t, &fakeProcessor{result: rejected})

	err := s.Data(strings.NewReader("To: b@y.com\r\n\r\nhello\r\n"))

	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 451, smtpErr.Code)
	assert.Equal(t, gosmtp.EnhancedCode{4, 3, 0}, smtpErr.EnhancedCode)
	assert.Equal(t, "Error processing mail", smtpErr.Message)
}

func TestSession_DataTooLargeKeepsSizeReply(t *testing.T) {
	t.Parallel()

	_, s := newSession(t, &fakeProcessor{result: accepted})

	err := s.Data(iotest.ErrReader(gosmtp.ErrDataTooLarge))
	assert.Equal(t, gosmtp.ErrDataTooLarge, err)
}

func TestSession_ResetClearsEnvelope(t *testing.T) {
	t.Parallel()

	_, s := newSession(t, &fakeProcessor{result: accepted})

	require.NoError(t, s.Mail("a@x.com", nil))
	require.NoError(t, s.Rcpt("b@y.com", nil))
	require.NoError(t, s.Rcpt("c@y.com", nil))
	assert.Equal(t, []string{"b@y.com", "c@y.com"}, s.rcpts)

	s.Reset()
	assert.Empty(t, s.from)
	assert.Nil(t, s.rcpts)
}

func TestBackend_TracksSessions(t *testing.T) {
	t.Parallel()

	b, s := newSession(t, &fakeProcessor{result: accepted})
	assert.Equal(t, 1, b.Active())

	require.NoError(t, s.Logout())
	assert.Equal(t, 0, b.Active())
}

func TestSession_RefusesNewTransactionsWhileDraining(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{result: accepted}
	b, s := newSession(t, p)
	b.drain()

	err := s.Mail("a@x.com", nil)
	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 421, smtpErr.Code)

	assert.Equal(t, ErrShuttingDown, s.Data(strings.NewReader("Subject: Hi\r\n\r\nhello\r\n")))
	assert.Empty(t, p.got)
}
