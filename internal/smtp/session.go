package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/smtp-relay/internal/relay"
)

// ErrProcessingMail is the temporary failure returned for any message that
// could not be relayed. Clients are expected to retry.
var ErrProcessingMail = &gosmtp.SMTPError{
	Code:         451,
	EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
	Message:      "Error processing mail",
}

// ErrShuttingDown is returned for transactions started after shutdown began.
var ErrShuttingDown = &gosmtp.SMTPError{
	Code:         421,
	EnhancedCode: gosmtp.EnhancedCode{4, 3, 2},
	Message:      "Service shutting down",
}

// Processor runs one message through the relay pipeline.
type Processor interface {
	Process(ctx context.Context, r io.Reader) *relay.Transaction
}

// Backend creates a Session per connection. It tracks open connections and
// messages in flight so shutdown can let every accepted DATA finish before any
// connection is closed.
type Backend struct {
	processor Processor
	ctx       context.Context

	mu       sync.Mutex
	conns    map[*gosmtp.Conn]struct{}
	draining bool
	inFlight sync.WaitGroup
}

// NewBackend creates a Backend. Pipeline work runs on ctx.
func NewBackend(ctx context.Context, p Processor) *Backend {
	return &Backend{
		processor: p,
		ctx:       ctx,
		conns:     make(map[*gosmtp.Conn]struct{}),
	}
}

// NewSession implements gosmtp.Backend.
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	slog.Debug("new SMTP session", "remote", remoteAddr(c))
	return &Session{backend: b, conn: c}, nil
}

// Active returns the number of open sessions.
func (b *Backend) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *Backend) release(c *gosmtp.Conn) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
}

// begin registers a message in flight. It fails once draining has started.
func (b *Backend) begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining {
		return false
	}
	b.inFlight.Add(1)
	return true
}

func (b *Backend) end() {
	b.inFlight.Done()
}

// drain refuses new transactions and blocks until every message in flight
// has been processed.
func (b *Backend) drain() {
	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()

	b.inFlight.Wait()
}

func (b *Backend) isDraining() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.draining
}

// closeAll closes every open connection.
func (b *Backend) closeAll() {
	b.mu.Lock()
	conns := make([]*gosmtp.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
}

// Session is one client connection. The envelope is kept for logging only;
// message headers decide sender and recipients.
type Session struct {
	backend *Backend
	conn    *gosmtp.Conn
	from    string
	rcpts   []string
}

// Mail records the envelope sender.
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.backend.isDraining() {
		return ErrShuttingDown
	}
	s.from = from
	return nil
}

// Rcpt records an envelope recipient.
func (s *Session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.rcpts = append(s.rcpts, to)
	return nil
}

// Data hands the message to the pipeline and turns its result into a reply.
func (s *Session) Data(r io.Reader) error {
	if !s.backend.begin() {
		return ErrShuttingDown
	}
	defer s.backend.end()

	tx := s.backend.processor.Process(s.backend.ctx, r)

	if tx.Accepted() {
		attrs := []any{
			"envelope_from", s.from,
			"envelope_to", s.rcpts,
		}
		if tx.Outcome != nil {
			attrs = append(attrs, "provider", tx.Outcome.Provider)
			if tx.Outcome.Receipt != nil {
				attrs = append(attrs, "receipt_id", tx.Outcome.Receipt.ID)
			}
		}
		slog.Info("message relayed", attrs...)
		return nil
	}

	slog.Warn("message not relayed",
		"envelope_from", s.from,
		"envelope_to", s.rcpts,
		"stage", tx.Stage.String(),
		"error", tx.Err,
	)
	if errors.Is(tx.Err, gosmtp.ErrDataTooLarge) {
		return gosmtp.ErrDataTooLarge
	}
	return ErrProcessingMail
}

// Reset clears the envelope between transactions.
func (s *Session) Reset() {
	s.from = ""
	s.rcpts = nil
}

// Logout is called when the connection closes.
func (s *Session) Logout() error {
	s.backend.release(s.conn)
	return nil
}

func remoteAddr(c *gosmtp.Conn) string {
	if c == nil || c.Conn() == nil {
		return ""
	}
	return c.Conn().RemoteAddr().String()
}
