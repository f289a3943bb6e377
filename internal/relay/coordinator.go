// Package relay drives one submitted message through the pipeline:
// receive, parse, map, deliver, then acknowledge or reject.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shineum/smtp-relay/internal/delivery"
	"github.com/shineum/smtp-relay/internal/email"
	"github.com/shineum/smtp-relay/internal/parser"
)

// Mapper turns a parsed message into a send request.
type Mapper interface {
	Map(ctx context.Context, msg *email.Message) (*email.SendRequest, error)
}

// Deliverer submits a send request to the delivery provider.
type Deliverer interface {
	Deliver(ctx context.Context, req *email.SendRequest) (*delivery.Outcome, error)
}

// Transaction is the record of one message's trip through the pipeline.
type Transaction struct {
	// States lists every state entered, in order. The last one is terminal.
	States []State
	// Stage is the state that failed, set only when the transaction is rejected.
	Stage   State
	Err     error
	Outcome *delivery.Outcome
}

// State returns the current state.
func (t *Transaction) State() State {
	if len(t.States) == 0 {
		return Receiving
	}
	return t.States[len(t.States)-1]
}

// Accepted reports whether the message was handed off to the provider.
func (t *Transaction) Accepted() bool {
	return t.State() == Acknowledged
}

func (t *Transaction) enter(s State) {
	t.States = append(t.States, s)
}

func (t *Transaction) reject(stage State, err error) *Transaction {
	t.Stage = stage
	t.Err = err
	t.enter(Rejected)
	return t
}

// Coordinator runs the pipeline. It holds no per-message state and is safe for
// concurrent use by many sessions.
type Coordinator struct {
	mapper    Mapper
	deliverer Deliverer
	timeout   time.Duration
}

// NewCoordinator creates a Coordinator. A positive timeout bounds the work done
// for each message after its data has been received.
func NewCoordinator(m Mapper, d Deliverer, timeout time.Duration) *Coordinator {
	return &Coordinator{
		mapper:    m,
		deliverer: d,
		timeout:   timeout,
	}
}

// Process reads one message from r and takes it through every stage. It never
// returns nil; a failed stage is recorded on the transaction instead.
func (c *Coordinator) Process(ctx context.Context, r io.Reader) *Transaction {
	tx := &Transaction{}
	tx.enter(Receiving)

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return c.fail(ctx, tx, Receiving, fmt.Errorf("failed to read message data: %w", err))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	tx.enter(Parsing)
	msg, err := parser.Parse(buf.Bytes())
	if err != nil {
		return c.fail(ctx, tx, Parsing, err)
	}

	var from string
	if msg.From != nil {
		from = msg.From.String()
	}
	slog.InfoContext(ctx, "message received",
		"from", from,
		"to", email.Formatted(msg.To),
		"subject", msg.Subject,
		"message_id", msg.MessageID,
		"size", buf.Len(),
		"attachments", len(msg.Attachments),
	)

	tx.enter(Mapping)
	req, err := c.mapper.Map(ctx, msg)
	if err != nil {
		return c.fail(ctx, tx, Mapping, err)
	}

	tx.enter(Delivering)
	outcome, err := c.deliverer.Deliver(ctx, req)
	if err != nil {
		return c.fail(ctx, tx, Delivering, err)
	}

	tx.Outcome = outcome
	tx.enter(Acknowledged)
	return tx
}

func (c *Coordinator) fail(ctx context.Context, tx *Transaction, stage State, err error) *Transaction {
	slog.ErrorContext(ctx, "message rejected",
		"stage", stage.String(),
		"error", err,
	)
	return tx.reject(stage, err)
}
