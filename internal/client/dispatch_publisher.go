package client

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/service"
)

// defaultDispatchSubject is used when no prefix is configured.
const defaultDispatchSubject = "dunning.dispatch"

// DispatchPublisher hands rendered dunning messages to the delivery
// subsystem over NATS.
//
// Subject convention: <prefix>.<channel>
// Cancellation:       <prefix>.cancel
//
// Publish is synchronous and errors propagate to the caller: a message the
// broker never accepted must not be logged as sent.
type DispatchPublisher struct {
	conn    *nats.Conn
	subject string
	newID   service.IDGenerator
	log     zerolog.Logger
}

// dispatchEnvelope is the JSON schema published to NATS.
type dispatchEnvelope struct {
	Handle     string                  `json:"handle"`
	Message    service.RenderedMessage `json:"message"`
	Hints      service.DispatchHints   `json:"hints"`
	RetryCount int                     `json:"retry_count,omitempty"`
}

type cancelEnvelope struct {
	Handle string `json:"handle"`
}

// NewDispatchPublisher creates a publisher backed by the given NATS
// connection. subject is the prefix for delivery subjects; empty means the
// default.
func NewDispatchPublisher(conn *nats.Conn, subject string, newID service.IDGenerator, log zerolog.Logger) *DispatchPublisher {
	if subject == "" {
		subject = defaultDispatchSubject
	}
	return &DispatchPublisher{conn: conn, subject: subject, newID: newID, log: log}
}

// Dispatch publishes one rendered message and returns the handle the
// delivery subsystem will echo in its own events.
func (p *DispatchPublisher) Dispatch(ctx context.Context, msg service.RenderedMessage, hints service.DispatchHints) (string, error) {
	handle := p.newID()

	data, err := json.Marshal(dispatchEnvelope{Handle: handle, Message: msg, Hints: hints})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal dispatch envelope")
	}

	subject := p.subject + "." + hints.Channel
	if err := p.conn.Publish(subject, data); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to publish dispatch message")
	}

	p.log.Debug().
		Str("subject", subject).
		Str("handle", handle).
		Str("invoice_id", msg.InvoiceID).
		Int("step", msg.StepNumber).
		Msg("dispatch: message published")
	return handle, nil
}

// Cancel asks the delivery subsystem to withdraw a previously accepted
// message. Best effort: the subsystem may have already sent it, so the
// return value only confirms the cancel request went out.
func (p *DispatchPublisher) Cancel(ctx context.Context, handle string) (bool, error) {
	data, err := json.Marshal(cancelEnvelope{Handle: handle})
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal cancel envelope")
	}

	if err := p.conn.Publish(p.subject+".cancel", data); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to publish cancel request")
	}

	p.log.Debug().Str("handle", handle).Msg("dispatch: cancel requested")
	return true, nil
}
