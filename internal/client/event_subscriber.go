package client

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
	"github.com/finflow-ai/be-ar-dunning/internal/service"
)

// defaultEventsSubject is used when no prefix is configured.
const defaultEventsSubject = "ar.events"

// EventSubscriber consumes invoice lifecycle events from NATS and feeds
// them to the monitor. Handler failures are logged, never re-queued: the
// next monitor cycle reconciles any event the hooks missed.
//
// Subjects, under the configured prefix:
//
//	<prefix>.payment_received
//	<prefix>.invoice_status_changed
//	<prefix>.stop_signal
type EventSubscriber struct {
	conn    *nats.Conn
	subject string
	monitor *service.MonitorService
	subs    []*nats.Subscription
	log     zerolog.Logger
}

type paymentReceivedEvent struct {
	InvoiceID string `json:"invoice_id"`
	Amount    int64  `json:"amount"`
}

type statusChangedEvent struct {
	InvoiceID string `json:"invoice_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type stopSignalEvent struct {
	InvoiceID string `json:"invoice_id"`
	Signal    string `json:"signal"`
}

// NewEventSubscriber creates a subscriber bound to the monitor's hooks.
// subject is the prefix for ledger event subjects; empty means the default.
func NewEventSubscriber(conn *nats.Conn, subject string, monitor *service.MonitorService, log zerolog.Logger) *EventSubscriber {
	if subject == "" {
		subject = defaultEventsSubject
	}
	return &EventSubscriber{conn: conn, subject: subject, monitor: monitor, log: log}
}

// Start subscribes to the ledger event subjects. Call Stop on shutdown.
func (s *EventSubscriber) Start(ctx context.Context) error {
	subjects := []struct {
		name    string
		handler func(context.Context, *nats.Msg)
	}{
		{s.subject + ".payment_received", s.handlePaymentReceived},
		{s.subject + ".invoice_status_changed", s.handleStatusChanged},
		{s.subject + ".stop_signal", s.handleStopSignal},
	}

	names := make([]string, 0, len(subjects))
	for _, sj := range subjects {
		handler := sj.handler
		sub, err := s.conn.Subscribe(sj.name, func(msg *nats.Msg) {
			handler(ctx, msg)
		})
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
		names = append(names, sj.name)
	}

	s.log.Info().
		Strs("subjects", names).
		Msg("events: subscribed to ledger events")
	return nil
}

// Stop drains all subscriptions.
func (s *EventSubscriber) Stop() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *EventSubscriber) handlePaymentReceived(ctx context.Context, msg *nats.Msg) {
	var event paymentReceivedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.log.Warn().Err(err).Str("subject", msg.Subject).Msg("events: malformed payment event")
		return
	}

	if err := s.monitor.OnPaymentReceived(ctx, event.InvoiceID, event.Amount); err != nil {
		s.log.Error().Err(err).
			Str("invoice_id", event.InvoiceID).
			Msg("events: payment hook failed")
	}
}

func (s *EventSubscriber) handleStatusChanged(ctx context.Context, msg *nats.Msg) {
	var event statusChangedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.log.Warn().Err(err).Str("subject", msg.Subject).Msg("events: malformed status event")
		return
	}

	from := repository.ParseInvoiceStatus(event.From)
	to := repository.ParseInvoiceStatus(event.To)
	if err := s.monitor.OnInvoiceStatusChanged(ctx, event.InvoiceID, from, to); err != nil {
		s.log.Error().Err(err).
			Str("invoice_id", event.InvoiceID).
			Str("to", event.To).
			Msg("events: status hook failed")
	}
}

func (s *EventSubscriber) handleStopSignal(ctx context.Context, msg *nats.Msg) {
	var event stopSignalEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.log.Warn().Err(err).Str("subject", msg.Subject).Msg("events: malformed stop signal")
		return
	}

	if err := s.monitor.OnStopSignal(ctx, event.InvoiceID, event.Signal); err != nil {
		s.log.Error().Err(err).
			Str("invoice_id", event.InvoiceID).
			Str("signal", event.Signal).
			Msg("events: stop signal hook failed")
	}
}
