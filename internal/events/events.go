// Package events publishes conversation events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectTurnRecorded is published after a user/assistant pair is persisted.
const SubjectTurnRecorded = "tutor.chat.turn.recorded"

// TurnRecorded describes one completed exchange. Message text is not
// included; subscribers read it from the store by turn ID.
type TurnRecorded struct {
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	UserTurnID      string    `json:"user_turn_id"`
	AssistantTurnID string    `json:"assistant_turn_id"`
	Outcome         string    `json:"outcome"`
	Level           string    `json:"level"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// Publisher emits conversation events.
type Publisher interface {
	PublishTurnRecorded(ctx context.Context, ev TurnRecorded) error
	Close()
}

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed chan struct{}
	logger *slog.Logger
}

// drainTimeout bounds how long Close waits for buffered events to flush.
const drainTimeout = 10 * time.Second

// NewNATSPublisher connects to url. The connection retries in the
// background, so a broker that is down at startup does not fail the server.
func NewNATSPublisher(url, token string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name("tutor-ai"),
		nats.DrainTimeout(drainTimeout),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc, closed: closed, logger: logger}, nil
}

// PublishTurnRecorded publishes ev on SubjectTurnRecorded.
func (p *NATSPublisher) PublishTurnRecorded(_ context.Context, ev TurnRecorded) error {
	return p.publish(SubjectTurnRecorded, ev)
}

func (p *NATSPublisher) publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for subject until Close.
func (p *NATSPublisher) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	p.subs = append(p.subs, sub)
	p.logger.Info("subscribed", "subject", subject)
	return nil
}

// Connected reports whether the connection is currently up.
func (p *NATSPublisher) Connected() bool {
	return p.conn.IsConnected()
}

// Close drains the connection and waits until buffered events have been
// flushed and the connection is closed.
func (p *NATSPublisher) Close() {
	for _, sub := range p.subs {
		_ = sub.Unsubscribe()
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed, closing", "error", err)
		p.conn.Close()
	}
	select {
	case <-p.closed:
	case <-time.After(drainTimeout + time.Second):
		p.logger.Warn("nats drain timed out")
	}
}

// NopPublisher discards events. It is used when NATS is not configured.
type NopPublisher struct{}

// PublishTurnRecorded does nothing.
func (NopPublisher) PublishTurnRecorded(context.Context, TurnRecorded) error { return nil }

// Close does nothing.
func (NopPublisher) Close() {}
