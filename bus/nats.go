package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus adapts a NATS connection to the Bus interface. Subscriptions
// use a queue group when one is configured so that replicas of the same
// service compete for messages instead of each receiving a copy.
type NATSBus struct {
	conn       *nats.Conn
	queueGroup string
	logger     *zap.Logger
}

// NATSConfig holds bus connection settings.
type NATSConfig struct {
	URL        string
	QueueGroup string
	Name       string
}

// ConnectNATS dials the NATS server and wraps the connection.
func ConnectNATS(config NATSConfig, logger *zap.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", config.URL, err)
	}

	logger.Info("Connected to NATS", zap.String("url", config.URL))

	return &NATSBus{
		conn:       conn,
		queueGroup: config.QueueGroup,
		logger:     logger,
	}, nil
}

// NewNATSBus wraps an existing connection (used by tests against a
// local server).
func NewNATSBus(conn *nats.Conn, queueGroup string, logger *zap.Logger) *NATSBus {
	return &NATSBus{conn: conn, queueGroup: queueGroup, logger: logger}
}

// Publish sends the envelope on its Type subject. The publisher does
// not wait for subscribers.
func (b *NATSBus) Publish(ctx context.Context, event *Event) error {
	if !ValidSubject(event.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidSubject, event.Type)
	}

	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	if err := b.conn.Publish(event.Type, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	return nil
}

// Subscribe registers a handler for a subject pattern. NATS invokes the
// callback per message; undecodable payloads are logged and dropped.
func (b *NATSBus) Subscribe(pattern string, handler Handler) (Subscription, error) {
	cb := func(msg *nats.Msg) {
		event, err := UnmarshalEvent(msg.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable bus message",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}
		handler(context.Background(), event)
	}

	var sub *nats.Subscription
	var err error
	if b.queueGroup != "" {
		sub, err = b.conn.QueueSubscribe(pattern, b.queueGroup, cb)
	} else {
		sub, err = b.conn.Subscribe(pattern, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	return &natsSubscription{sub: sub}, nil
}

// Close drains the connection so in-flight messages finish delivery.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
