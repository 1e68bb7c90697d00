package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// flushTimeout bounds the final flush during Close.
const flushTimeout = 2 * time.Second

// connect dials NATS with the connection settings shared by the publisher
// and the subscriber: unlimited reconnects and outage logging.
func connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "client", name, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "client", name, "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes enveloped events to NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
	now    func() time.Time
}

// Compile-time check that NATSPublisher implements Publisher.
var _ Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := connect(url, "calyx-publisher", logger)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, logger: logger, now: time.Now}, nil
}

// Publish wraps the payload in an Envelope stamped with the topic and emit
// time and sends it. Delivery is at-most-once; the bus buffers through brief
// outages via client-side reconnect.
func (p *NATSPublisher) Publish(_ context.Context, topic string, payload any) error {
	data, err := json.Marshal(Envelope{
		Topic:     topic,
		EmittedAt: p.now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("encode event for %s: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered publishes and drops the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.FlushTimeout(flushTimeout); err != nil {
		p.logger.Warn("nats flush on close failed", "error", err)
	}
	p.conn.Close()
	return nil
}

// Message is one received event: the concrete subject it arrived on (useful
// under wildcard subscriptions) and the raw envelope bytes.
type Message struct {
	Subject string
	Data    []byte
}

// NATSSubscriber consumes calyx events from the bus.
type NATSSubscriber struct {
	conn *nats.Conn
}

func NewNATSSubscriber(url string, logger *slog.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := connect(url, "calyx-subscriber", logger)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Listen delivers messages for topic (wildcards allowed) until ctx is
// cancelled, then unsubscribes and closes the returned channel. A slow
// consumer sheds the oldest buffered messages rather than blocking the
// NATS client callback.
func (s *NATSSubscriber) Listen(ctx context.Context, topic string) (<-chan Message, error) {
	inbox := make(chan *nats.Msg, 256)
	sub, err := s.conn.ChanSubscribe(topic, inbox)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	// Make sure the server has registered the subscription before the
	// caller starts triggering publishes on other connections.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscribe %s: %w", topic, err)
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		defer sub.Unsubscribe() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-inbox:
				m := Message{Subject: msg.Subject, Data: msg.Data}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				default:
					// Full consumer: drop the oldest queued message
					// to keep the stream moving.
					select {
					case <-out:
					default:
					}
					select {
					case out <- m:
					default:
					}
				}
			}
		}
	}()
	return out, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
