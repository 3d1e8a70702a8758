package events

import (
	"context"
	"fmt"
	"time"

	"teamboard-backend/pkg/logger"

	"github.com/nats-io/nats.go"
)

// NatsPublisher publishes JSON-encoded events to NATS
type NatsPublisher struct {
	conn *nats.Conn
	enc  *nats.EncodedConn
	log  *logger.Logger
}

// NewNatsPublisher connects to url
func NewNatsPublisher(url string) (*NatsPublisher, error) {
	log := logger.Default().Named("events")

	nc, err := nats.Connect(url,
		nats.Name("teamboard-backend"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect failed: %w", err)
	}

	ec, err := nats.NewEncodedConn(nc, nats.JSON_ENCODER)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats encoded conn failed: %w", err)
	}

	log.Info("connected to nats", "url", nc.ConnectedUrl())
	return &NatsPublisher{conn: nc, enc: ec, log: log}, nil
}

// Publish sends event on its subject. The call is asynchronous in NATS.
func (p *NatsPublisher) Publish(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.enc.Publish(event.Subject, event); err != nil {
		p.log.Warn("failed to publish event", "subject", event.Subject, "error", err)
		return err
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NatsPublisher) Close() {
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		p.log.Warn("nats flush failed", "error", err)
	}
	p.enc.Close()
}

// NewPublisher connects to NATS when url is set and otherwise returns a
// NopPublisher. A connection failure also degrades to NopPublisher.
func NewPublisher(url string) Publisher {
	if url == "" {
		return NopPublisher{}
	}
	publisher, err := NewNatsPublisher(url)
	if err != nil {
		logger.Default().Named("events").Warn("event bus unavailable, events disabled", "error", err)
		return NopPublisher{}
	}
	return publisher
}
