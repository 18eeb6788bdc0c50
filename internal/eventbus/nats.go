// Package eventbus adapts NATS into coordinator.ExternalBus so workstream
// events can be fanned out to other services, not just in-process observers.
package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/opslane/workstream-coordinator/internal/common/config"
	"github.com/opslane/workstream-coordinator/internal/common/logger"
)

// NATSBus publishes raw event payloads to a NATS subject.
type NATSBus struct {
	conn *nats.Conn
	log  *logger.Logger
}

// Connect dials NATS using cfg and returns a bus ready to publish.
// Callers should only construct this when cfg.NatsURL is non-empty; an
// empty URL means external fan-out is disabled entirely.
func Connect(cfg config.EventsConfig, log *logger.Logger) (*NATSBus, error) {
	log = log.WithFields(zap.String("component", "eventbus"))

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(5 * 1024 * 1024),

		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info("connected to NATS", zap.String("url", cfg.NatsURL))
	return &NATSBus{conn: conn, log: log}, nil
}

// Publish sends data to subject. It satisfies coordinator.ExternalBus.
func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// IsConnected reports whether the NATS connection is currently active.
func (b *NATSBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close drains and closes the NATS connection.
func (b *NATSBus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.log.Warn("error draining NATS connection", zap.Error(err))
		b.conn.Close()
		return
	}
	b.log.Info("NATS connection closed")
}
