// Package events publishes stored message records to NATS so that other
// services can follow the relay's traffic.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gorelay/internal/relay"
)

// Header keys set on every published message.
const (
	HeaderNode     = "Relay-Node"
	HeaderSender   = "Relay-Sender"
	HeaderReceiver = "Relay-Receiver"
)

// Config configures the NATS connection.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Connect dials NATS with unlimited reconnects.
func Connect(cfg Config, log *zap.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats at %s", cfg.URL)
	}
	return nc, nil
}

// Publisher sends every stored record as JSON to a single subject. It
// implements relay.Publisher.
type Publisher struct {
	nc      *nats.Conn
	subject string
	node    string
}

// NewPublisher creates a Publisher writing to subject on nc. node is
// attached to each message header.
func NewPublisher(nc *nats.Conn, subject, node string) *Publisher {
	return &Publisher{nc: nc, subject: subject, node: node}
}

// Publish sends rec. Core NATS publishing is fire-and-forget; the error only
// reports a closed or failing connection.
func (p *Publisher) Publish(ctx context.Context, rec relay.StoredRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode stored record")
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(HeaderNode, p.node)
	msg.Header.Set(HeaderSender, rec.SenderID)
	msg.Header.Set(HeaderReceiver, rec.ReceiverID)

	if err := p.nc.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "publish to %s", p.subject)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}

// Subscribe decodes records published on subject and hands them to fn. It
// is the consuming side of Publisher.
func Subscribe(nc *nats.Conn, subject string, fn func(relay.StoredRecord), log *zap.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		var rec relay.StoredRecord
		if err := json.Unmarshal(m.Data, &rec); err != nil {
			log.Warn("dropping undecodable record", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		fn(rec)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe to %s", subject)
	}
	return sub, nil
}
