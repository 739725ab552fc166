// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package verdictcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/logging"
)

// DefaultSubject is the NATS subject verdict events are published on.
const DefaultSubject = "sentinel.verdicts"

// Event announces a newly stored verdict.
type Event struct {
	Type      string    `json:"type"`
	Hash      string    `json:"hash"`
	Score     float64   `json:"score"`
	Level     string    `json:"level"`
	Labels    []string  `json:"labels,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds the event for a stored entry.
func NewEvent(e Entry) Event {
	return Event{
		Type:      "verdict_stored",
		Hash:      e.Hash,
		Score:     e.Score,
		Level:     e.Level,
		Labels:    e.Labels,
		Timestamp: e.StoredAt,
	}
}

// Publisher delivers verdict events to other components.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NATSPublisher publishes events as JSON on one subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
	logger  *logging.Logger
}

// NewNATSPublisher publishes over an existing connection, which the caller
// keeps ownership of.
func NewNATSPublisher(nc *nats.Conn, subject string, logger *logging.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logging.Or(logger, "verdictcache")}
}

// DialNATS connects to url and returns a publisher that owns the connection.
func DialNATS(url, subject string, logger *logging.Logger, opts ...nats.Option) (*NATSPublisher, error) {
	logger = logging.Or(logger, "verdictcache")
	opts = append([]nats.Option{
		nats.Name("sentinel"),
		nats.Timeout(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "connect to nats %s", url)
	}
	p := NewNATSPublisher(nc, subject, logger)
	p.owned = true
	logger.Info("publishing verdicts", "url", nc.ConnectedUrl(), "subject", p.subject)
	return p, nil
}

// Subject returns the subject events go to.
func (p *NATSPublisher) Subject() string {
	return p.subject
}

// Publish sends ev. NATS core publish is fire-and-forget, so ctx only guards
// against publishing after cancellation.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "marshal verdict event")
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "publish to %s", p.subject)
	}
	return nil
}

// Close drains the connection if the publisher dialed it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "drain nats connection")
	}
	return nil
}
