// Package notify publishes land registry notifications on NATS subjects.
//
// Subjects follow "<prefix>.events.<domain>.<action>":
//
//	landledger.events.record.registered
//	landledger.events.owner.confirmed
//
// Payloads are the JSON-encoded registry.Event envelope.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/landledger/registry"
)

const flushTimeout = 5 * time.Second

// DefaultSubjectPrefix is the subject root used when none is configured.
const DefaultSubjectPrefix = "landledger"

// Subject suffixes per event kind.
const (
	subjectRegistered     = "events.record.registered"
	subjectOwnerConfirmed = "events.owner.confirmed"
)

// Client is the publish side of a NATS connection. The semstreams
// natsclient.Client satisfies it; ConnClient adapts a plain *nats.Conn.
type Client interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Publisher is a registry.EventSink that publishes events to NATS.
type Publisher struct {
	client Client
	prefix string
	logger *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithSubjectPrefix sets the subject root.
func WithSubjectPrefix(prefix string) PublisherOption {
	return func(p *Publisher) {
		prefix = strings.Trim(prefix, ".")
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a Publisher over client.
func NewPublisher(client Client, opts ...PublisherOption) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("NATS client required")
	}
	p := &Publisher{
		client: client,
		prefix: DefaultSubjectPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Subject returns the subject an event of kind is published on.
func (p *Publisher) Subject(kind registry.EventKind) (string, error) {
	switch kind {
	case registry.EventRegistered:
		return p.prefix + "." + subjectRegistered, nil
	case registry.EventOwnerConfirmed:
		return p.prefix + "." + subjectOwnerConfirmed, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", kind)
	}
}

// Emit implements registry.EventSink.
func (p *Publisher) Emit(ctx context.Context, event registry.Event) error {
	subject, err := p.Subject(event.Kind)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.Debug("Published land registry event", "subject", subject, "event_id", event.ID)
	return nil
}

// ConnClient adapts a *nats.Conn to Client.
type ConnClient struct {
	Conn *nats.Conn
}

// Publish implements Client.
func (c ConnClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Conn.Publish(subject, data); err != nil {
		return err
	}
	// Flush so the event leaves before short-lived hosts exit.
	if _, ok := ctx.Deadline(); !ok {
		return c.Conn.FlushTimeout(flushTimeout)
	}
	return c.Conn.FlushWithContext(ctx)
}

var _ registry.EventSink = (*Publisher)(nil)
