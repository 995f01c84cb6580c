package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ConnectNATS opens a reconnecting NATS connection for notification publishing.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats: reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return conn, nil
}

// NotificationPublisher publishes invoice workflow notifications to NATS for
// consumption by the notifications service.
//
// Subject convention: <prefix>.<template_key>
type NotificationPublisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewNotificationPublisher creates a publisher backed by the given NATS connection.
func NewNotificationPublisher(conn *nats.Conn, prefix string, log zerolog.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = "notifications.invoices"
	}
	return &NotificationPublisher{conn: conn, prefix: prefix, log: log}
}

// Subject returns the subject a template is published on.
func (p *NotificationPublisher) Subject(templateKey string) string {
	return fmt.Sprintf("%s.%s", p.prefix, templateKey)
}

// Notify publishes n. Publishing is asynchronous on the NATS side; an error
// here means the message never left the process.
func (p *NotificationPublisher) Notify(ctx context.Context, n Notification) error {
	if p.conn == nil {
		return fmt.Errorf("nats publisher is not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(NewNotificationEvent(n))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := p.Subject(n.TemplateKey)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("recipient", n.Recipient).
		Msg("notification: event published")
	return nil
}

// NewNotificationEvent builds the wire event for a notification.
func NewNotificationEvent(n Notification) *NotificationEvent {
	ev := &NotificationEvent{
		EventType:    n.TemplateKey,
		Recipients:   []string{n.Recipient},
		ResourceType: "invoice",
		Severity:     "info",
		Category:     "ap_invoice_automation",
		Payload:      n.Context,
	}
	if id, ok := n.Context["invoice_id"].(string); ok {
		ev.ResourceID = id
	}
	if n.TemplateKey == TemplateNeedsReview || n.TemplateKey == TemplateReturned {
		ev.Severity = "warning"
	}
	return ev
}
