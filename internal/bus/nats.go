// Package bus publishes job lifecycle events to NATS.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fusionn-scribe/pkg/logger"
	"github.com/fusionn-scribe/pkg/schema"
)

// publisher is the part of *nats.Conn the bus needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

type Client struct {
	nc      *nats.Conn
	pub     publisher
	subject string
}

// Connect dials url. Events are published on subject.
func Connect(url, subject string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("fusionn-scribe"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &Client{nc: nc, pub: nc, subject: subject}, nil
}

// Close drains pending messages so events published just before exit are delivered.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.pub.Publish(subject, b)
}

// Publish sends ev on the configured subject, suffixed with the event type.
func (c *Client) Publish(_ context.Context, ev schema.JobEvent) error {
	subject := c.subject + "." + string(ev.Type)
	if err := c.PublishJSON(subject, ev); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	logger.Debugf("📡 Event %s → %s", ev.Type, subject)
	return nil
}
