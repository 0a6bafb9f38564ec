package apprise

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fusionn-scribe/internal/config"
	"github.com/fusionn-scribe/pkg/logger"
	"github.com/fusionn-scribe/pkg/schema"
)

// Client wraps the Apprise API.
type Client struct {
	cfg    config.AppriseConfig
	client *resty.Client
}

// NewClient creates a new Apprise client.
func NewClient(cfg config.AppriseConfig) *Client {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &Client{
		cfg:    cfg,
		client: client,
	}
}

// NotifyRequest is the request body for Apprise.
type NotifyRequest struct {
	Body  string `json:"body"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"` // info, success, warning, failure
	Tag   string `json:"tag,omitempty"`
}

// Notify sends a notification via Apprise.
func (c *Client) Notify(ctx context.Context, title, body, notifyType string) error {
	if !c.cfg.Enabled {
		return nil
	}

	tag := c.cfg.Tag
	if tag == "" {
		tag = "all"
	}

	req := NotifyRequest{
		Title: title,
		Body:  body,
		Type:  notifyType,
		Tag:   tag,
	}

	url := fmt.Sprintf("%s/notify/%s", c.cfg.BaseURL, c.cfg.Key)

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(url)

	if err != nil {
		return fmt.Errorf("apprise request: %w", err)
	}

	if resp.StatusCode() >= 400 {
		return fmt.Errorf("apprise error: %s", resp.String())
	}

	logger.Debugf("🔔 Notification sent: %s", title)
	return nil
}

// Publish turns terminal job events into notifications. Progress events are not sent.
func (c *Client) Publish(ctx context.Context, ev schema.JobEvent) error {
	name := filepath.Base(ev.InputPath)
	switch ev.Type {
	case schema.EventCompleted:
		body := fmt.Sprintf("%s\n%d segment(s) → %s", name, ev.Total, ev.OutputPath)
		return c.Notify(ctx, "✅ Transcription Complete", body, "success")
	case schema.EventFailed:
		body := fmt.Sprintf("%s\nStage: %s (%d/%d segments)\nError: %s", name, ev.Stage, ev.Completed, ev.Total, ev.Error)
		return c.Notify(ctx, "❌ Transcription Failed", body, "failure")
	default:
		return nil
	}
}
