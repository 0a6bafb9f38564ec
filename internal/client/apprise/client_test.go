package apprise

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fusionn-scribe/internal/config"
	"github.com/fusionn-scribe/pkg/schema"
)

func newServer(t *testing.T, status int, got *[]NotifyRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notify/scribe" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req NotifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		*got = append(*got, req)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPublishTerminalEvents(t *testing.T) {
	var got []NotifyRequest
	srv := newServer(t, http.StatusOK, &got)
	c := NewClient(config.AppriseConfig{Enabled: true, BaseURL: srv.URL, Key: "scribe"})

	events := []schema.JobEvent{
		{Type: schema.EventStageChanged, InputPath: "/in/talk.mp3"},
		{Type: schema.EventSegmentDone, InputPath: "/in/talk.mp3"},
		{Type: schema.EventCompleted, InputPath: "/in/talk.mp3", OutputPath: "/out/talk.txt", Total: 4},
		{Type: schema.EventFailed, InputPath: "/in/talk.mp3", Stage: "failed", Error: "decode failed: boom"},
	}
	for _, ev := range events {
		if err := c.Publish(context.Background(), ev); err != nil {
			t.Fatalf("Publish(%s): %v", ev.Type, err)
		}
	}

	if len(got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(got))
	}
	if got[0].Type != "success" || !strings.Contains(got[0].Body, "/out/talk.txt") {
		t.Errorf("completed notification = %+v", got[0])
	}
	if got[1].Type != "failure" || !strings.Contains(got[1].Body, "boom") {
		t.Errorf("failed notification = %+v", got[1])
	}
	if got[0].Tag != "all" {
		t.Errorf("tag = %q, want default all", got[0].Tag)
	}
}

func TestNotifyDisabled(t *testing.T) {
	var got []NotifyRequest
	srv := newServer(t, http.StatusOK, &got)
	c := NewClient(config.AppriseConfig{Enabled: false, BaseURL: srv.URL, Key: "scribe"})

	if err := c.Notify(context.Background(), "t", "b", "info"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Error("disabled client must not send")
	}
}

func TestNotifyErrorStatus(t *testing.T) {
	var got []NotifyRequest
	srv := newServer(t, http.StatusBadRequest, &got)
	c := NewClient(config.AppriseConfig{Enabled: true, BaseURL: srv.URL, Key: "scribe"})

	if err := c.Notify(context.Background(), "t", "b", "info"); err == nil {
		t.Fatal("expected error for 400")
	}
}
