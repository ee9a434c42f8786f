package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/ledger"
	"github.com/af-corp/sentinel-gate/internal/types"
)

func testEvent() ledger.Event {
	return ledger.Event{
		Type:          ledger.EventOverride,
		ExecutionID:   "exec-1a2b3c4d",
		Status:        ledger.StatusRejected,
		OverallAction: ledger.ActionRejected,
		OverallRisk:   types.RiskLow,
		Version:       4,
		AgentName:     "Prompt",
		Layer:         types.LayerL1,
		Action:        "reject",
		At:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildMsg(t *testing.T) {
	msg, err := buildMsg("sentinel.executions", testEvent())
	if err != nil {
		t.Fatalf("buildMsg: %v", err)
	}
	if msg.Subject != "sentinel.executions" {
		t.Errorf("subject = %q", msg.Subject)
	}
	headers := map[string]string{
		"x-event-type":   "execution.overridden",
		"x-execution-id": "exec-1a2b3c4d",
		"x-status":       "REJECTED",
		"x-version":      "4",
		nats.MsgIdHdr:    "exec-1a2b3c4d:4",
	}
	for k, want := range headers {
		if got := msg.Header.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}

	var decoded ledger.Event
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != testEvent() {
		t.Errorf("got %+v, want %+v", decoded, testEvent())
	}
}

func TestPublishNotReady(t *testing.T) {
	p := newPublisher(nil, config.EventsConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if p.subject != DefaultSubject {
		t.Errorf("subject = %q, want default", p.subject)
	}
	if p.IsReady() {
		t.Error("publisher without a connection reports ready")
	}
	if err := p.Publish(context.Background(), testEvent()); err == nil {
		t.Error("expected an error without a connection")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestPublishRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.EventsConfig{URL: nats.DefaultURL, Subject: "sentinel.test.executions", Timeout: time.Second}

	p, err := Connect(cfg, logger)
	if err != nil {
		t.Skip("NATS server not available, skipping test")
	}
	defer p.Close()

	sub, err := nats.Connect(cfg.URL)
	if err != nil {
		t.Skip("NATS server not available, skipping test")
	}
	defer sub.Close()
	ch := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(cfg.Subject, ch)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer s.Unsubscribe()
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := p.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-ch:
		if got := msg.Header.Get("x-event-type"); got != ledger.EventOverride {
			t.Errorf("x-event-type = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
