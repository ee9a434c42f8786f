// Package events publishes committed ledger changes to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/ledger"
)

const (
	DefaultSubject = "sentinel.executions"

	connectTimeout = 5 * time.Second
	reconnectWait  = 2 * time.Second
	maxReconnects  = -1
)

// Publisher sends ledger events as JSON messages on one subject. Event
// metadata is duplicated into headers so subscribers can filter without
// decoding the body.
type Publisher struct {
	mu      sync.RWMutex
	conn    *nats.Conn
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

// Connect dials NATS. The client reconnects on its own after the first
// successful connection.
func Connect(cfg config.EventsConfig, logger *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("sentinel-gate"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	p := newPublisher(conn, cfg, logger)
	logger.Info("nats publisher initialized", "url", cfg.URL, "subject", p.subject)
	return p, nil
}

func newPublisher(conn *nats.Conn, cfg config.EventsConfig, logger *slog.Logger) *Publisher {
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Publisher{conn: conn, subject: subject, timeout: timeout, logger: logger}
}

// Publish implements ledger.Publisher.
func (p *Publisher) Publish(ctx context.Context, ev ledger.Event) error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return fmt.Errorf("nats publisher not ready")
	}

	msg, err := buildMsg(p.subject, ev)
	if err != nil {
		return err
	}
	if err := conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", ev.Type, err)
	}
	p.logger.Debug("ledger event published", "execution_id", ev.ExecutionID, "type", ev.Type, "subject", p.subject)
	return nil
}

func buildMsg(subject string, ev ledger.Event) (*nats.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("x-event-type", ev.Type)
	msg.Header.Set("x-execution-id", ev.ExecutionID)
	msg.Header.Set("x-status", string(ev.Status))
	msg.Header.Set("x-version", strconv.FormatInt(ev.Version, 10))
	// Dedupe key for JetStream consumers.
	msg.Header.Set(nats.MsgIdHdr, ev.ExecutionID+":"+strconv.FormatInt(ev.Version, 10))
	return msg, nil
}

func (p *Publisher) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn = nil
	p.logger.Info("nats publisher closed")
	return err
}
