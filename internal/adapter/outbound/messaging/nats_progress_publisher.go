// Package messaging provides the NATS-backed progress publisher. Events are
// advisory: queue coordination never depends on one being delivered, so
// publish failures degrade to a log line.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/config"
	"receiptflow/internal/port/outbound"

	"github.com/nats-io/nats.go"
)

const natsConnectionTimeout = 5 * time.Second

// NATSProgressPublisher publishes batch progress events to a NATS subject.
type NATSProgressPublisher struct {
	cfg     config.NATSConfig
	subject string

	mu             sync.RWMutex
	conn           *nats.Conn
	lastError      error
	reconnectCount int
}

// NewNATSProgressPublisher connects to NATS and returns a publisher for the
// given subject.
func NewNATSProgressPublisher(cfg config.NATSConfig, subject string) (*NATSProgressPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}
	if !strings.HasPrefix(cfg.URL, "nats://") {
		return nil, errors.New("invalid NATS URL scheme")
	}
	if subject == "" {
		return nil, errors.New("progress subject cannot be empty")
	}

	publisher := &NATSProgressPublisher{
		cfg:     cfg,
		subject: subject,
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(natsConnectionTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			publisher.mu.Lock()
			publisher.reconnectCount++
			publisher.mu.Unlock()
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, disconnectErr error) {
			if disconnectErr != nil {
				publisher.mu.Lock()
				publisher.lastError = disconnectErr
				publisher.mu.Unlock()
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	publisher.conn = conn
	return publisher, nil
}

// PublishBatchProgress publishes one progress event.
func (p *NATSProgressPublisher) PublishBatchProgress(ctx context.Context, event outbound.BatchProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}

	if err := p.conn.Publish(p.subject, payload); err != nil {
		p.mu.Lock()
		p.lastError = err
		p.mu.Unlock()
		return fmt.Errorf("publish progress event: %w", err)
	}

	slogger.Debug(ctx, "Published batch progress event", slogger.Fields2(
		"batch_id", event.BatchID.String(),
		"subject", p.subject,
	))
	return nil
}

// GetConnectionHealth reports the publisher's connection state.
func (p *NATSProgressPublisher) GetConnectionHealth() outbound.PublisherHealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := outbound.PublisherHealthStatus{
		Connected:  p.conn != nil && p.conn.IsConnected(),
		Reconnects: p.reconnectCount,
	}
	if p.lastError != nil {
		status.LastError = p.lastError.Error()
	}
	return status
}

// Close drains the connection so queued events flush before shutdown.
func (p *NATSProgressPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// NoopProgressPublisher satisfies the publisher ports when messaging is
// disabled.
type NoopProgressPublisher struct{}

func (NoopProgressPublisher) PublishBatchProgress(_ context.Context, _ outbound.BatchProgressEvent) error {
	return nil
}

func (NoopProgressPublisher) GetConnectionHealth() outbound.PublisherHealthStatus {
	return outbound.PublisherHealthStatus{Connected: true}
}

func (NoopProgressPublisher) Close() error { return nil }
