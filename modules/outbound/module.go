// Package outbound forwards domain events to Kafka for consumers outside the
// realtime service, such as notifications and analytics.
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/luisnisc/flowpilot-sub000/events"
	kafkago "github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

// Record types written to the topic.
const (
	RecordMessageSent   = "chat.message_sent"
	RecordTaskUpdated   = "task.updated"
	RecordBoardReplaced = "task.board_replaced"
)

// Config configures the outbound module. No brokers disables forwarding.
type Config struct {
	Brokers []string
	Topic   string
}

// Record is the JSON value of every Kafka message.
type Record struct {
	Type       string    `json:"type"`
	ProjectID  string    `json:"projectId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// OutboundModule consumes events from the bus and writes them to Kafka.
type OutboundModule struct {
	cfg       Config
	writer    messageWriter
	logger    types.Logger
	forwarded atomic.Int64
	failed    atomic.Int64
}

// Compile-time interface checks.
var _ mono.Module = (*OutboundModule)(nil)
var _ mono.EventConsumerModule = (*OutboundModule)(nil)
var _ mono.HealthCheckableModule = (*OutboundModule)(nil)

// NewModule creates a new OutboundModule.
func NewModule(cfg Config, logger types.Logger) *OutboundModule {
	return &OutboundModule{cfg: cfg, logger: logger}
}

// Name returns the module name.
func (m *OutboundModule) Name() string {
	return "outbound"
}

// Enabled reports whether brokers are configured.
func (m *OutboundModule) Enabled() bool {
	return len(m.cfg.Brokers) > 0
}

// Start creates the Kafka writer. Records with the same project id go to
// the same partition, so per-project order is kept.
func (m *OutboundModule) Start(_ context.Context) error {
	if !m.Enabled() {
		m.logger.Info("Outbound module disabled, no Kafka brokers configured")
		return nil
	}
	if m.writer == nil {
		m.writer = &kafkago.Writer{
			Addr:         kafkago.TCP(m.cfg.Brokers...),
			Topic:        m.cfg.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
			Async:        false,
		}
	}
	m.logger.Info("Outbound module started", "brokers", m.cfg.Brokers, "topic", m.cfg.Topic)
	return nil
}

// Stop flushes and closes the writer.
func (m *OutboundModule) Stop(_ context.Context) error {
	if m.writer == nil {
		return nil
	}
	if err := m.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	m.logger.Info("Outbound module stopped", "forwarded", m.forwarded.Load(), "failed", m.failed.Load())
	return nil
}

// Health returns the health status.
func (m *OutboundModule) Health(_ context.Context) mono.HealthStatus {
	msg := "operational"
	if !m.Enabled() {
		msg = "disabled"
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: msg,
		Details: map[string]any{
			"topic":     m.cfg.Topic,
			"forwarded": m.forwarded.Load(),
			"failed":    m.failed.Load(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *OutboundModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageSentV1, m.handleMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.TaskUpdatedV1, m.handleTaskUpdated, m,
	); err != nil {
		return fmt.Errorf("failed to register TaskUpdated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.BoardReplacedV1, m.handleBoardReplaced, m,
	); err != nil {
		return fmt.Errorf("failed to register BoardReplaced consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", "MessageSent,TaskUpdated,BoardReplaced")
	return nil
}

func (m *OutboundModule) handleMessageSent(ctx context.Context, event events.MessageSentEvent, _ *mono.Msg) error {
	return m.forward(ctx, Record{
		Type:       RecordMessageSent,
		ProjectID:  event.ProjectID,
		OccurredAt: event.Timestamp,
		Payload:    event,
	})
}

func (m *OutboundModule) handleTaskUpdated(ctx context.Context, event events.TaskUpdatedEvent, _ *mono.Msg) error {
	return m.forward(ctx, Record{
		Type:       RecordTaskUpdated,
		ProjectID:  event.ProjectID,
		OccurredAt: event.Timestamp,
		Payload:    event.Task,
	})
}

func (m *OutboundModule) handleBoardReplaced(ctx context.Context, event events.BoardReplacedEvent, _ *mono.Msg) error {
	return m.forward(ctx, Record{
		Type:       RecordBoardReplaced,
		ProjectID:  event.ProjectID,
		OccurredAt: event.Timestamp,
		Payload:    event.Columns,
	})
}

// forward writes one record. Failures are logged and counted but not
// returned: the sink is best effort and must not stall the bus.
func (m *OutboundModule) forward(ctx context.Context, rec Record) error {
	if m.writer == nil {
		return nil
	}

	value, err := json.Marshal(rec)
	if err != nil {
		m.failed.Add(1)
		m.logger.Error("Failed to encode outbound record", "type", rec.Type, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := m.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(rec.ProjectID),
		Value: value,
		Time:  rec.OccurredAt,
	}); err != nil {
		m.failed.Add(1)
		m.logger.Warn("Failed to forward event to Kafka", "type", rec.Type, "projectID", rec.ProjectID, "error", err)
		return nil
	}
	m.forwarded.Add(1)
	return nil
}
