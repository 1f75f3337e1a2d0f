package broadcast

import (
	"context"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/luisnisc/flowpilot-sub000/events"
)

// Server-to-client board events.
const (
	EventTaskUpdated  = "taskUpdated"
	EventBoardUpdated = "boardUpdated"
)

// BroadcastModule owns the room hub and relays board changes made outside a
// socket (REST, polling clients) to the board rooms.
type BroadcastModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
	logger    types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule(logger types.Logger) *BroadcastModule {
	return &BroadcastModule{
		hub:    NewHub(logger),
		logger: logger,
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start runs the hub until Stop.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	m.logger.Info("Broadcast module started")
	return nil
}

// Stop closes every client and waits for the hub.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	m.logger.Info("Broadcast module stopped", "clients", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
			"rooms":             m.hub.RoomCount(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
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

	m.logger.Info("Registered event consumers", "events", "TaskUpdated,BoardReplaced")
	return nil
}

func (m *BroadcastModule) handleTaskUpdated(_ context.Context, event events.TaskUpdatedEvent, _ *mono.Msg) error {
	n := m.hub.Broadcast(NamespaceBoard, event.ProjectID, EventTaskUpdated, event.Task, nil)
	m.logger.Debug("Relayed task update", "projectID", event.ProjectID, "taskID", event.Task.ID, "recipients", n)
	return nil
}

func (m *BroadcastModule) handleBoardReplaced(_ context.Context, event events.BoardReplacedEvent, _ *mono.Msg) error {
	n := m.hub.Broadcast(NamespaceBoard, event.ProjectID, EventBoardUpdated, event.Columns, nil)
	m.logger.Debug("Relayed board replace", "projectID", event.ProjectID, "recipients", n)
	return nil
}

// GetHub returns the hub for the API module.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}
