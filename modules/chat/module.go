package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"github.com/luisnisc/flowpilot-sub000/events"
)

// Config selects and tunes the message store.
type Config struct {
	DBPath       string
	MongoURI     string
	MongoDB      string
	HistoryLimit int
}

// ChatModule persists project chat messages and announces them on the event
// bus.
type ChatModule struct {
	cfg      Config
	store    Store
	service  *Service
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*ChatModule)(nil)
	_ mono.ServiceProviderModule = (*ChatModule)(nil)
	_ mono.EventBusAwareModule   = (*ChatModule)(nil)
	_ mono.EventEmitterModule    = (*ChatModule)(nil)
	_ mono.HealthCheckableModule = (*ChatModule)(nil)
)

// NewModule creates a new chat module.
func NewModule(cfg Config, logger types.Logger) *ChatModule {
	return &ChatModule{
		cfg:    cfg,
		logger: logger,
	}
}

// newModuleWithStore is used by tests to skip opening a database.
func newModuleWithStore(store Store, logger types.Logger) *ChatModule {
	return &ChatModule{
		store:   store,
		service: NewService(store, defaultHistoryLimit),
		logger:  logger,
	}
}

// Name returns the module name.
func (m *ChatModule) Name() string {
	return "chat"
}

// SetEventBus receives the EventBus from the framework.
func (m *ChatModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *ChatModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *ChatModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSendMessage, json.Unmarshal, json.Marshal, m.sendMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSendMessage, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRecentMessages, json.Unmarshal, json.Marshal, m.recentMessages,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRecentMessages, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceMessagesAfter, json.Unmarshal, json.Marshal, m.messagesAfter,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceMessagesAfter, err)
	}

	m.logger.Info("Registered services", "services", "send-message,recent-messages,messages-after")
	return nil
}

// Start opens the message store: MongoDB when a URI is configured, SQLite
// otherwise.
func (m *ChatModule) Start(ctx context.Context) error {
	if m.store == nil {
		store, err := m.openStore(ctx)
		if err != nil {
			return err
		}
		m.store = store
		m.service = NewService(store, m.cfg.HistoryLimit)
	}
	m.logger.Info("Chat module started", "driver", m.store.Driver())
	return nil
}

func (m *ChatModule) openStore(ctx context.Context) (Store, error) {
	if m.cfg.MongoURI != "" {
		m.logger.Info("Connecting to MongoDB", "database", m.cfg.MongoDB)
		return OpenMongoStore(ctx, m.cfg.MongoURI, m.cfg.MongoDB)
	}
	m.logger.Info("Connecting to SQLite", "path", m.cfg.DBPath)
	return OpenGormStore(m.cfg.DBPath)
}

// Stop closes the message store.
func (m *ChatModule) Stop(_ context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("failed to close message store: %w", err)
	}
	m.logger.Info("Chat module stopped")
	return nil
}

// Health pings the message store.
func (m *ChatModule) Health(ctx context.Context) mono.HealthStatus {
	if m.store == nil {
		return mono.HealthStatus{Healthy: false, Message: "store not initialized"}
	}
	if err := m.store.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("store ping failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"driver": m.store.Driver()},
	}
}

// Service returns the chat service for in-process callers.
func (m *ChatModule) Service() *Service {
	return m.service
}

func (m *ChatModule) sendMessage(ctx context.Context, req SendMessageRequest, _ *mono.Msg) (SendMessageResponse, error) {
	msg, err := m.service.SendMessage(ctx, req)
	if err != nil {
		return SendMessageResponse{}, err
	}
	m.publishMessageSent(msg)
	return SendMessageResponse{Message: msg}, nil
}

func (m *ChatModule) recentMessages(ctx context.Context, req RecentMessagesRequest, _ *mono.Msg) (MessagesResponse, error) {
	msgs, err := m.service.RecentMessages(ctx, req.ProjectID)
	if err != nil {
		return MessagesResponse{}, err
	}
	return MessagesResponse{Messages: msgs}, nil
}

func (m *ChatModule) messagesAfter(ctx context.Context, req MessagesAfterRequest, _ *mono.Msg) (MessagesResponse, error) {
	msgs, err := m.service.MessagesAfter(ctx, req.ProjectID, req.After)
	if err != nil {
		return MessagesResponse{}, err
	}
	return MessagesResponse{Messages: msgs}, nil
}

// publishMessageSent is best effort: the message is already stored.
func (m *ChatModule) publishMessageSent(msg domain.Message) {
	if m.eventBus == nil {
		return
	}
	event := events.MessageSentEvent{
		MessageID: msg.ID,
		ProjectID: msg.ProjectID,
		User:      msg.Author,
		Body:      msg.Body,
		Timestamp: msg.CreatedAt,
	}
	if err := events.MessageSentV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish MessageSent event", "messageID", msg.ID, "error", err)
	}
}
