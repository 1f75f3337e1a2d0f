package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/luisnisc/flowpilot-sub000/events"
	"github.com/luisnisc/flowpilot-sub000/storage"
	"gorm.io/gorm"
)

// TaskModule stores project boards and announces task changes.
type TaskModule struct {
	dbPath   string
	db       *gorm.DB
	repo     *Repository
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*TaskModule)(nil)
var _ mono.ServiceProviderModule = (*TaskModule)(nil)
var _ mono.EventBusAwareModule = (*TaskModule)(nil)
var _ mono.EventEmitterModule = (*TaskModule)(nil)
var _ mono.HealthCheckableModule = (*TaskModule)(nil)

// NewModule creates a new TaskModule backed by the SQLite file at dbPath.
func NewModule(dbPath string, logger types.Logger) *TaskModule {
	return &TaskModule{
		dbPath: dbPath,
		logger: logger,
	}
}

// Name returns the module name.
func (m *TaskModule) Name() string {
	return "task"
}

// SetEventBus receives the EventBus from the framework.
func (m *TaskModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *TaskModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.TaskUpdatedV1.ToBase(),
		events.BoardReplacedV1.ToBase(),
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *TaskModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetBoard, json.Unmarshal, json.Marshal, m.getBoard,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetBoard, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceCreateTask, json.Unmarshal, json.Marshal, m.createTask,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceCreateTask, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceMoveTask, json.Unmarshal, json.Marshal, m.moveTask,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceMoveTask, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceReplaceBoard, json.Unmarshal, json.Marshal, m.replaceBoard,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceReplaceBoard, err)
	}

	m.logger.Info("Registered services", "services", "get-board,create-task,move-task,replace-board")
	return nil
}

// Start opens the database and runs migrations.
func (m *TaskModule) Start(_ context.Context) error {
	if m.db == nil {
		db, err := storage.OpenSQLite(m.dbPath)
		if err != nil {
			return err
		}
		m.db = db
	}

	m.repo = NewRepository(m.db)
	if err := m.repo.Migrate(); err != nil {
		return err
	}

	m.logger.Info("Task module started", "path", m.dbPath)
	return nil
}

// Stop closes the database.
func (m *TaskModule) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	if err := storage.Close(m.db); err != nil {
		return err
	}
	m.logger.Info("Task module stopped")
	return nil
}

// Health pings the database.
func (m *TaskModule) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{Healthy: false, Message: "database not initialized"}
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("failed to get sql.DB: %v", err)}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("database ping failed: %v", err)}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"driver": "sqlite", "path": m.dbPath},
	}
}
