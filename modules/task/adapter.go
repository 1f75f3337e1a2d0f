package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
)

// TaskPort is what the transport layer needs from the task module.
type TaskPort interface {
	GetBoard(ctx context.Context, projectID string) (board.Columns, error)
	CreateTask(ctx context.Context, req CreateTaskRequest) (board.Task, error)
	MoveTask(ctx context.Context, req MoveTaskRequest) (board.Task, error)
	ReplaceBoard(ctx context.Context, projectID string, cols board.Columns) (board.Columns, error)
}

// taskAdapter wraps ServiceContainer for type-safe cross-module communication.
type taskAdapter struct {
	container mono.ServiceContainer
}

// NewTaskAdapter creates a new adapter for task services.
func NewTaskAdapter(container mono.ServiceContainer) TaskPort {
	if container == nil {
		panic("task adapter requires non-nil ServiceContainer")
	}
	return &taskAdapter{container: container}
}

// GetBoard returns the board of a project.
func (a *taskAdapter) GetBoard(ctx context.Context, projectID string) (board.Columns, error) {
	if projectID == "" {
		return nil, ErrProjectIDEmpty
	}
	req := GetBoardRequest{ProjectID: projectID}
	var resp BoardResponse
	if err := call(ctx, a.container, ServiceGetBoard, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Columns, nil
}

// CreateTask creates a task.
func (a *taskAdapter) CreateTask(ctx context.Context, req CreateTaskRequest) (board.Task, error) {
	if err := req.Validate(); err != nil {
		return board.Task{}, err
	}
	var resp TaskResponse
	if err := call(ctx, a.container, ServiceCreateTask, &req, &resp); err != nil {
		return board.Task{}, err
	}
	return resp.Task, nil
}

// MoveTask changes the status of a task.
func (a *taskAdapter) MoveTask(ctx context.Context, req MoveTaskRequest) (board.Task, error) {
	if err := req.Validate(); err != nil {
		return board.Task{}, err
	}
	var resp TaskResponse
	if err := call(ctx, a.container, ServiceMoveTask, &req, &resp); err != nil {
		return board.Task{}, err
	}
	return resp.Task, nil
}

// ReplaceBoard overwrites the board of a project.
func (a *taskAdapter) ReplaceBoard(ctx context.Context, projectID string, cols board.Columns) (board.Columns, error) {
	if projectID == "" {
		return nil, ErrProjectIDEmpty
	}
	req := ReplaceBoardRequest{ProjectID: projectID, Columns: cols}
	var resp BoardResponse
	if err := call(ctx, a.container, ServiceReplaceBoard, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Columns, nil
}

func call[Req, Resp any](ctx context.Context, container mono.ServiceContainer, service string, req *Req, resp *Resp) error {
	if err := helper.CallRequestReplyService(
		ctx,
		container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return remoteError(service, err)
	}
	return nil
}

// remoteError restores ErrTaskNotFound, which loses its identity when it
// crosses the service boundary as text.
func remoteError(service string, err error) error {
	if strings.Contains(err.Error(), ErrTaskNotFound.Error()) {
		return fmt.Errorf("%s service call failed: %w", service, ErrTaskNotFound)
	}
	return fmt.Errorf("%s service call failed: %w", service, err)
}
