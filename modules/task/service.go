package task

import (
	"context"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/google/uuid"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
	"github.com/luisnisc/flowpilot-sub000/events"
)

// getBoard handles the get-board service request.
func (m *TaskModule) getBoard(_ context.Context, req GetBoardRequest, _ *mono.Msg) (BoardResponse, error) {
	if req.ProjectID == "" {
		return BoardResponse{}, ErrProjectIDEmpty
	}
	tasks, err := m.repo.FindByProject(req.ProjectID)
	if err != nil {
		return BoardResponse{}, err
	}

	b := board.New()
	for _, t := range tasks {
		if _, known := b.Apply(t.ToBoard()); !known {
			m.logger.Warn("Task has unknown status, showing it in backlog",
				"projectID", req.ProjectID, "taskID", t.ID, "status", t.Status)
		}
	}
	return BoardResponse{Columns: b.Columns()}, nil
}

// createTask handles the create-task service request.
func (m *TaskModule) createTask(_ context.Context, req CreateTaskRequest, _ *mono.Msg) (TaskResponse, error) {
	if err := req.Validate(); err != nil {
		return TaskResponse{}, err
	}

	t := &Task{
		ID:          uuid.New().String(),
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      string(req.Status),
	}
	if err := m.repo.Create(t); err != nil {
		return TaskResponse{}, err
	}

	view := t.ToBoard()
	m.publishTaskUpdated(req.ProjectID, view)
	return TaskResponse{Task: view}, nil
}

// moveTask handles the move-task service request.
func (m *TaskModule) moveTask(_ context.Context, req MoveTaskRequest, _ *mono.Msg) (TaskResponse, error) {
	if err := req.Validate(); err != nil {
		return TaskResponse{}, err
	}

	t, err := m.repo.UpdateStatus(req.ProjectID, req.TaskID, string(req.Status))
	if err != nil {
		return TaskResponse{}, err
	}

	view := t.ToBoard()
	m.publishTaskUpdated(req.ProjectID, view)
	return TaskResponse{Task: view}, nil
}

// replaceBoard handles the replace-board service request. Each task takes the
// status of the column it is listed in.
func (m *TaskModule) replaceBoard(_ context.Context, req ReplaceBoardRequest, _ *mono.Msg) (BoardResponse, error) {
	if req.ProjectID == "" {
		return BoardResponse{}, ErrProjectIDEmpty
	}

	b := board.FromColumns(req.Columns)
	cols := b.Columns()

	tasks := make([]*Task, 0, b.Len())
	for _, key := range board.ColumnKeys {
		for _, bt := range cols[key] {
			if bt.ID == "" {
				return BoardResponse{}, fmt.Errorf("%w: task in column %s has no id", ErrTaskIDEmpty, key)
			}
			priority := bt.Priority
			if !priorities[priority] {
				priority = DefaultPriority
			}
			tasks = append(tasks, &Task{
				ID:          bt.ID,
				Title:       bt.Title,
				Description: bt.Description,
				Priority:    priority,
				Status:      string(bt.Status),
			})
		}
	}

	if err := m.repo.ReplaceProject(req.ProjectID, tasks); err != nil {
		return BoardResponse{}, err
	}

	m.publishBoardReplaced(req.ProjectID, cols)
	return BoardResponse{Columns: cols}, nil
}

func (m *TaskModule) publishTaskUpdated(projectID string, t board.Task) {
	if m.eventBus == nil {
		return
	}
	event := events.TaskUpdatedEvent{ProjectID: projectID, Task: t, Timestamp: time.Now()}
	if err := events.TaskUpdatedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish TaskUpdated event", "taskID", t.ID, "error", err)
	}
}

func (m *TaskModule) publishBoardReplaced(projectID string, cols board.Columns) {
	if m.eventBus == nil {
		return
	}
	event := events.BoardReplacedEvent{ProjectID: projectID, Columns: cols, Timestamp: time.Now()}
	if err := events.BoardReplacedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish BoardReplaced event", "projectID", projectID, "error", err)
	}
}
