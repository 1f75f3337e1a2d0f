package task

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/luisnisc/flowpilot-sub000/domain/board"
)

// Service names registered by the task module.
const (
	ServiceGetBoard     = "get-board"
	ServiceCreateTask   = "create-task"
	ServiceMoveTask     = "move-task"
	ServiceReplaceBoard = "replace-board"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	DefaultPriority      = "medium"
)

var (
	// ErrTaskNotFound is returned when a task does not exist in the project.
	ErrTaskNotFound = errors.New("task not found")
	// ErrProjectIDEmpty is returned when a request has no project id.
	ErrProjectIDEmpty = errors.New("project id cannot be empty")
	// ErrTaskIDEmpty is returned when a task in a board has no id.
	ErrTaskIDEmpty = errors.New("task id cannot be empty")
	// ErrTitleEmpty is returned when a task has no title.
	ErrTitleEmpty = errors.New("task title cannot be empty")
	// ErrTitleTooLong is returned when a task title is too long.
	ErrTitleTooLong = errors.New("task title exceeds maximum length")
	// ErrDescriptionTooLong is returned when a description is too long.
	ErrDescriptionTooLong = errors.New("task description exceeds maximum length")
	// ErrInvalidPriority is returned for priorities other than low, medium and high.
	ErrInvalidPriority = errors.New("task priority must be low, medium or high")
	// ErrInvalidStatus is returned for unknown task statuses.
	ErrInvalidStatus = errors.New("invalid task status")
)

var priorities = map[string]bool{"low": true, "medium": true, "high": true}

// IsValidationError reports whether err was caused by bad input.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrProjectIDEmpty, ErrTaskIDEmpty, ErrTitleEmpty, ErrTitleTooLong,
		ErrDescriptionTooLong, ErrInvalidPriority, ErrInvalidStatus,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// CreateTaskRequest is the request for creating a task.
type CreateTaskRequest struct {
	ProjectID   string       `json:"projectId"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    string       `json:"priority"`
	Status      board.Status `json:"status"`
}

// Validate checks the request and fills defaults.
func (r *CreateTaskRequest) Validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return ErrProjectIDEmpty
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrTitleEmpty
	}
	if utf8.RuneCountInString(r.Title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if utf8.RuneCountInString(r.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if r.Priority == "" {
		r.Priority = DefaultPriority
	}
	if !priorities[r.Priority] {
		return ErrInvalidPriority
	}
	if r.Status == "" {
		r.Status = board.StatusPending
	}
	if !board.ValidStatus(r.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// MoveTaskRequest changes the status of a task.
type MoveTaskRequest struct {
	ProjectID string       `json:"projectId"`
	TaskID    string       `json:"taskId"`
	Status    board.Status `json:"status"`
}

// Validate checks the request.
func (r MoveTaskRequest) Validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return ErrProjectIDEmpty
	}
	if strings.TrimSpace(r.TaskID) == "" {
		return ErrTaskIDEmpty
	}
	if !board.ValidStatus(r.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// GetBoardRequest asks for the board of a project.
type GetBoardRequest struct {
	ProjectID string `json:"projectId"`
}

// ReplaceBoardRequest overwrites the board of a project.
type ReplaceBoardRequest struct {
	ProjectID string        `json:"projectId"`
	Columns   board.Columns `json:"columns"`
}

// BoardResponse carries a board in its wire shape.
type BoardResponse struct {
	Columns board.Columns `json:"columns"`
}

// TaskResponse carries a single task.
type TaskResponse struct {
	Task board.Task `json:"task"`
}
