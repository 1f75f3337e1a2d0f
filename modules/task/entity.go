package task

import (
	"time"

	"github.com/luisnisc/flowpilot-sub000/domain/board"
)

// Task is the stored form of a board task. Position orders tasks inside a
// column; a task moved to another column gets the next free position.
type Task struct {
	ID          string `gorm:"primarykey;size:36"`
	ProjectID   string `gorm:"size:128;not null;index:idx_tasks_project_position,priority:1"`
	Title       string `gorm:"size:200;not null"`
	Description string `gorm:"size:5000"`
	Priority    string `gorm:"size:16;not null;default:medium"`
	Status      string `gorm:"size:32;not null;default:pending"`
	Position    int64  `gorm:"not null;index:idx_tasks_project_position,priority:2"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the table name for Task model.
func (Task) TableName() string {
	return "tasks"
}

// ToBoard converts the stored task to its board view.
func (t *Task) ToBoard() board.Task {
	return board.Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Status:      board.Status(t.Status),
	}
}
