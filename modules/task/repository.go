package task

import (
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Repository provides access to task storage.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new task repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the tasks table.
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(&Task{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Create saves a new task at the end of its project.
func (r *Repository) Create(task *Task) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		pos, err := nextPosition(tx, task.ProjectID)
		if err != nil {
			return err
		}
		task.Position = pos
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		return nil
	})
}

// FindByID retrieves a task of a project.
func (r *Repository) FindByID(projectID, id string) (*Task, error) {
	var task Task
	if err := r.db.First(&task, "project_id = ? AND id = ?", projectID, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &task, nil
}

// FindByProject retrieves the tasks of a project in board order.
func (r *Repository) FindByProject(projectID string) ([]*Task, error) {
	var tasks []*Task
	if err := r.db.Where("project_id = ?", projectID).Order("position ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus moves a task to status. A task that changes status is placed
// after every other task of the project.
func (r *Repository) UpdateStatus(projectID, id, status string) (*Task, error) {
	var task Task
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&task, "project_id = ? AND id = ?", projectID, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return fmt.Errorf("failed to find task: %w", err)
		}
		if task.Status == status {
			return nil
		}

		pos, err := nextPosition(tx, projectID)
		if err != nil {
			return err
		}
		task.Status = status
		task.Position = pos
		if err := tx.Model(&task).Select("status", "position", "updated_at").Updates(&task).Error; err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ReplaceProject deletes every task of a project and stores tasks in the given
// order.
func (r *Repository) ReplaceProject(projectID string, tasks []*Task) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&Task{}).Error; err != nil {
			return fmt.Errorf("failed to clear board: %w", err)
		}
		if len(tasks) == 0 {
			return nil
		}
		for i, t := range tasks {
			t.ProjectID = projectID
			t.Position = int64(i + 1)
		}
		if err := tx.Create(&tasks).Error; err != nil {
			return fmt.Errorf("failed to store board: %w", err)
		}
		return nil
	})
}

func nextPosition(tx *gorm.DB, projectID string) (int64, error) {
	var max sql.NullInt64
	row := tx.Model(&Task{}).Where("project_id = ?", projectID).Select("MAX(position)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read board position: %w", err)
	}
	return max.Int64 + 1, nil
}
