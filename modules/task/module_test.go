package task

import (
	"context"
	"errors"
	"testing"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any)         {}
func (m *mockLogger) Info(_ string, _ ...any)          {}
func (m *mockLogger) Warn(_ string, _ ...any)          {}
func (m *mockLogger) Error(_ string, _ ...any)         {}
func (m *mockLogger) With(_ ...any) types.Logger       { return m }
func (m *mockLogger) WithModule(_ string) types.Logger { return m }
func (m *mockLogger) WithError(_ error) types.Logger   { return m }

func newTestModule(t *testing.T) *TaskModule {
	t.Helper()
	m := NewModule(":memory:", &mockLogger{})
	m.db = setupTestDB(t)
	require.NoError(t, m.Start(context.Background()))
	return m
}

func TestTaskModule_Name(t *testing.T) {
	m := NewModule(":memory:", &mockLogger{})
	if name := m.Name(); name != "task" {
		t.Errorf("Name() = %q, want 'task'", name)
	}
	assert.Len(t, m.EmitEvents(), 2)
}

func TestTaskModule_CreateAndGetBoard(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	created, err := m.createTask(ctx, CreateTaskRequest{ProjectID: "p1", Title: "Write docs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, board.StatusPending, created.Task.Status)
	assert.Equal(t, DefaultPriority, created.Task.Priority)

	_, err = m.createTask(ctx, CreateTaskRequest{ProjectID: "p1", Title: "Ship", Status: board.StatusReview, Priority: "high"}, nil)
	require.NoError(t, err)

	resp, err := m.getBoard(ctx, GetBoardRequest{ProjectID: "p1"}, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Columns[board.ColumnBacklog], 1)
	assert.Len(t, resp.Columns[board.ColumnReview], 1)
	assert.Empty(t, resp.Columns[board.ColumnDone])
}

func TestTaskModule_MoveTask(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	created, err := m.createTask(ctx, CreateTaskRequest{ProjectID: "p1", Title: "Write docs"}, nil)
	require.NoError(t, err)

	moved, err := m.moveTask(ctx, MoveTaskRequest{ProjectID: "p1", TaskID: created.Task.ID, Status: board.StatusDone}, nil)
	require.NoError(t, err)
	assert.Equal(t, board.StatusDone, moved.Task.Status)

	resp, err := m.getBoard(ctx, GetBoardRequest{ProjectID: "p1"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Columns[board.ColumnDone], 1)
	assert.Empty(t, resp.Columns[board.ColumnBacklog])

	_, err = m.moveTask(ctx, MoveTaskRequest{ProjectID: "p1", TaskID: created.Task.ID, Status: "archived"}, nil)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = m.moveTask(ctx, MoveTaskRequest{ProjectID: "p1", TaskID: "missing", Status: board.StatusDone}, nil)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskModule_GetBoardUnknownStatusGoesToBacklog(t *testing.T) {
	m := newTestModule(t)
	require.NoError(t, m.repo.Create(&Task{ID: "legacy", ProjectID: "p1", Title: "legacy", Priority: "low", Status: "blocked"}))

	resp, err := m.getBoard(context.Background(), GetBoardRequest{ProjectID: "p1"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Columns[board.ColumnBacklog], 1)
	assert.Equal(t, "legacy", resp.Columns[board.ColumnBacklog][0].ID)
}

func TestTaskModule_ReplaceBoard(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	cols := board.Columns{
		board.ColumnInProgress: {{ID: "a", Title: "A", Priority: "high", Status: board.StatusPending}},
		board.ColumnDone:       {{ID: "b", Title: "B", Priority: "urgent"}},
	}
	resp, err := m.replaceBoard(ctx, ReplaceBoardRequest{ProjectID: "p1", Columns: cols}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Columns[board.ColumnInProgress], 1)
	assert.Equal(t, board.StatusInProgress, resp.Columns[board.ColumnInProgress][0].Status)

	stored, err := m.getBoard(ctx, GetBoardRequest{ProjectID: "p1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, resp.Columns[board.ColumnInProgress][0].ID, stored.Columns[board.ColumnInProgress][0].ID)
	require.Len(t, stored.Columns[board.ColumnDone], 1)
	assert.Equal(t, DefaultPriority, stored.Columns[board.ColumnDone][0].Priority)

	_, err = m.replaceBoard(ctx, ReplaceBoardRequest{ProjectID: "p1", Columns: board.Columns{
		board.ColumnDone: {{Title: "no id"}},
	}}, nil)
	assert.ErrorIs(t, err, ErrTaskIDEmpty)
}

func TestCreateTaskRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateTaskRequest
		wantErr error
	}{
		{"valid", CreateTaskRequest{ProjectID: "p1", Title: "x"}, nil},
		{"no project", CreateTaskRequest{Title: "x"}, ErrProjectIDEmpty},
		{"no title", CreateTaskRequest{ProjectID: "p1", Title: "  "}, ErrTitleEmpty},
		{"bad priority", CreateTaskRequest{ProjectID: "p1", Title: "x", Priority: "urgent"}, ErrInvalidPriority},
		{"bad status", CreateTaskRequest{ProjectID: "p1", Title: "x", Status: "archived"}, ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := req.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRemoteError(t *testing.T) {
	err := remoteError(ServiceMoveTask, errors.New("service error: task not found"))
	assert.ErrorIs(t, err, ErrTaskNotFound)

	err = remoteError(ServiceMoveTask, errors.New("timeout"))
	assert.NotErrorIs(t, err, ErrTaskNotFound)
}
