package task

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-monolith/mono"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localContainer routes request-reply calls straight to the registered
// handlers, without NATS.
type localContainer struct {
	mono.ServiceContainer
	handlers map[string]mono.RequestReplyHandler
}

func newLocalContainer() *localContainer {
	return &localContainer{handlers: make(map[string]mono.RequestReplyHandler)}
}

func (c *localContainer) RegisterRequestReplyService(name string, handler mono.RequestReplyHandler) error {
	c.handlers[name] = handler
	return nil
}

func (c *localContainer) GetRequestReplyService(name string) (mono.RequestReplyServiceClient, error) {
	h, ok := c.handlers[name]
	if !ok {
		return nil, fmt.Errorf("service %s not registered", name)
	}
	return localClient(h), nil
}

type localClient mono.RequestReplyHandler

func (h localClient) Call(ctx context.Context, data []byte) (*mono.Msg, error) {
	return h.CallMsg(ctx, &mono.Msg{Data: data})
}

func (h localClient) CallMsg(ctx context.Context, msg *mono.Msg) (*mono.Msg, error) {
	out, err := h(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &mono.Msg{Data: out}, nil
}

func newTestAdapter(t *testing.T) TaskPort {
	t.Helper()
	m := newTestModule(t)
	container := newLocalContainer()
	require.NoError(t, m.RegisterServices(container))
	return NewTaskAdapter(container)
}

func TestTaskAdapter_RoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	created, err := a.CreateTask(ctx, CreateTaskRequest{ProjectID: "p1", Title: "Write docs"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	moved, err := a.MoveTask(ctx, MoveTaskRequest{ProjectID: "p1", TaskID: created.ID, Status: board.StatusDone})
	require.NoError(t, err)
	assert.Equal(t, board.StatusDone, moved.Status)

	cols, err := a.GetBoard(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, cols[board.ColumnDone], 1)
	assert.Empty(t, cols[board.ColumnBacklog])

	replaced, err := a.ReplaceBoard(ctx, "p1", board.Columns{
		board.ColumnReview: {{ID: created.ID, Title: "Write docs", Priority: "low"}},
	})
	require.NoError(t, err)
	require.Len(t, replaced[board.ColumnReview], 1)
	assert.Equal(t, board.StatusReview, replaced[board.ColumnReview][0].Status)
}

func TestTaskAdapter_Errors(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.MoveTask(ctx, MoveTaskRequest{ProjectID: "p1", TaskID: "missing", Status: board.StatusDone})
	assert.True(t, errors.Is(err, ErrTaskNotFound))

	_, err = a.CreateTask(ctx, CreateTaskRequest{ProjectID: "p1"})
	assert.True(t, errors.Is(err, ErrTitleEmpty))

	_, err = a.GetBoard(ctx, "")
	assert.True(t, errors.Is(err, ErrProjectIDEmpty))
}
