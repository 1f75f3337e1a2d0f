package broadcast

import (
	"context"
	"testing"

	"github.com/luisnisc/flowpilot-sub000/domain/board"
	"github.com/luisnisc/flowpilot-sub000/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastModule_Name(t *testing.T) {
	m := NewModule(&mockLogger{})
	if name := m.Name(); name != "broadcast" {
		t.Errorf("Name() = %q, want 'broadcast'", name)
	}
}

func TestBroadcastModule_StartStop(t *testing.T) {
	m := NewModule(&mockLogger{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	health := m.Health(ctx)
	assert.True(t, health.Healthy)
	require.NoError(t, m.Stop(ctx))
}

func TestBroadcastModule_TaskUpdatedReachesEveryViewer(t *testing.T) {
	m := NewModule(&mockLogger{})
	hub := m.GetHub()
	a := newTestClient(hub, "a", 0)
	b := newTestClient(hub, "b", 0)
	outsider := newTestClient(hub, "c", 0)
	require.NoError(t, hub.Join(NamespaceBoard, "p1", a))
	require.NoError(t, hub.Join(NamespaceBoard, "p1", b))
	require.NoError(t, hub.Join(NamespaceChat, "p1", outsider))

	err := m.handleTaskUpdated(context.Background(), events.TaskUpdatedEvent{
		ProjectID: "p1",
		Task:      board.Task{ID: "t1", Status: board.StatusDone},
	}, nil)
	require.NoError(t, err)

	for _, c := range []*Client{a, b} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, EventTaskUpdated, got[0].Event)
	}
	assert.Empty(t, drain(t, outsider))
}

func TestBroadcastModule_BoardReplaced(t *testing.T) {
	m := NewModule(&mockLogger{})
	hub := m.GetHub()
	a := newTestClient(hub, "a", 0)
	require.NoError(t, hub.Join(NamespaceBoard, "p1", a))

	err := m.handleBoardReplaced(context.Background(), events.BoardReplacedEvent{
		ProjectID: "p1",
		Columns:   board.EmptyColumns(),
	}, nil)
	require.NoError(t, err)

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, EventBoardUpdated, got[0].Event)
}
