package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"github.com/luisnisc/flowpilot-sub000/modules/auth"
	"github.com/luisnisc/flowpilot-sub000/modules/broadcast"
	"github.com/luisnisc/flowpilot-sub000/modules/chat"
	"github.com/luisnisc/flowpilot-sub000/modules/presence"
	"github.com/luisnisc/flowpilot-sub000/storage"
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

// fakeConn records text frames written by the write pump and feeds queued
// frames to ReadMessage.
type fakeConn struct {
	frames chan []byte
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 256),
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case <-c.closed:
		return errors.New("connection closed")
	case c.frames <- data:
		return nil
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   string          `json:"ack"`
}

func next(t *testing.T, c *fakeConn) frame {
	t.Helper()
	select {
	case data := <-c.frames:
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

func nextEvent(t *testing.T, c *fakeConn, event string) frame {
	t.Helper()
	for {
		if f := next(t, c); f.Event == event {
			return f
		}
	}
}

func expectNone(t *testing.T, c *fakeConn) {
	t.Helper()
	select {
	case data := <-c.frames:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func encode(t *testing.T, event string, data any, ack string) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(inbound{Event: event, Data: raw, Ack: ack})
	require.NoError(t, err)
	return out
}

type fixture struct {
	relay   *Relay
	hub     *broadcast.Hub
	tracker *presence.Tracker
	store   chat.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	store, err := chat.NewGormStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if cfg.PingInterval == 0 {
		cfg.PingInterval = time.Hour
	}
	hub := broadcast.NewHub(&mockLogger{})
	tracker := presence.NewTracker(45 * time.Second)
	return &fixture{
		relay:   New(hub, tracker, chat.NewService(store, 50), &mockLogger{}, cfg),
		hub:     hub,
		tracker: tracker,
		store:   store,
	}
}

func (f *fixture) open(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := f.relay.Open(conn, nil)
	t.Cleanup(func() { f.relay.Close(s) })
	return s, conn
}

func TestRelay_JoinProjectHistoryAndNewMessage(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	m1 := domain.Message{
		ID:        "m1",
		ProjectID: "proj-1",
		Author:    "a@x.com",
		Body:      "hi",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.store.Save(ctx, &m1))
	other := domain.Message{ID: "o1", ProjectID: "proj-2", Author: "c@x.com", Body: "elsewhere", CreatedAt: m1.CreatedAt}
	require.NoError(t, f.store.Save(ctx, &other))

	member, memberConn := f.open(t)
	f.relay.Handle(ctx, member, encode(t, EventJoinProject, "proj-1", ""))
	nextEvent(t, memberConn, EventPreviousMessages)

	joiner, joinerConn := f.open(t)
	f.relay.Handle(ctx, joiner, encode(t, EventJoinProject, "proj-1", ""))

	history := nextEvent(t, joinerConn, EventPreviousMessages)
	var got []domain.Message
	require.NoError(t, json.Unmarshal(history.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "hi", got[0].Body)

	f.relay.Handle(ctx, joiner, encode(t, EventSendMessage, map[string]any{
		"projectId": "proj-1", "user": "b@x.com", "message": "yo",
	}, ""))

	for _, conn := range []*fakeConn{memberConn, joinerConn} {
		fr := next(t, conn)
		require.Equal(t, EventNewMessage, fr.Event)
		var msg domain.Message
		require.NoError(t, json.Unmarshal(fr.Data, &msg))
		assert.NotEmpty(t, msg.ID)
		assert.NotEqual(t, "m1", msg.ID)
		assert.Equal(t, "yo", msg.Body)
		assert.Equal(t, "b@x.com", msg.Author)
		expectNone(t, conn)
	}
}

func TestRelay_JoinProjectEmptyHistory(t *testing.T) {
	f := newFixture(t, Config{})
	s, conn := f.open(t)

	f.relay.Handle(context.Background(), s, encode(t, EventJoinProject, map[string]string{"projectId": "empty"}, ""))

	fr := nextEvent(t, conn, EventPreviousMessages)
	assert.JSONEq(t, `[]`, string(fr.Data))
}

func TestRelay_SendMessageAckAndValidation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s, conn := f.open(t)

	f.relay.Handle(ctx, s, encode(t, EventSendMessage, map[string]any{
		"projectId": "p1", "user": "b@x.com", "message": "not in the room",
	}, "a1"))
	ack := nextEvent(t, conn, EventAck)
	assert.Equal(t, "a1", ack.Ack)

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"empty message", map[string]any{"projectId": "p1", "user": "b@x.com", "message": ""}},
		{"missing user", map[string]any{"projectId": "p1", "message": "x"}},
		{"missing project", map[string]any{"user": "b@x.com", "message": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.relay.Handle(ctx, s, encode(t, EventSendMessage, tt.payload, "bad"))
			fr := next(t, conn)
			require.Equal(t, EventError, fr.Event)
			assert.Equal(t, "bad", fr.Ack)

			var p ErrorPayload
			require.NoError(t, json.Unmarshal(fr.Data, &p))
			assert.Equal(t, EventSendMessage, p.Event)
			assert.NotEmpty(t, p.Message)
		})
	}

	msgs, err := f.store.Recent(ctx, "p1", 50)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestRelay_SendMessageIdentityMismatch(t *testing.T) {
	f := newFixture(t, Config{})
	conn := newFakeConn()
	s := f.relay.Open(conn, &auth.JWTClaims{Email: "alice@x.com"})
	defer f.relay.Close(s)

	f.relay.Handle(context.Background(), s, encode(t, EventSendMessage, map[string]any{
		"projectId": "p1", "user": "mallory@x.com", "message": "hi",
	}, ""))

	fr := next(t, conn)
	require.Equal(t, EventError, fr.Event)
	assert.Contains(t, string(fr.Data), auth.ErrIdentityMismatch.Error())
}

func TestRelay_MalformedAndUnknownFrames(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s, conn := f.open(t)

	f.relay.Handle(ctx, s, []byte("not json"))
	assert.Equal(t, EventError, next(t, conn).Event)

	f.relay.Handle(ctx, s, encode(t, "dance", nil, ""))
	fr := next(t, conn)
	assert.Equal(t, EventError, fr.Event)
	assert.Contains(t, string(fr.Data), "dance")

	f.relay.Handle(ctx, s, encode(t, EventJoinProject, "", ""))
	assert.Equal(t, EventError, next(t, conn).Event)
}

func TestRelay_PresenceTwoTabs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	observer, observerConn := f.open(t)
	f.relay.Handle(ctx, observer, encode(t, EventUserJoined, PresencePayload{ProjectID: "p2", UserEmail: "bob@x.com"}, ""))
	nextEvent(t, observerConn, EventUsersOnline)

	tab1 := f.relay.Open(newFakeConn(), nil)
	tab2 := f.relay.Open(newFakeConn(), nil)
	for _, s := range []*Session{tab1, tab2} {
		f.relay.Handle(ctx, s, encode(t, EventUserJoined, PresencePayload{ProjectID: "p2", UserEmail: "Alice@x.com"}, ""))
	}

	var online []string
	fr := nextEvent(t, observerConn, EventUsersOnline)
	require.NoError(t, json.Unmarshal(fr.Data, &online))
	assert.Equal(t, []string{"alice@x.com", "bob@x.com"}, online)
	nextEvent(t, observerConn, EventUsersOnline)

	f.relay.Close(tab1)
	fr = nextEvent(t, observerConn, EventUsersOnline)
	require.NoError(t, json.Unmarshal(fr.Data, &online))
	assert.Contains(t, online, "alice@x.com")

	f.relay.Close(tab2)
	fr = nextEvent(t, observerConn, EventUsersOnline)
	require.NoError(t, json.Unmarshal(fr.Data, &online))
	assert.Equal(t, []string{"bob@x.com"}, online)
}

func TestRelay_HeartbeatAndUserLeft(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s, conn := f.open(t)

	f.relay.Handle(ctx, s, encode(t, EventHeartbeat, PresencePayload{ProjectID: "p1", UserEmail: "a@x.com"}, "h1"))
	ack := nextEvent(t, conn, EventAck)
	assert.JSONEq(t, `["a@x.com"]`, string(ack.Data))

	f.relay.Handle(ctx, s, encode(t, EventUserLeft, PresencePayload{ProjectID: "p1", UserEmail: "a@x.com"}, "l1"))
	ack = nextEvent(t, conn, EventAck)
	assert.JSONEq(t, `[]`, string(ack.Data))
	assert.Empty(t, f.tracker.Online("p1"))
	assert.False(t, f.hub.IsMember(broadcast.NamespacePresence, "p1", s.client))

	f.relay.Handle(ctx, s, encode(t, EventHeartbeat, PresencePayload{ProjectID: "p1"}, ""))
	fr := next(t, conn)
	assert.Equal(t, EventError, fr.Event)
}

func TestRelay_BoardSyncExcludesSender(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	sender, senderConn := f.open(t)
	peer, peerConn := f.open(t)
	outsider, outsiderConn := f.open(t)
	for _, s := range []*Session{sender, peer} {
		f.relay.Handle(ctx, s, encode(t, EventJoinProjectSync, "p1", ""))
	}
	f.relay.Handle(ctx, outsider, encode(t, EventJoinProjectSync, "p9", ""))

	task := board.Task{ID: "t1", Title: "Ship", Status: board.StatusDone}
	f.relay.Handle(ctx, sender, encode(t, EventUpdateTask, TaskPayload{ProjectID: "p1", Task: task}, ""))

	fr := next(t, peerConn)
	require.Equal(t, EventTaskUpdated, fr.Event)
	var got board.Task
	require.NoError(t, json.Unmarshal(fr.Data, &got))
	assert.Equal(t, task, got)

	f.relay.Handle(ctx, sender, encode(t, EventUpdateBoard, BoardPayload{ProjectID: "p1", Columns: board.Columns{
		board.ColumnReview: {task},
	}}, ""))
	fr = next(t, peerConn)
	require.Equal(t, EventBoardUpdated, fr.Event)
	var cols board.Columns
	require.NoError(t, json.Unmarshal(fr.Data, &cols))
	assert.Len(t, cols, len(board.ColumnKeys))
	require.Len(t, cols[board.ColumnReview], 1)
	assert.Equal(t, board.StatusReview, cols[board.ColumnReview][0].Status)

	expectNone(t, senderConn)
	expectNone(t, outsiderConn)

	f.relay.Handle(ctx, sender, encode(t, EventUpdateTask, TaskPayload{ProjectID: "p1"}, ""))
	assert.Equal(t, EventError, next(t, senderConn).Event)

	f.relay.Handle(ctx, peer, encode(t, EventLeaveProjectSync, "p1", ""))
	assert.False(t, f.hub.IsMember(broadcast.NamespaceBoard, "p1", peer.client))
}

func TestRelay_RateLimit(t *testing.T) {
	f := newFixture(t, Config{EventsPerSecond: 0.001, Burst: 2})
	ctx := context.Background()
	s, conn := f.open(t)

	for i := 0; i < 3; i++ {
		f.relay.Handle(ctx, s, encode(t, EventJoinProjectSync, "p1", "j"))
	}
	assert.Equal(t, EventAck, next(t, conn).Event)
	assert.Equal(t, EventAck, next(t, conn).Event)

	fr := next(t, conn)
	require.Equal(t, EventError, fr.Event)
	assert.Contains(t, string(fr.Data), ErrRateLimited.Error())
}

func TestRelay_ServeReadLoop(t *testing.T) {
	f := newFixture(t, Config{})
	conn := newFakeConn()

	done := make(chan struct{})
	go func() {
		f.relay.Serve(context.Background(), conn, nil)
		close(done)
	}()

	conn.in <- encode(t, EventUserJoined, PresencePayload{ProjectID: "p1", UserEmail: "a@x.com"}, "")
	nextEvent(t, conn, EventUsersOnline)
	assert.Equal(t, 1, f.hub.ClientCount())

	_ = conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the connection closed")
	}
	assert.Equal(t, 0, f.hub.ClientCount())
	assert.Empty(t, f.tracker.Online("p1"))
}

func TestRelay_SendMessageSequencing(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	s, conn := f.open(t)
	f.relay.Handle(ctx, s, encode(t, EventJoinProject, "p1", ""))
	nextEvent(t, conn, EventPreviousMessages)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.relay.SendMessage(ctx, chat.SendMessageRequest{ProjectID: "p1", User: "a@x.com", Message: "m"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.store.Recent(ctx, "p1", 50)
	require.NoError(t, err)
	require.Len(t, stored, 10)

	for i := 0; i < 10; i++ {
		fr := next(t, conn)
		var msg domain.Message
		require.NoError(t, json.Unmarshal(fr.Data, &msg))
		assert.Equal(t, stored[i].ID, msg.ID)
	}
	assert.Equal(t, 0, f.relay.locks.len())
}

// releasableConn counts writes that arrive after the connection has been
// handed back to the websocket pool.
type releasableConn struct {
	*fakeConn
	released   atomic.Bool
	lateWrites *atomic.Int64
}

func (c *releasableConn) WriteMessage(messageType int, data []byte) error {
	if c.released.Load() {
		c.lateWrites.Add(1)
		return nil
	}
	time.Sleep(50 * time.Microsecond)
	return c.fakeConn.WriteMessage(messageType, data)
}

func TestRelay_CloseWaitsForWritePump(t *testing.T) {
	f := newFixture(t, Config{QueueSize: 64})
	var late atomic.Int64

	for i := 0; i < 50; i++ {
		conn := &releasableConn{fakeConn: newFakeConn(), lateWrites: &late}
		s := f.relay.Open(conn, nil)
		require.NoError(t, f.hub.Join(broadcast.NamespaceChat, "p1", s.client))
		for j := 0; j < 20; j++ {
			f.hub.Broadcast(broadcast.NamespaceChat, "p1", EventNewMessage, j, nil)
		}
		f.relay.Close(s)
		conn.released.Store(true)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, late.Load())
}
