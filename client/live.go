package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fasthttp/websocket"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned when the socket is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrAckTimeout is returned when the server does not acknowledge in time.
	ErrAckTimeout = errors.New("timed out waiting for acknowledgement")
	// ErrConnectionLost is returned when the socket closes while waiting.
	ErrConnectionLost = errors.New("connection lost")
)

// RemoteError is an error event sent by the server in reply to a request.
type RemoteError struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Event, e.Message)
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   string `json:"ack,omitempty"`
}

type presencePayload struct {
	ProjectID string `json:"projectId"`
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName,omitempty"`
}

type taskPayload struct {
	ProjectID string     `json:"projectId"`
	Task      board.Task `json:"task"`
}

// LiveTransport keeps a websocket to the server. Connecting is retried a
// fixed number of times; Run returns once the socket is lost so the caller
// can fall back to polling.
type LiveTransport struct {
	api      *httpAPI
	opts     Options
	channels Channels
	logger   *zap.Logger
	dialer   *websocket.Dialer
	newID    func() string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan frame

	writeMu   sync.Mutex
	connected atomic.Bool
}

var _ Transport = (*LiveTransport)(nil)

// NewLiveTransport creates a live transport.
func NewLiveTransport(opts Options, channels Channels) (*LiveTransport, error) {
	opts = opts.withDefaults()
	return newLiveTransport(newHTTPAPI(opts), opts, channels)
}

func newLiveTransport(api *httpAPI, opts Options, channels Channels) (*LiveTransport, error) {
	newID, err := nanoid.Standard(12)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}
	return &LiveTransport{
		api:      api,
		opts:     opts,
		channels: channels,
		logger:   opts.Logger.With(zap.String("transport", string(ModeLive))),
		dialer:   &websocket.Dialer{HandshakeTimeout: defaultRequestTimeout},
		newID:    newID,
		pending:  make(map[string]chan frame),
	}, nil
}

// Mode returns ModeLive.
func (t *LiveTransport) Mode() Mode {
	return ModeLive
}

// Connected reports whether the socket is open.
func (t *LiveTransport) Connected() bool {
	return t.connected.Load()
}

func (t *LiveTransport) socketURL() (string, error) {
	u, err := url.Parse(t.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if t.opts.Token != "" {
		u.RawQuery = url.Values{"token": {t.opts.Token}}.Encode()
	}
	return u.String(), nil
}

func (t *LiveTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := t.socketURL()
	if err != nil {
		return nil, err
	}

	var conn *websocket.Conn
	attempt := 0
	operation := func() error {
		attempt++
		c, _, err := t.dialer.DialContext(ctx, target, nil)
		if err != nil {
			t.logger.Debug("dial failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(t.opts.ReconnectDelay), uint64(t.opts.ReconnectAttempts-1))
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempt, err)
	}
	return conn, nil
}

// Run connects, subscribes to the configured channels and delivers pushed
// updates until the socket closes.
func (t *LiveTransport) Run(ctx context.Context, apply func(Update)) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.connected.Store(true)
	t.logger.Info("connected", zap.String("project", t.opts.ProjectID))

	stop := make(chan struct{})
	defer func() {
		close(stop)
		t.connected.Store(false)
		t.mu.Lock()
		t.conn = nil
		for id, ch := range t.pending {
			close(ch)
			delete(t.pending, id)
		}
		t.mu.Unlock()
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := t.subscribe(ctx, conn, apply); err != nil {
		return err
	}
	if t.channels.Chat {
		go t.heartbeat(conn, stop)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		t.handle(data, apply)
	}
}

func (t *LiveTransport) subscribe(ctx context.Context, conn *websocket.Conn, apply func(Update)) error {
	if t.channels.Chat {
		if err := t.write(conn, outFrame{Event: "joinProject", Data: t.opts.ProjectID}); err != nil {
			return err
		}
		if err := t.write(conn, outFrame{Event: "userJoined", Data: t.presence()}); err != nil {
			return err
		}
	}
	if t.channels.Board {
		if err := t.write(conn, outFrame{Event: "joinProjectSync", Data: t.opts.ProjectID}); err != nil {
			return err
		}
		cols, err := t.api.Board(ctx, t.opts.ProjectID)
		if err != nil {
			t.logger.Warn("initial board load failed", zap.Error(err))
		} else {
			apply(Update{Kind: UpdateBoard, Columns: cols})
		}
	}
	return nil
}

func (t *LiveTransport) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := t.write(conn, outFrame{Event: "heartbeat", Data: t.presence()}); err != nil {
				t.logger.Debug("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

func (t *LiveTransport) presence() presencePayload {
	return presencePayload{ProjectID: t.opts.ProjectID, UserEmail: t.opts.User, UserName: t.opts.UserName}
}

func (t *LiveTransport) handle(data []byte, apply func(Update)) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.logger.Warn("malformed frame", zap.Error(err))
		return
	}

	if f.Ack != "" && (f.Event == "ack" || f.Event == "error") {
		t.mu.Lock()
		ch, ok := t.pending[f.Ack]
		delete(t.pending, f.Ack)
		t.mu.Unlock()
		if ok {
			ch <- f
		}
		return
	}

	var err error
	switch f.Event {
	case "previousMessages", "newMessage":
		var msgs []domain.Message
		kind := UpdateHistory
		if f.Event == "newMessage" {
			kind = UpdateMessage
			var m domain.Message
			err = json.Unmarshal(f.Data, &m)
			msgs = []domain.Message{m}
		} else {
			err = json.Unmarshal(f.Data, &msgs)
		}
		if err == nil {
			apply(Update{Kind: kind, Messages: msgs})
		}
	case "usersOnline":
		var online []string
		if err = json.Unmarshal(f.Data, &online); err == nil {
			apply(Update{Kind: UpdateOnline, Online: online})
		}
	case "taskUpdated":
		var task board.Task
		if err = json.Unmarshal(f.Data, &task); err == nil {
			apply(Update{Kind: UpdateTask, Task: task})
		}
	case "boardUpdated":
		var cols board.Columns
		if err = json.Unmarshal(f.Data, &cols); err == nil {
			apply(Update{Kind: UpdateBoard, Columns: cols})
		}
	case "error":
		t.logger.Warn("server error", zap.ByteString("data", f.Data))
	default:
		t.logger.Debug("ignored event", zap.String("event", f.Event))
	}
	if err != nil {
		t.logger.Warn("failed to decode event", zap.String("event", f.Event), zap.Error(err))
	}
}

func (t *LiveTransport) write(conn *websocket.Conn, f outFrame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (t *LiveTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// request sends an event with an ack id and waits for the server's ack or
// error reply.
func (t *LiveTransport) request(ctx context.Context, event string, data, out any) error {
	conn := t.current()
	if conn == nil {
		return ErrNotConnected
	}

	id := t.newID()
	ch := make(chan frame, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(conn, outFrame{Event: event, Data: data, Ack: id}); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	timer := time.NewTimer(t.opts.AckTimeout)
	defer timer.Stop()

	select {
	case f, ok := <-ch:
		if !ok {
			return ErrConnectionLost
		}
		if f.Event == "error" {
			remote := &RemoteError{Event: event}
			_ = json.Unmarshal(f.Data, remote)
			return remote
		}
		if out != nil {
			return json.Unmarshal(f.Data, out)
		}
		return nil
	case <-timer.C:
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage sends the message over the socket and waits for the ack.
// Before the socket is up the message is posted over HTTP instead.
func (t *LiveTransport) SendMessage(ctx context.Context, req SendRequest) (domain.Message, error) {
	if !t.Connected() {
		return t.api.PostMessage(ctx, req)
	}
	var msg domain.Message
	if err := t.request(ctx, "sendMessage", req, &msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// UpdateTask persists the status over HTTP and relays the stored task to the
// other sockets of the board.
func (t *LiveTransport) UpdateTask(ctx context.Context, task board.Task) (board.Task, error) {
	saved, err := t.api.MoveTask(ctx, t.opts.ProjectID, task.ID, task.Status)
	if err != nil {
		return board.Task{}, err
	}
	if conn := t.current(); conn != nil {
		if err := t.write(conn, outFrame{Event: "updateTask", Data: taskPayload{ProjectID: t.opts.ProjectID, Task: saved}}); err != nil {
			t.logger.Warn("failed to relay task update", zap.String("task", saved.ID), zap.Error(err))
		}
	}
	return saved, nil
}

// Close closes the socket if open.
func (t *LiveTransport) Close() error {
	if conn := t.current(); conn != nil {
		return conn.Close()
	}
	return nil
}
