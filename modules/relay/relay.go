package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"github.com/luisnisc/flowpilot-sub000/modules/auth"
	"github.com/luisnisc/flowpilot-sub000/modules/broadcast"
	"github.com/luisnisc/flowpilot-sub000/modules/chat"
	"github.com/luisnisc/flowpilot-sub000/modules/presence"
	"golang.org/x/time/rate"
)

// Rate limiting defaults for inbound socket events.
const (
	eventsPerSecond = 10
	burstSize       = 20
)

const handlerTimeout = 10 * time.Second

// Conn is a websocket connection the relay reads from and writes to.
type Conn interface {
	broadcast.Conn
	ReadMessage() (messageType int, p []byte, err error)
}

// Config tunes a Relay. Zero values select the defaults.
type Config struct {
	EventsPerSecond float64
	Burst           int
	QueueSize       int
	PingInterval    time.Duration
}

// Relay dispatches socket events. One Relay serves every connection of the
// process.
type Relay struct {
	hub     *broadcast.Hub
	tracker *presence.Tracker
	chat    chat.ChatPort
	logger  types.Logger
	cfg     Config
	locks   *projectLocks
}

// New creates a relay and subscribes it to presence changes so that every
// transition is announced in the project's presence room.
func New(hub *broadcast.Hub, tracker *presence.Tracker, chatPort chat.ChatPort, logger types.Logger, cfg Config) *Relay {
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = eventsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = burstSize
	}
	r := &Relay{
		hub:     hub,
		tracker: tracker,
		chat:    chatPort,
		logger:  logger,
		cfg:     cfg,
		locks:   newProjectLocks(),
	}
	tracker.AddNotifier(presence.NotifierFunc(r.presenceChanged))
	return r
}

// Session is the relay state of one connection.
type Session struct {
	client  *broadcast.Client
	claims  *auth.JWTClaims
	limiter *rate.Limiter
}

// ID returns the connection id.
func (s *Session) ID() string {
	return s.client.ID
}

// Open registers conn with the hub and starts its write pump. claims is nil
// when authentication is disabled.
func (r *Relay) Open(conn broadcast.Conn, claims *auth.JWTClaims) *Session {
	s := &Session{
		client:  broadcast.NewClient(uuid.New().String(), conn, r.cfg.QueueSize),
		claims:  claims,
		limiter: rate.NewLimiter(rate.Limit(r.cfg.EventsPerSecond), r.cfg.Burst),
	}
	r.hub.Register(s.client)
	go s.client.WritePump(r.cfg.PingInterval)
	r.logger.Info("WebSocket connected", "clientID", s.ID())
	return s
}

// Close leaves every room and drops the connection's presence. It returns
// once the write pump has stopped, so the connection may be released.
func (r *Relay) Close(s *Session) {
	r.hub.Unregister(s.client)
	s.client.Close()
	<-s.client.PumpDone()
	changed := r.tracker.Disconnect(s.ID())
	r.logger.Info("WebSocket disconnected", "clientID", s.ID(), "projects", len(changed))
}

// Serve runs the read loop of conn until it fails or ctx is done.
func (r *Relay) Serve(ctx context.Context, conn Conn, claims *auth.JWTClaims) {
	s := r.Open(conn, claims)
	defer r.Close(s)

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				r.logger.Warn("WebSocket read failed", "clientID", s.ID(), "error", err)
			}
			return
		}
		r.Handle(ctx, s, data)
	}
}

// Handle processes one inbound frame. Failures are reported to the sender as
// an error event and never end the session.
func (r *Relay) Handle(ctx context.Context, s *Session, data []byte) {
	in, err := decodeFrame(data)
	if err != nil {
		r.sendError(s, "", "", err)
		return
	}
	if !s.limiter.Allow() {
		r.sendError(s, in.Event, in.Ack, ErrRateLimited)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	if err := r.dispatch(ctx, s, in); err != nil {
		r.logger.Debug("Event rejected", "clientID", s.ID(), "event", in.Event, "error", err)
		r.sendError(s, in.Event, in.Ack, err)
	}
}

func (r *Relay) dispatch(ctx context.Context, s *Session, in inbound) error {
	switch in.Event {
	case EventJoinProject:
		return r.joinProject(ctx, s, in)
	case EventLeaveProject:
		return r.leave(s, broadcast.NamespaceChat, in)
	case EventSendMessage:
		return r.sendMessage(ctx, s, in)
	case EventUserJoined, EventHeartbeat:
		return r.touchPresence(s, in)
	case EventUserLeft:
		return r.userLeft(s, in)
	case EventJoinProjectSync:
		return r.join(s, broadcast.NamespaceBoard, in)
	case EventLeaveProjectSync:
		return r.leave(s, broadcast.NamespaceBoard, in)
	case EventUpdateTask:
		return r.updateTask(s, in)
	case EventUpdateBoard:
		return r.updateBoard(s, in)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, in.Event)
	}
}

func (r *Relay) joinProject(ctx context.Context, s *Session, in inbound) error {
	projectID, err := decodeProjectID(in.Data)
	if err != nil {
		return err
	}
	if err := r.hub.Join(broadcast.NamespaceChat, projectID, s.client); err != nil {
		return err
	}

	history, err := r.chat.RecentMessages(ctx, projectID)
	if err != nil {
		r.logger.Error("Failed to load history", "projectID", projectID, "error", err)
	}
	if history == nil {
		history = []domain.Message{}
	}
	r.send(s, broadcast.Envelope{Event: EventPreviousMessages, Data: history})
	r.ack(s, in.Ack, projectID)
	return nil
}

func (r *Relay) join(s *Session, ns broadcast.Namespace, in inbound) error {
	projectID, err := decodeProjectID(in.Data)
	if err != nil {
		return err
	}
	if err := r.hub.Join(ns, projectID, s.client); err != nil {
		return err
	}
	r.ack(s, in.Ack, projectID)
	return nil
}

func (r *Relay) leave(s *Session, ns broadcast.Namespace, in inbound) error {
	projectID, err := decodeProjectID(in.Data)
	if err != nil {
		return err
	}
	r.hub.Leave(ns, projectID, s.client)
	r.ack(s, in.Ack, projectID)
	return nil
}

func (r *Relay) sendMessage(ctx context.Context, s *Session, in inbound) error {
	var req chat.SendMessageRequest
	if err := decodePayload(in.Data, &req); err != nil {
		return err
	}
	if err := auth.CheckIdentity(s.claims, req.User); err != nil {
		return err
	}

	msg, err := r.SendMessage(ctx, req)
	if err != nil {
		return err
	}
	r.ack(s, in.Ack, msg)
	return nil
}

// SendMessage persists a message and broadcasts newMessage to the project's
// chat room, sender included. Sends for one project are sequenced so
// broadcast order equals persistence order.
func (r *Relay) SendMessage(ctx context.Context, req chat.SendMessageRequest) (domain.Message, error) {
	if err := chat.ValidateSend(req); err != nil {
		return domain.Message{}, err
	}

	unlock := r.locks.lock(req.ProjectID)
	defer unlock()

	msg, err := r.chat.SendMessage(ctx, req)
	if err != nil {
		r.logger.Error("Failed to persist message", "projectID", req.ProjectID, "error", err)
		return domain.Message{}, err
	}
	n := r.hub.Broadcast(broadcast.NamespaceChat, msg.ProjectID, EventNewMessage, msg, nil)
	r.logger.Debug("Message relayed", "projectID", msg.ProjectID, "messageID", msg.ID, "recipients", n)
	return msg, nil
}

func (r *Relay) touchPresence(s *Session, in inbound) error {
	var p PresencePayload
	if err := decodePayload(in.Data, &p); err != nil {
		return err
	}
	if p.ProjectID == "" {
		return ErrMissingProjectID
	}
	if domain.NormalizeIdentity(p.UserEmail) == "" {
		return presence.ErrIdentityRequired
	}
	if err := auth.CheckIdentity(s.claims, p.UserEmail); err != nil {
		return err
	}

	// The socket must be in the room before the tracker announces the change.
	if err := r.hub.Join(broadcast.NamespacePresence, p.ProjectID, s.client); err != nil {
		return err
	}
	var online []string
	var err error
	if in.Event == EventUserJoined {
		online, err = r.tracker.Join(p.ProjectID, s.ID(), p.UserEmail)
	} else {
		online, err = r.tracker.Heartbeat(p.ProjectID, s.ID(), p.UserEmail)
	}
	if err != nil {
		return err
	}
	r.ack(s, in.Ack, online)
	return nil
}

func (r *Relay) userLeft(s *Session, in inbound) error {
	var p PresencePayload
	if err := decodePayload(in.Data, &p); err != nil {
		return err
	}
	if p.ProjectID == "" {
		return ErrMissingProjectID
	}
	online, _ := r.tracker.Leave(p.ProjectID, s.ID())
	r.hub.Leave(broadcast.NamespacePresence, p.ProjectID, s.client)
	r.ack(s, in.Ack, online)
	return nil
}

func (r *Relay) updateTask(s *Session, in inbound) error {
	var p TaskPayload
	if err := decodePayload(in.Data, &p); err != nil {
		return err
	}
	if p.ProjectID == "" {
		return ErrMissingProjectID
	}
	if p.Task.ID == "" {
		return ErrMissingTaskID
	}
	if _, ok := board.ColumnFor(p.Task.Status); !ok {
		r.logger.Warn("Relaying task with unknown status", "projectID", p.ProjectID, "taskID", p.Task.ID, "status", p.Task.Status)
	}

	n := r.hub.Broadcast(broadcast.NamespaceBoard, p.ProjectID, EventTaskUpdated, p.Task, s.client)
	r.logger.Debug("Task update relayed", "projectID", p.ProjectID, "taskID", p.Task.ID, "recipients", n)
	r.ack(s, in.Ack, p.Task)
	return nil
}

func (r *Relay) updateBoard(s *Session, in inbound) error {
	var p BoardPayload
	if err := decodePayload(in.Data, &p); err != nil {
		return err
	}
	if p.ProjectID == "" {
		return ErrMissingProjectID
	}

	cols := board.FromColumns(p.Columns).Columns()
	n := r.hub.Broadcast(broadcast.NamespaceBoard, p.ProjectID, EventBoardUpdated, cols, s.client)
	r.logger.Debug("Board update relayed", "projectID", p.ProjectID, "recipients", n)
	r.ack(s, in.Ack, cols)
	return nil
}

// presenceChanged runs under the tracker lock; Broadcast only takes the hub
// lock, which never calls back into the tracker.
func (r *Relay) presenceChanged(projectID string, online []string) {
	r.hub.Broadcast(broadcast.NamespacePresence, projectID, EventUsersOnline, online, nil)
}

func (r *Relay) ack(s *Session, ackID string, data any) {
	if ackID == "" {
		return
	}
	r.send(s, broadcast.Envelope{Event: EventAck, Data: data, Ack: ackID})
}

func (r *Relay) sendError(s *Session, event, ackID string, err error) {
	r.send(s, broadcast.Envelope{
		Event: EventError,
		Data:  ErrorPayload{Event: event, Message: err.Error()},
		Ack:   ackID,
	})
}

func (r *Relay) send(s *Session, env broadcast.Envelope) {
	if err := r.hub.Send(s.client, env); err != nil && !errors.Is(err, broadcast.ErrClientClosed) {
		r.logger.Warn("Failed to send to client", "clientID", s.ID(), "event", env.Event, "error", err)
	}
}
