// Package relay speaks the FlowPilot socket protocol. It turns inbound
// events from a connection into hub and tracker operations for the chat,
// presence and board channels of a project.
package relay

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/luisnisc/flowpilot-sub000/domain/board"
)

// Client-to-server events.
const (
	EventJoinProject      = "joinProject"
	EventLeaveProject     = "leaveProject"
	EventSendMessage      = "sendMessage"
	EventUserJoined       = "userJoined"
	EventHeartbeat        = "heartbeat"
	EventUserLeft         = "userLeft"
	EventJoinProjectSync  = "joinProjectSync"
	EventLeaveProjectSync = "leaveProjectSync"
	EventUpdateTask       = "updateTask"
	EventUpdateBoard      = "updateBoard"
)

// Server-to-client events.
const (
	EventPreviousMessages = "previousMessages"
	EventNewMessage       = "newMessage"
	EventUsersOnline      = "usersOnline"
	EventTaskUpdated      = "taskUpdated"
	EventBoardUpdated     = "boardUpdated"
	EventAck              = "ack"
	EventError            = "error"
)

var (
	// ErrMalformedFrame is returned for frames that are not a JSON envelope.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownEvent is returned for events the relay does not handle.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrRateLimited is returned when a socket sends events too fast.
	ErrRateLimited = errors.New("rate limit exceeded, please slow down")
	// ErrMissingProjectID is returned when a payload has no project id.
	ErrMissingProjectID = errors.New("projectId is required")
	// ErrMissingTaskID is returned when an updateTask payload has no task id.
	ErrMissingTaskID = errors.New("task id is required")
)

// inbound is a frame received from a client.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   string          `json:"ack,omitempty"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// PresencePayload is the data of userJoined, heartbeat and userLeft.
type PresencePayload struct {
	ProjectID string `json:"projectId"`
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName,omitempty"`
}

// TaskPayload is the data of updateTask.
type TaskPayload struct {
	ProjectID string     `json:"projectId"`
	Task      board.Task `json:"task"`
}

// BoardPayload is the data of updateBoard.
type BoardPayload struct {
	ProjectID string        `json:"projectId"`
	Columns   board.Columns `json:"columns"`
}

func decodeFrame(data []byte) (inbound, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
		return inbound{}, ErrMalformedFrame
	}
	return in, nil
}

// decodeProjectID accepts either a bare string or an object with a projectId
// field.
func decodeProjectID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			ProjectID string `json:"projectId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", ErrMalformedFrame
		}
		id = obj.ProjectID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingProjectID
	}
	return id, nil
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ErrMalformedFrame
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrMalformedFrame
	}
	return nil
}
