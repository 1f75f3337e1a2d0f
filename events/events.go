// Package events declares the typed events exchanged between modules over the
// mono event bus.
package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
	"github.com/luisnisc/flowpilot-sub000/domain/board"
)

// MessageSentEvent is emitted after a chat message has been persisted.
type MessageSentEvent struct {
	MessageID string    `json:"message_id"`
	ProjectID string    `json:"project_id"`
	User      string    `json:"user"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskUpdatedEvent is emitted when a task is created or changes status
// through the REST API.
type TaskUpdatedEvent struct {
	ProjectID string     `json:"project_id"`
	Task      board.Task `json:"task"`
	Timestamp time.Time  `json:"timestamp"`
}

// BoardReplacedEvent is emitted when a whole board is written through the REST
// API.
type BoardReplacedEvent struct {
	ProjectID string        `json:"project_id"`
	Columns   board.Columns `json:"columns"`
	Timestamp time.Time     `json:"timestamp"`
}

// Event definitions.
var (
	MessageSentV1   = helper.EventDefinition[MessageSentEvent]("chat", "MessageSent", "v1")
	TaskUpdatedV1   = helper.EventDefinition[TaskUpdatedEvent]("task", "TaskUpdated", "v1")
	BoardReplacedV1 = helper.EventDefinition[BoardReplacedEvent]("task", "BoardReplaced", "v1")
)
