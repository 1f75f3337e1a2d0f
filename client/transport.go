package client

import (
	"context"

	"github.com/luisnisc/flowpilot-sub000/domain/board"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
)

// Mode identifies a transport.
type Mode string

const (
	ModeLive    Mode = "live"
	ModePolling Mode = "polling"
)

// UpdateKind tells which part of an Update is set.
type UpdateKind int

const (
	UpdateHistory UpdateKind = iota
	UpdateMessage
	UpdateOnline
	UpdateTask
	UpdateBoard
)

// Update is state pushed or pulled from the server.
type Update struct {
	Kind     UpdateKind
	Messages []domain.Message
	Online   []string
	Task     board.Task
	Columns  board.Columns
}

// Channels selects what a transport subscribes to.
type Channels struct {
	Chat  bool
	Board bool
}

// Transport carries a project's events between client and server.
type Transport interface {
	Mode() Mode
	// Run delivers updates to apply until ctx is done or the transport
	// fails. A polling transport only stops with ctx.
	Run(ctx context.Context, apply func(Update)) error
	// Connected reports whether the transport currently reaches the server.
	Connected() bool
	// SendMessage stores a chat message and returns it as persisted.
	SendMessage(ctx context.Context, req SendRequest) (domain.Message, error)
	// UpdateTask persists a task's status and shares it with other viewers.
	UpdateTask(ctx context.Context, task board.Task) (board.Task, error)
	Close() error
}
