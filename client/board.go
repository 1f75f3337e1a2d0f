package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/luisnisc/flowpilot-sub000/domain/board"
	"go.uber.org/zap"
)

// BoardClient keeps a project's Kanban board in sync.
type BoardClient struct {
	opts   Options
	sync   *syncer
	logger *zap.Logger

	mu    sync.Mutex
	board *board.Board
}

// NewBoardClient creates a board client for opts.ProjectID.
func NewBoardClient(opts Options) (*BoardClient, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	c := &BoardClient{board: board.New()}
	s, err := newSyncer(opts, Channels{Board: true}, c.apply)
	if err != nil {
		return nil, err
	}
	c.sync = s
	c.opts = s.opts
	c.logger = s.logger.With(zap.String("client", "board"), zap.String("project", opts.ProjectID))
	return c, nil
}

// Start begins syncing in the background.
func (c *BoardClient) Start(ctx context.Context) {
	c.sync.start(ctx)
}

// Close stops syncing.
func (c *BoardClient) Close() error {
	return c.sync.stop()
}

// Connected reports whether the current transport reaches the server.
func (c *BoardClient) Connected() bool {
	return c.sync.connected()
}

// Polling reports whether the client has fallen back to polling.
func (c *BoardClient) Polling() bool {
	return c.sync.isPolling()
}

// Columns returns the board in its wire shape.
func (c *BoardClient) Columns() board.Columns {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Columns()
}

// UpdateTask moves the task locally, persists it and shares it with other
// viewers. The local move is rolled back when persisting fails.
func (c *BoardClient) UpdateTask(ctx context.Context, task board.Task) (board.Task, error) {
	if task.ID == "" {
		return board.Task{}, fmt.Errorf("task id is required")
	}

	c.mu.Lock()
	prev, existed := c.board.Get(task.ID)
	c.board.Apply(task)
	c.mu.Unlock()

	saved, err := c.sync.current().UpdateTask(ctx, task)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if existed {
			c.board.Apply(prev)
		} else {
			c.board.Remove(task.ID)
		}
		c.logger.Warn("task update failed, rolled back", zap.String("task", task.ID), zap.Error(err))
		return board.Task{}, err
	}
	c.board.Apply(saved)
	return saved, nil
}

func (c *BoardClient) apply(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch u.Kind {
	case UpdateBoard:
		c.board.Replace(u.Columns)
	case UpdateTask:
		if _, known := c.board.Apply(u.Task); !known {
			c.logger.Warn("task has unknown status, showing it in backlog",
				zap.String("task", u.Task.ID), zap.String("status", string(u.Task.Status)))
		}
	}
}
