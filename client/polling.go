package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/luisnisc/flowpilot-sub000/domain/board"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// PollingTransport reads the project's state over HTTP at a fixed interval.
type PollingTransport struct {
	api      *httpAPI
	opts     Options
	channels Channels
	logger   *zap.Logger

	cursor    time.Time
	connected atomic.Bool
}

var _ Transport = (*PollingTransport)(nil)

// NewPollingTransport creates a polling transport.
func NewPollingTransport(opts Options, channels Channels) *PollingTransport {
	opts = opts.withDefaults()
	return newPollingTransport(newHTTPAPI(opts), opts, channels)
}

func newPollingTransport(api *httpAPI, opts Options, channels Channels) *PollingTransport {
	return &PollingTransport{
		api:      api,
		opts:     opts,
		channels: channels,
		logger:   opts.Logger.With(zap.String("transport", string(ModePolling))),
	}
}

// Mode returns ModePolling.
func (t *PollingTransport) Mode() Mode {
	return ModePolling
}

// Connected reports whether the last poll succeeded.
func (t *PollingTransport) Connected() bool {
	return t.connected.Load()
}

// Run polls immediately and then every interval until ctx is done.
func (t *PollingTransport) Run(ctx context.Context, apply func(Update)) error {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		t.poll(ctx, apply)
		select {
		case <-ctx.Done():
			t.connected.Store(false)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *PollingTransport) poll(ctx context.Context, apply func(Update)) {
	ok := true
	if t.channels.Chat {
		msgs, err := t.api.Messages(ctx, t.opts.ProjectID, t.cursor)
		if err != nil {
			ok = false
			t.logPollError("messages", err)
		} else if len(msgs) > 0 {
			kind := UpdateMessage
			if t.cursor.IsZero() {
				kind = UpdateHistory
			}
			t.cursor = msgs[len(msgs)-1].CreatedAt
			apply(Update{Kind: kind, Messages: msgs})
		}

		online, err := t.api.Online(ctx, t.opts.ProjectID)
		if err != nil {
			ok = false
			t.logPollError("online", err)
		} else {
			apply(Update{Kind: UpdateOnline, Online: online})
		}
	}
	if t.channels.Board {
		cols, err := t.api.Board(ctx, t.opts.ProjectID)
		if err != nil {
			ok = false
			t.logPollError("board", err)
		} else {
			apply(Update{Kind: UpdateBoard, Columns: cols})
		}
	}
	t.connected.Store(ok)
}

func (t *PollingTransport) logPollError(what string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		t.logger.Debug("poll skipped, circuit open", zap.String("resource", what))
		return
	}
	t.logger.Warn("poll failed", zap.String("resource", what), zap.Error(err))
}

// SendMessage posts the message.
func (t *PollingTransport) SendMessage(ctx context.Context, req SendRequest) (domain.Message, error) {
	return t.api.PostMessage(ctx, req)
}

// UpdateTask persists the task's status. Live viewers learn about it from
// the server.
func (t *PollingTransport) UpdateTask(ctx context.Context, task board.Task) (board.Task, error) {
	return t.api.MoveTask(ctx, t.opts.ProjectID, task.ID, task.Status)
}

// Close is a no-op.
func (t *PollingTransport) Close() error {
	return nil
}
