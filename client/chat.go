package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"go.uber.org/zap"
)

const placeholderPrefix = "tmp-"

// ChatClient keeps a project's messages and online list in sync.
type ChatClient struct {
	opts   Options
	sync   *syncer
	newID  func() string
	logger *zap.Logger

	mu       sync.Mutex
	messages []domain.Message
	online   []string
}

// NewChatClient creates a chat client for opts.ProjectID acting as opts.User.
func NewChatClient(opts Options) (*ChatClient, error) {
	if opts.ProjectID == "" || opts.User == "" {
		return nil, fmt.Errorf("project id and user are required")
	}
	newID, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	c := &ChatClient{
		opts:   opts,
		newID:  newID,
		online: []string{},
	}
	s, err := newSyncer(opts, Channels{Chat: true}, c.apply)
	if err != nil {
		return nil, err
	}
	c.sync = s
	c.opts = s.opts
	c.logger = s.logger.With(zap.String("client", "chat"), zap.String("project", opts.ProjectID))
	return c, nil
}

// Start begins syncing in the background.
func (c *ChatClient) Start(ctx context.Context) {
	c.sync.start(ctx)
}

// Close stops syncing.
func (c *ChatClient) Close() error {
	return c.sync.stop()
}

// Connected reports whether the current transport reaches the server.
func (c *ChatClient) Connected() bool {
	return c.sync.connected()
}

// Polling reports whether the client has fallen back to polling.
func (c *ChatClient) Polling() bool {
	return c.sync.isPolling()
}

// Messages returns a copy of the messages ordered by time, placeholders
// included.
func (c *ChatClient) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Online returns the identities online in the project.
func (c *ChatClient) Online() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.online...)
}

// Send shows the message at once under a temporary id, stores it and then
// swaps in the stored message. On failure the placeholder is removed. The
// server assigns the timestamp, so none is sent.
func (c *ChatClient) Send(ctx context.Context, body string) (domain.Message, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Message{}, fmt.Errorf("message cannot be empty")
	}

	placeholder := domain.Message{
		ID:        placeholderPrefix + c.newID(),
		ProjectID: c.opts.ProjectID,
		Author:    domain.NormalizeIdentity(c.opts.User),
		Body:      body,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	c.mu.Lock()
	c.messages = append(c.messages, placeholder)
	c.mu.Unlock()

	msg, err := c.sync.current().SendMessage(ctx, SendRequest{
		ProjectID: c.opts.ProjectID,
		User:      c.opts.User,
		Message:   body,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(placeholder.ID)
	if err != nil {
		c.logger.Warn("send failed", zap.Error(err))
		return domain.Message{}, err
	}
	c.messages = domain.Merge(c.messages, []domain.Message{msg})
	return msg, nil
}

func (c *ChatClient) removeLocked(id string) {
	for i, m := range c.messages {
		if m.ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

// claimPlaceholderLocked drops the oldest placeholder that m is the stored
// form of, so the stored message takes its place even if the send itself
// later fails.
func (c *ChatClient) claimPlaceholderLocked(m domain.Message) {
	for _, existing := range c.messages {
		if existing.ID == m.ID {
			return
		}
	}
	for _, existing := range c.messages {
		if strings.HasPrefix(existing.ID, placeholderPrefix) &&
			existing.Author == m.Author && existing.Body == m.Body {
			c.removeLocked(existing.ID)
			return
		}
	}
}

func (c *ChatClient) apply(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch u.Kind {
	case UpdateHistory:
		c.messages = domain.Merge(c.messages, u.Messages)
	case UpdateMessage:
		for _, m := range u.Messages {
			c.claimPlaceholderLocked(m)
		}
		c.messages = domain.Merge(c.messages, u.Messages)
	case UpdateOnline:
		if u.Online == nil {
			u.Online = []string{}
		}
		c.online = u.Online
	}
}
