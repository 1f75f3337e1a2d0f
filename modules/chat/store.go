package chat

import (
	"context"
	"time"

	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
)

// Store persists chat messages. Lists are returned oldest first; ties on the
// timestamp keep insertion order.
type Store interface {
	Save(ctx context.Context, msg *domain.Message) error
	Recent(ctx context.Context, projectID string, limit int) ([]domain.Message, error)
	After(ctx context.Context, projectID string, after time.Time, limit int) ([]domain.Message, error)
	Ping(ctx context.Context) error
	Close() error
	Driver() string
}
