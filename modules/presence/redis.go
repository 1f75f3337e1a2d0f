package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

const mirrorWriteTimeout = 2 * time.Second

// RedisMirror copies each project's online list to a Redis set so other
// processes can read it. Writes are coalesced per project and performed off
// the tracker lock.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger types.Logger

	mu      sync.Mutex
	pending map[string][]string
	wake    chan struct{}
}

// NewRedisMirror creates a mirror. Keys expire after ttl unless refreshed.
func NewRedisMirror(client *redis.Client, prefix string, ttl time.Duration, logger types.Logger) *RedisMirror {
	return &RedisMirror{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		logger:  logger,
		pending: make(map[string][]string),
		wake:    make(chan struct{}, 1),
	}
}

// Key returns the Redis key holding a project's online set.
func (r *RedisMirror) Key(projectID string) string {
	return fmt.Sprintf("%s:presence:%s", r.prefix, projectID)
}

// PresenceChanged records the latest list and wakes the writer.
func (r *RedisMirror) PresenceChanged(projectID string, online []string) {
	r.mu.Lock()
	r.pending[projectID] = append([]string(nil), online...)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run writes pending lists until ctx is cancelled, then flushes once more.
func (r *RedisMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background())
			return
		case <-r.wake:
			r.flush(ctx)
		}
	}
}

func (r *RedisMirror) flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string][]string)
	r.mu.Unlock()

	for projectID, online := range batch {
		if err := r.Write(ctx, projectID, online); err != nil {
			r.logger.Warn("Failed to mirror presence", "projectID", projectID, "error", err)
		}
	}
}

// Write replaces the stored set for projectID.
func (r *RedisMirror) Write(ctx context.Context, projectID string, online []string) error {
	ctx, cancel := context.WithTimeout(ctx, mirrorWriteTimeout)
	defer cancel()

	key := r.Key(projectID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(online) == 0 {
			return nil
		}
		members := make([]any, len(online))
		for i, id := range online {
			members[i] = id
		}
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write presence set: %w", err)
	}
	return nil
}

// Read returns the stored online set for projectID.
func (r *RedisMirror) Read(ctx context.Context, projectID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.Key(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence set: %w", err)
	}
	return members, nil
}
