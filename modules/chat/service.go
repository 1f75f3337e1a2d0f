package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"golang.org/x/sync/singleflight"
)

const defaultHistoryLimit = 50

// Service implements the chat operations on top of a Store.
type Service struct {
	store        Store
	historyLimit int
	now          func() time.Time
	sfGroup      singleflight.Group

	stampMu   sync.Mutex
	lastStamp map[string]time.Time // last stamp handed out per project
}

// NewService creates a chat service. historyLimit <= 0 selects 50.
func NewService(store Store, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Service{
		store:        store,
		historyLimit: historyLimit,
		now:          time.Now,
		lastStamp:    make(map[string]time.Time),
	}
}

// SendMessage validates and persists a message. The id and the timestamp are
// always assigned here; a client supplied timestamp is ignored so that
// polling cursors never skip a stored message.
func (s *Service) SendMessage(ctx context.Context, req SendMessageRequest) (domain.Message, error) {
	if err := ValidateSend(req); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		Author:    domain.NormalizeIdentity(req.User),
		Body:      req.Message,
		CreatedAt: s.stamp(req.ProjectID),
	}
	if err := s.store.Save(ctx, &msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// stamp returns the server time in milliseconds, strictly later than every
// earlier stamp of the same project.
func (s *Service) stamp(projectID string) time.Time {
	ts := s.now().UTC().Truncate(time.Millisecond)

	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	if last, ok := s.lastStamp[projectID]; ok && !ts.After(last) {
		ts = last.Add(time.Millisecond)
	}
	s.lastStamp[projectID] = ts
	return ts
}

// RecentMessages returns the latest messages of a project, oldest first.
// Concurrent loads of the same project share one query.
func (s *Service) RecentMessages(ctx context.Context, projectID string) ([]domain.Message, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	result, err, _ := s.sfGroup.Do(projectID, func() (any, error) {
		return s.store.Recent(ctx, projectID, s.historyLimit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", projectID, err)
	}

	shared := result.([]domain.Message)
	out := make([]domain.Message, len(shared))
	copy(out, shared)
	return out, nil
}

// MessagesAfter returns messages strictly newer than after, oldest first. A
// zero after behaves like RecentMessages.
func (s *Service) MessagesAfter(ctx context.Context, projectID string, after time.Time) ([]domain.Message, error) {
	if after.IsZero() {
		return s.RecentMessages(ctx, projectID)
	}
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	msgs, err := s.store.After(ctx, projectID, after, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to poll %s: %w", projectID, err)
	}
	return msgs, nil
}
