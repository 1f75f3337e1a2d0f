package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
)

// ChatPort is what the transport layer needs from the chat module.
type ChatPort interface {
	SendMessage(ctx context.Context, req SendMessageRequest) (domain.Message, error)
	RecentMessages(ctx context.Context, projectID string) ([]domain.Message, error)
	MessagesAfter(ctx context.Context, projectID string, after time.Time) ([]domain.Message, error)
}

var (
	_ ChatPort = (*ChatAdapter)(nil)
	_ ChatPort = (*Service)(nil)
)

// ChatAdapter implements ChatPort using the service container.
type ChatAdapter struct {
	container mono.ServiceContainer
}

// NewChatAdapter creates a new ChatAdapter.
func NewChatAdapter(container mono.ServiceContainer) *ChatAdapter {
	if container == nil {
		panic("chat: ServiceContainer is nil")
	}
	return &ChatAdapter{container: container}
}

// SendMessage persists a message through the send-message service. Input is
// validated locally so callers get typed validation errors.
func (a *ChatAdapter) SendMessage(ctx context.Context, req SendMessageRequest) (domain.Message, error) {
	if err := ValidateSend(req); err != nil {
		return domain.Message{}, err
	}

	var resp SendMessageResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceSendMessage,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return domain.Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	return resp.Message, nil
}

// RecentMessages returns the latest messages of a project.
func (a *ChatAdapter) RecentMessages(ctx context.Context, projectID string) ([]domain.Message, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	req := RecentMessagesRequest{ProjectID: projectID}
	var resp MessagesResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRecentMessages,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	return nonNil(resp.Messages), nil
}

// MessagesAfter returns the messages of a project newer than after.
func (a *ChatAdapter) MessagesAfter(ctx context.Context, projectID string, after time.Time) ([]domain.Message, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	req := MessagesAfterRequest{ProjectID: projectID, After: after}
	var resp MessagesResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceMessagesAfter,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to poll messages: %w", err)
	}
	return nonNil(resp.Messages), nil
}

func nonNil(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return []domain.Message{}
	}
	return msgs
}
