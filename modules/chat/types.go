package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
)

// Validation constants
const (
	MaxUserLength      = 254
	MaxProjectIDLength = 128
	MaxMessageLength   = 5000
)

// Service names registered by the chat module.
const (
	ServiceSendMessage    = "send-message"
	ServiceRecentMessages = "recent-messages"
	ServiceMessagesAfter  = "messages-after"
)

// Validation errors
var (
	ErrProjectIDEmpty   = errors.New("project id cannot be empty")
	ErrProjectIDTooLong = errors.New("project id exceeds maximum length")
	ErrUserEmpty        = errors.New("user cannot be empty")
	ErrUserTooLong      = errors.New("user exceeds maximum length")
	ErrMessageEmpty     = errors.New("message content cannot be empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrMessageInvalid   = errors.New("message contains invalid characters")
)

// IsValidationError reports whether err is one of the validation errors.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrProjectIDEmpty, ErrProjectIDTooLong,
		ErrUserEmpty, ErrUserTooLong,
		ErrMessageEmpty, ErrMessageTooLong, ErrMessageInvalid,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ValidateProjectID validates a project identifier.
func ValidateProjectID(projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return ErrProjectIDEmpty
	}
	if len(projectID) > MaxProjectIDLength {
		return ErrProjectIDTooLong
	}
	return nil
}

// ValidateUser validates the author identity of a message.
func ValidateUser(user string) error {
	if strings.TrimSpace(user) == "" {
		return ErrUserEmpty
	}
	if len(user) > MaxUserLength {
		return ErrUserTooLong
	}
	return nil
}

// ValidateMessage validates a message body.
func ValidateMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrMessageEmpty
	}
	if len(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrMessageInvalid
	}
	return nil
}

// ValidateSend validates every field of a send request.
func ValidateSend(req SendMessageRequest) error {
	if err := ValidateProjectID(req.ProjectID); err != nil {
		return err
	}
	if err := ValidateUser(req.User); err != nil {
		return err
	}
	return ValidateMessage(req.Message)
}

// SendMessageRequest is the wire shape of a sendMessage event and of
// POST /messages. Timestamp is optional.
type SendMessageRequest struct {
	ProjectID string     `json:"projectId"`
	User      string     `json:"user"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// SendMessageResponse carries the persisted message.
type SendMessageResponse struct {
	Message domain.Message `json:"message"`
}

// RecentMessagesRequest asks for the latest messages of a project.
type RecentMessagesRequest struct {
	ProjectID string `json:"projectId"`
}

// MessagesAfterRequest asks for the messages of a project newer than After.
type MessagesAfterRequest struct {
	ProjectID string    `json:"projectId"`
	After     time.Time `json:"after"`
}

// MessagesResponse is a list of messages in ascending time order.
type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}
