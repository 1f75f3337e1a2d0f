package chat

import (
	"sort"
	"strings"
	"time"
)

// Message is a chat message posted in a project room.
type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Author    string    `json:"user"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"timestamp"`
}

// NormalizeIdentity returns the canonical form of a user identity (email).
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// SameMessage reports whether a and b describe the same message: equal ids, or
// equal author, body and timestamp.
func SameMessage(a, b Message) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.Author == b.Author && a.Body == b.Body && a.CreatedAt.Equal(b.CreatedAt)
}

// Merge appends the messages of incoming that are not already in existing and
// returns the result ordered by timestamp. Existing order is kept for ties.
func Merge(existing, incoming []Message) []Message {
	out := make([]Message, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	for _, m := range incoming {
		if !contains(out, m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func contains(list []Message, m Message) bool {
	for _, existing := range list {
		if SameMessage(existing, m) {
			return true
		}
	}
	return false
}
