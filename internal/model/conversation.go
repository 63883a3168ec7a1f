// Package model defines data structures for the market analyst.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryMessage is one client-replayed turn of conversation history.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message is one immutable turn inside a session.
type Message struct {
	Role      Role         `json:"role"`
	Text      string       `json:"text"`
	Timestamp time.Time    `json:"timestamp"`
	Result    *QueryResult `json:"result,omitempty"`
}

// ConversationSession represents one chat thread.
type ConversationSession struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an empty session.
func NewSession(id string, now time.Time) *ConversationSession {
	return &ConversationSession{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message at the end of the session. Messages are never
// reordered or edited once appended.
func (s *ConversationSession) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	if msg.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = msg.Timestamp
	}
}

// RecentHistory returns at most the last turns*2 messages of history.
// A turn is one user message plus one assistant reply.
func RecentHistory(history []HistoryMessage, turns int) []HistoryMessage {
	if turns <= 0 {
		return nil
	}
	limit := turns * 2
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

// LastAssistantMessage returns the most recent assistant turn, if any.
func LastAssistantMessage(history []HistoryMessage) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleAssistant {
			return history[i].Content, true
		}
	}
	return "", false
}
