package model

import (
	"time"
)

// Exchange is one completed request/answer pair, recorded for replay.
type Exchange struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Plan      string         `json:"plan"`
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	Route     Route          `json:"route,omitempty"`
	Query     string         `json:"query,omitempty"`
	Attempts  []QueryAttempt `json:"attempts,omitempty"`
	RowCount  int            `json:"row_count"`
	Kind      ErrorKind      `json:"error_kind,omitempty"`
	Counted   bool           `json:"counted"`
	CreatedAt time.Time      `json:"created_at"`

	// Sequence is the stream sequence, populated on read.
	Sequence uint64 `json:"sequence,omitempty"`
}

// Messages expands the exchange into its user and assistant turns.
func (e *Exchange) Messages() []Message {
	return []Message{
		{Role: RoleUser, Text: e.Question, Timestamp: e.CreatedAt},
		{Role: RoleAssistant, Text: e.Answer, Timestamp: e.CreatedAt},
	}
}

// HistoryResponse is the body of GET /history/{session_id}.
type HistoryResponse struct {
	Session      *ConversationSession `json:"session"`
	LastSequence uint64               `json:"last_sequence"`
	HasMore      bool                 `json:"has_more"`
}
