package middleware

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/playintel/market-analyst/internal/model"
)

// Request bounds.
const (
	MaxQuestionLength = 2000
	MaxHistoryLength  = 100
	MaxMessageLength  = 20000
	MaxIDLength       = 128
)

// ValidateQuestion validates the question text.
func ValidateQuestion(q string) error {
	if len(q) == 0 {
		return errors.New("question cannot be empty")
	}
	if utf8.RuneCountInString(q) > MaxQuestionLength {
		return errors.New("question exceeds maximum length")
	}
	if !utf8.ValidString(q) {
		return errors.New("question must be valid UTF-8")
	}
	return nil
}

// ValidateHistory validates client-replayed conversation history.
func ValidateHistory(history []model.HistoryMessage) error {
	if len(history) > MaxHistoryLength {
		return errors.New("conversation history exceeds maximum length")
	}
	for i, m := range history {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			return fmt.Errorf("conversation history item %d has invalid role", i)
		}
		if len(m.Content) > MaxMessageLength || !utf8.ValidString(m.Content) {
			return fmt.Errorf("conversation history item %d has invalid content", i)
		}
	}
	return nil
}

// ValidateID validates an opaque identifier such as a user or session ID.
func ValidateID(name, id string) error {
	if len(id) == 0 {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s exceeds maximum length", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s must be valid UTF-8", name)
	}
	return nil
}

// ValidateChatRequest validates a decoded POST /chat body.
func ValidateChatRequest(req *model.ChatRequest) error {
	if err := ValidateQuestion(req.Question); err != nil {
		return err
	}
	if err := ValidateHistory(req.ConversationHistory); err != nil {
		return err
	}
	if err := ValidateID("user_id", req.UserID); err != nil {
		return err
	}
	if req.SessionID != "" {
		if err := ValidateID("session_id", req.SessionID); err != nil {
			return err
		}
	}
	return nil
}
