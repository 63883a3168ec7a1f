package interpret

import (
	"context"
	"fmt"
	"strings"

	"github.com/playintel/market-analyst/internal/llm"
	"github.com/playintel/market-analyst/internal/model"
)

const conversationSystem = `You help indie game developers succeed in the Steam market.
{{knowledge}}
Never:
- introduce yourself or mention credentials
- open with filler such as "Great question", "Certainly" or "I'd be happy to"
- say "Looking at the data", "Let me check" or "Based on my analysis"

Always:
- start with the answer or the key point
- address the reader as "you"
- give specific advice and be honest about risks
- format links as [Display Name](https://full-url), never as bare URLs

When asked what you can help with, say you cover Steam market figures, pricing strategy, genre analysis and general game development advice such as funding, marketing and launch timing, then ask what they are working on.`

const conversationFallback = "I can help with Steam market figures, pricing strategy, genre analysis and general game dev advice. What are you working on?"

// Responder answers questions that need no market figures.
type Responder struct {
	client       llm.Client
	model        string
	system       string
	historyTurns int
}

// NewResponder creates a conversational responder. knowledge, when set, is
// appended to the system prompt as background.
func NewResponder(client llm.Client, models llm.Models, knowledge string, historyTurns int) *Responder {
	kb := ""
	if k := strings.TrimSpace(knowledge); k != "" {
		kb = "\nIndustry background you can draw on:\n" + k + "\n"
	}
	return &Responder{
		client:       client,
		model:        models.Main,
		system:       strings.Replace(conversationSystem, "{{knowledge}}", kb, 1),
		historyTurns: historyTurns,
	}
}

// Respond answers question in the context of recent history.
func (r *Responder) Respond(ctx context.Context, question string, history []model.HistoryMessage) (string, error) {
	recent := model.RecentHistory(history, r.historyTurns)
	msgs := make([]llm.ChatMessage, 0, len(recent)+1)
	for _, m := range recent {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.ChatMessage{Role: "user", Content: question})

	resp, err := r.client.Complete(ctx, &llm.CompletionRequest{
		Model:       r.model,
		System:      r.system,
		Messages:    msgs,
		MaxTokens:   1500,
		Temperature: 0.5,
		Stage:       llm.StageConversation,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: %w", err)
	}

	answer := Sanitize(resp.Content, question)
	if answer == "" {
		return conversationFallback, nil
	}
	return answer, nil
}
