// Package router decides whether a question needs the analytic store.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/playintel/market-analyst/internal/llm"
	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/internal/prompt"
	"github.com/playintel/market-analyst/pkg/logger"
	"github.com/playintel/market-analyst/pkg/metrics"
)

const system = `You classify questions sent to a Steam market assistant for indie game developers. Reply with exactly one word: CONVERSATIONAL or ANALYTICAL.`

var classifyTemplate = prompt.New("route", `
CONVERSATIONAL: greetings, thanks, feedback, questions about what the assistant can do or how it formats answers, clarifications of a previous answer, general game development advice that needs no market figures, and requests for external information such as a studio's website, contact details, social media or news.

ANALYTICAL: anything that needs a fact, count, average, total, comparison, ranking or list drawn from Steam market data about games, developers, publishers, prices, tags, genres, owners, reviews or playtime.

If unsure, answer ANALYTICAL.

Recent conversation:
{{.History}}

Question: "{{.Question}}"

Label:`, prompt.SlotQuestion, prompt.SlotHistory)

// Decision is a routing outcome.
type Decision struct {
	Route model.Route
	// Ambiguous is set when the model reply could not be parsed and the
	// analytical default was applied.
	Ambiguous bool
}

// Router classifies questions with a single low-temperature model call.
type Router struct {
	client       llm.Client
	model        string
	historyTurns int
	logger       *logger.Logger
}

// New creates a router using the fast model tier.
func New(client llm.Client, models llm.Models, historyTurns int, log *logger.Logger) *Router {
	return &Router{
		client:       client,
		model:        models.Fast,
		historyTurns: historyTurns,
		logger:       log.Named("router"),
	}
}

// Classify returns the route for question in the context of history. Model
// errors are returned; unreadable replies default to Analytical.
func (r *Router) Classify(ctx context.Context, question string, history []model.HistoryMessage) (Decision, error) {
	text, err := classifyTemplate.Render(prompt.Values{
		prompt.SlotQuestion: question,
		prompt.SlotHistory:  prompt.FormatHistory(history, r.historyTurns),
	})
	if err != nil {
		return Decision{}, err
	}

	req := llm.UserPrompt(llm.StageRoute, r.model, system, text)
	req.MaxTokens = 16
	req.Temperature = 0

	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return Decision{}, fmt.Errorf("classify: %w", err)
	}

	route, ok := ParseLabel(resp.Content)
	d := Decision{Route: route, Ambiguous: !ok}
	if d.Ambiguous {
		r.logger.Info("ambiguous route, defaulting to analytical", zap.Int("reply_len", len(resp.Content)))
	}
	metrics.RouteDecisions.WithLabelValues(string(d.Route), strconv.FormatBool(d.Ambiguous)).Inc()
	return d, nil
}

var labelPattern = regexp.MustCompile(`(?i)\b(conversational|analytical)\b`)

// ParseLabel extracts the route from a model reply. It accepts a bare label
// or a JSON object with needs_database. Replies naming both labels, or
// neither, are ambiguous and resolve to Analytical.
func ParseLabel(reply string) (model.Route, bool) {
	reply = strings.TrimSpace(reply)

	if strings.HasPrefix(reply, "{") {
		var v struct {
			NeedsDatabase *bool `json:"needs_database"`
		}
		if err := json.Unmarshal([]byte(reply), &v); err == nil && v.NeedsDatabase != nil {
			if *v.NeedsDatabase {
				return model.RouteAnalytical, true
			}
			return model.RouteConversational, true
		}
	}

	matches := labelPattern.FindAllString(reply, -1)
	seen := map[string]bool{}
	for _, m := range matches {
		seen[strings.ToLower(m)] = true
	}
	switch {
	case len(seen) != 1:
		return model.RouteAnalytical, false
	case seen["conversational"]:
		return model.RouteConversational, true
	default:
		return model.RouteAnalytical, true
	}
}
