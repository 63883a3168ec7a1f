package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playintel/market-analyst/internal/llm"
	"github.com/playintel/market-analyst/internal/llm/llmtest"
	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/pkg/logger"
)

type labeled struct {
	question string
	route    model.Route
}

var corpus = []labeled{
	{"hello", model.RouteConversational},
	{"thanks, that was helpful!", model.RouteConversational},
	{"what can you help me with?", model.RouteConversational},
	{"how do you work?", model.RouteConversational},
	{"why do your answers use bullet points?", model.RouteConversational},
	{"what do you mean by that?", model.RouteConversational},
	{"should I add multiplayer to my puzzle game?", model.RouteConversational},
	{"what's BlueTwelve Studio's website?", model.RouteConversational},
	{"how do I market my game on a small budget?", model.RouteConversational},
	{"good morning!", model.RouteConversational},
	{"What is the average playtime for games priced at $20?", model.RouteAnalytical},
	{"games priced at $20, average hours?", model.RouteAnalytical},
	{"top 10 games by owners", model.RouteAnalytical},
	{"show me Valve's games", model.RouteAnalytical},
	{"compare roguelike deckbuilders with farming sims", model.RouteAnalytical},
	{"which genre has the highest success rate?", model.RouteAnalytical},
	{"how many horror games are there?", model.RouteAnalytical},
	{"what rating do I need to compete in the $20-30 tier?", model.RouteAnalytical},
	{"should I price my roguelike at $15 or $20?", model.RouteAnalytical},
	{"what's the median owner count for cozy games?", model.RouteAnalytical},
	{"list developers with more than 5 games", model.RouteAnalytical},
	{"is the metroidvania market saturated?", model.RouteAnalytical},
}

// labelFor is a deterministic stand-in for the model: it answers from the
// question line of the rendered prompt only.
func labelFor(req *llm.CompletionRequest) llmtest.Reply {
	text := req.Messages[len(req.Messages)-1].Content
	for _, c := range corpus {
		if strings.Contains(text, `Question: "`+c.question+`"`) {
			return llmtest.Reply{Content: strings.ToUpper(string(c.route))}
		}
	}
	return llmtest.Reply{Content: "not sure"}
}

func TestClassifyCorpusIsConsistent(t *testing.T) {
	require.GreaterOrEqual(t, len(corpus), 20)

	fake := llmtest.NewFunc(labelFor)
	r := New(fake, llm.Models{Fast: "fast"}, 10, logger.NewNop())
	history := []model.HistoryMessage{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "Hi, what are you working on?"},
	}

	for _, c := range corpus {
		t.Run(c.question, func(t *testing.T) {
			var prompts []string
			for i := 0; i < 5; i++ {
				d, err := r.Classify(context.Background(), c.question, history)
				require.NoError(t, err)
				assert.Equal(t, c.route, d.Route)
				assert.False(t, d.Ambiguous)
			}
			for _, req := range fake.Requests() {
				if strings.Contains(req.Messages[0].Content, `"`+c.question+`"`) {
					prompts = append(prompts, req.Messages[0].Content)
					assert.Zero(t, req.Temperature)
					assert.Equal(t, "fast", req.Model)
				}
			}
			require.Len(t, prompts, 5)
			for _, p := range prompts[1:] {
				assert.Equal(t, prompts[0], p, "same input must produce the same prompt")
			}
		})
	}
}

func TestClassifyAmbiguousDefaultsToAnalytical(t *testing.T) {
	fake := llmtest.New().Script(llm.StageRoute, "It could be either.")
	r := New(fake, llm.Models{Fast: "fast"}, 10, logger.NewNop())

	d, err := r.Classify(context.Background(), "tell me about roguelikes", nil)
	require.NoError(t, err)
	assert.Equal(t, model.RouteAnalytical, d.Route)
	assert.True(t, d.Ambiguous)
}

func TestClassifyPropagatesModelErrors(t *testing.T) {
	fake := llmtest.New().Fail(llm.StageRoute, context.DeadlineExceeded)
	r := New(fake, llm.Models{Fast: "fast"}, 10, logger.NewNop())

	_, err := r.Classify(context.Background(), "hello", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		reply string
		route model.Route
		ok    bool
	}{
		{"CONVERSATIONAL", model.RouteConversational, true},
		{"analytical.", model.RouteAnalytical, true},
		{"Label: Conversational", model.RouteConversational, true},
		{`{"needs_database": false, "reasoning": "greeting"}`, model.RouteConversational, true},
		{`{"needs_database": true}`, model.RouteAnalytical, true},
		{"CONVERSATIONAL or ANALYTICAL", model.RouteAnalytical, false},
		{"", model.RouteAnalytical, false},
		{`{"reasoning": "x"}`, model.RouteAnalytical, false},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			route, ok := ParseLabel(tt.reply)
			assert.Equal(t, tt.route, route)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
