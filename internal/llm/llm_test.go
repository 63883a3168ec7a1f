package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playintel/market-analyst/internal/llm"
	"github.com/playintel/market-analyst/internal/llm/llmtest"
	"github.com/playintel/market-analyst/pkg/logger"
)

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := llm.NewClient(context.Background(), "mistral", "key")
	require.Error(t, err)
}

func TestNewClientRequiresKey(t *testing.T) {
	for _, p := range []llm.Provider{llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGemini} {
		t.Run(string(p), func(t *testing.T) {
			_, err := llm.NewClient(context.Background(), p, "")
			assert.Error(t, err)
		})
	}
}

func TestInstrumentedPassesThrough(t *testing.T) {
	fake := llmtest.New().Script(llm.StageRoute, "ANALYTICAL")
	c := llm.NewInstrumented(fake, time.Second, logger.NewNop())

	resp, err := c.Complete(context.Background(), llm.UserPrompt(llm.StageRoute, "m", "", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "ANALYTICAL", resp.Content)
	assert.Equal(t, "fake", c.Name())
	assert.Equal(t, 1, fake.Calls(llm.StageRoute))
}

func TestInstrumentedAppliesTimeout(t *testing.T) {
	slow := llmtest.NewFunc(func(req *llm.CompletionRequest) llmtest.Reply {
		time.Sleep(50 * time.Millisecond)
		return llmtest.Reply{Content: "late"}
	})
	c := llm.NewInstrumented(slow, 10*time.Millisecond, logger.NewNop())

	_, err := c.Complete(context.Background(), llm.UserPrompt(llm.StageInterpret, "m", "", "hi"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFakeScriptExhausted(t *testing.T) {
	fake := llmtest.New()
	_, err := fake.Complete(context.Background(), llm.UserPrompt(llm.StageSynthesize, "", "", "x"))
	assert.ErrorIs(t, err, llmtest.ErrScriptExhausted)
}
