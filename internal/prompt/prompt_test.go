package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playintel/market-analyst/internal/model"
)

func TestRenderRequiresSlots(t *testing.T) {
	tpl := New("synth", "Q: {{.Question}}\nS: {{.Schema}}\nE: {{.PriorError}}", SlotQuestion, SlotSchema)

	t.Run("missing slot fails before rendering", func(t *testing.T) {
		out, err := tpl.Render(Values{SlotQuestion: "how many games?"})
		require.ErrorIs(t, err, ErrMissingSlot)
		assert.Empty(t, out)
		assert.Contains(t, err.Error(), "Schema")
	})

	t.Run("blank counts as missing", func(t *testing.T) {
		_, err := tpl.Render(Values{SlotQuestion: "  ", SlotSchema: "tables"})
		require.ErrorIs(t, err, ErrMissingSlot)
	})

	t.Run("optional slot renders empty", func(t *testing.T) {
		out, err := tpl.Render(Values{SlotQuestion: "how many games?", SlotSchema: "tables"})
		require.NoError(t, err)
		assert.Equal(t, "Q: how many games?\nS: tables\nE:", out)
	})
}

func TestRenderIsDeterministic(t *testing.T) {
	tpl := New("route", "{{.History}}|{{.Question}}", SlotQuestion)
	v := Values{SlotQuestion: "hi", SlotHistory: "(none)"}

	first, err := tpl.Render(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := tpl.Render(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFormatHistoryBoundsTurns(t *testing.T) {
	var history []model.HistoryMessage
	for i := 0; i < 20; i++ {
		history = append(history,
			model.HistoryMessage{Role: model.RoleUser, Content: "question"},
			model.HistoryMessage{Role: model.RoleAssistant, Content: "answer"},
		)
	}

	out := FormatHistory(history, 2)
	assert.Equal(t, 4, len(strings.Split(out, "\n")))
	assert.True(t, strings.HasPrefix(out, "User: question"))

	assert.Equal(t, "(none)", FormatHistory(nil, 10))
}
