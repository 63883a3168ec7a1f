// Package synth turns questions into candidate SQL statements.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/playintel/market-analyst/internal/llm"
	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/internal/prompt"
)

// ErrMalformed is returned when the model reply holds no usable statement.
var ErrMalformed = errors.New("synthesizer returned no usable query")

const system = `You write one read-only SQL statement that answers a question about Steam market data. Reply only with JSON: {"sql_query": "SELECT ..."}.`

var synthesizeTemplate = prompt.New("synthesize", `
Schema:
{{.Schema}}

Rules:
- Reference only tables and columns listed in the schema.
- Select every field the question names or implies; if it asks for ratings and owners, select both.
- For an average, typical or expected value over a filtered population, aggregate over all matching rows. Never rank a top-N subset and average that.
- Match free-text categories such as tags and genres case-insensitively.
- A single stated number means a band of plus or minus 1 around it: "$20" filters price_usd BETWEEN 19 AND 21.
- Round aggregate results to one decimal place.
- Write exactly one SELECT or WITH statement. Never modify data.

Recent conversation:
{{.History}}

Question: {{.Question}}`, prompt.SlotSchema, prompt.SlotQuestion, prompt.SlotHistory)

var repairTemplate = prompt.New("repair", `
Schema:
{{.Schema}}

The previous statement for this question failed.

Question: {{.Question}}

Previous statement:
{{.PriorQuery}}

Error:
{{.PriorError}}

The error is authoritative. Fix the cause it names and do not repeat the same mistake. Keep every rule from before: only listed tables and columns, aggregate over all matching rows, case-insensitive text matching, plus or minus 1 for a single stated number, one read-only statement.

Recent conversation:
{{.History}}`, prompt.SlotSchema, prompt.SlotQuestion, prompt.SlotPriorError, prompt.SlotHistory)

// Request carries everything a synthesis call needs.
type Request struct {
	Question   string
	History    []model.HistoryMessage
	Schema     *model.SchemaDescriptor
	PriorQuery string
	PriorError string
}

// Synthesizer renders the synthesis or repair prompt and extracts the SQL.
type Synthesizer struct {
	client       llm.Client
	model        string
	historyTurns int
}

// New creates a synthesizer using the main model tier.
func New(client llm.Client, models llm.Models, historyTurns int) *Synthesizer {
	return &Synthesizer{client: client, model: models.Main, historyTurns: historyTurns}
}

// Synthesize returns a candidate statement. When req.PriorError is set the
// repair prompt is used. An unusable reply yields ErrMalformed.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (string, error) {
	if req.Schema == nil {
		return "", fmt.Errorf("synthesize: schema is required")
	}

	values := prompt.Values{
		prompt.SlotSchema:   req.Schema.Text,
		prompt.SlotQuestion: req.Question,
		prompt.SlotHistory:  prompt.FormatHistory(req.History, s.historyTurns),
	}
	tmpl, stage := synthesizeTemplate, llm.StageSynthesize
	if req.PriorError != "" {
		tmpl, stage = repairTemplate, llm.StageRepair
		values[prompt.SlotPriorError] = req.PriorError
		values[prompt.SlotPriorQuery] = orNone(req.PriorQuery)
	}

	text, err := tmpl.Render(values)
	if err != nil {
		return "", err
	}

	cr := llm.UserPrompt(stage, s.model, system, text)
	cr.MaxTokens = 1000
	cr.Temperature = 0

	resp, err := s.client.Complete(ctx, cr)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return Extract(resp.Content)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

var (
	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	startPattern = regexp.MustCompile(`(?is)^\s*(select|with)\b`)
	jsonPattern  = regexp.MustCompile(`(?s)\{.*\}`)
)

// Extract pulls one SQL statement out of a model reply. It accepts a JSON
// object with sql_query, a fenced code block, or bare SQL.
func Extract(reply string) (string, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrMalformed)
	}

	if obj := jsonPattern.FindString(reply); obj != "" {
		var v struct {
			SQLQuery string `json:"sql_query"`
		}
		if err := json.Unmarshal([]byte(flattenStringNewlines(obj)), &v); err == nil {
			if q := normalizeSQL(v.SQLQuery); q != "" {
				return q, nil
			}
			return "", fmt.Errorf("%w: no sql_query in reply", ErrMalformed)
		}
	}

	if m := fencePattern.FindStringSubmatch(reply); m != nil {
		if q := normalizeSQL(m[1]); q != "" {
			return q, nil
		}
	}

	if q := normalizeSQL(reply); q != "" {
		return q, nil
	}
	return "", fmt.Errorf("%w: reply is not a query", ErrMalformed)
}

// normalizeSQL returns s trimmed when it starts like a query, else "".
func normalizeSQL(s string) string {
	s = strings.TrimSpace(s)
	if !startPattern.MatchString(s) {
		return ""
	}
	return s
}

// flattenStringNewlines replaces raw newlines inside JSON strings with
// spaces. Models often emit multi-line SQL without escaping it.
func flattenStringNewlines(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case (r == '\n' || r == '\r' || r == '\t') && inString:
			r = ' '
		}
		b.WriteRune(r)
	}
	return b.String()
}
