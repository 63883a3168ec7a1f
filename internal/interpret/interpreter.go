// Package interpret turns query results into plain-language answers.
package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/playintel/market-analyst/internal/llm"
	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/internal/prompt"
	"github.com/playintel/market-analyst/pkg/logger"
)

// maxPromptRows bounds the rows shown to the model.
const maxPromptRows = 50

const interpretSystem = `You answer questions from indie game developers about the Steam market. Talk like a colleague who knows the market well: direct, specific, addressing the reader as "you". The figures you are given are simply what you know.`

var interpretTemplate = prompt.New("interpret", `
Question: "{{.Question}}"

Figures:
{{.Result}}

Layout: {{.Shape}}
Length: {{.WordBudget}}.

Never:
- mention where the figures came from, or any query, database, table, dataset, column, row, schema or SQL
- open with filler such as "Great question", "Certainly" or "Based on the data"
- introduce yourself
- use these words: {{.Hedges}}
- say you cannot draw charts

When a transition is needed, draw on phrases like: {{.Connectives}}.
{{if .Notes}}
{{.Notes}}
{{end}}`, prompt.SlotQuestion, prompt.SlotResult, prompt.SlotShape, prompt.SlotWordBudget, prompt.SlotConnectives, prompt.SlotHedges)

var reframeTemplate = prompt.New("reframe", `
A user asked: "{{.Question}}"

That exact question cannot be answered from the market figures available, which cover:
{{.Schema}}

Suggest one short question on the same topic that those figures can answer. Reply with the question only.`, prompt.SlotQuestion, prompt.SlotSchema)

// Answers used when no model output can be trusted.
const (
	exhaustedAnswer = "I can't answer that one with the market figures I have. Try asking about prices, owners, ratings, playtime, tags or genres instead."
	emptyAnswer     = "I couldn't find any games matching that. The filters may be narrower than the market supports, so try a wider price band or a broader tag or genre."
	reframeLead     = "I can't answer that one with the market figures I have. A close question I can answer: "
)

// Interpreter writes answers for successful, empty and exhausted runs.
type Interpreter struct {
	client llm.Client
	model  string
	logger *logger.Logger
}

// New creates an interpreter using the main model tier.
func New(client llm.Client, models llm.Models, log *logger.Logger) *Interpreter {
	return &Interpreter{client: client, model: models.Main, logger: log.Named("interpret")}
}

// Interpret answers question from result. Empty results get the fixed
// no-match answer without a model call.
func (i *Interpreter) Interpret(ctx context.Context, question string, result *model.QueryResult) (string, error) {
	if result.Empty() {
		return EmptyAnswer(), nil
	}

	shape := ClassifyShape(question)
	spec := shapeSpecs[shape]
	text, err := interpretTemplate.Render(prompt.Values{
		prompt.SlotQuestion:    question,
		prompt.SlotResult:      renderResult(result),
		prompt.SlotShape:       spec.instructions,
		prompt.SlotWordBudget:  spec.words,
		prompt.SlotConnectives: strings.Join(connectivesFor(question), ", "),
		prompt.SlotNotes:       nullNotes(result),
		prompt.SlotHedges:      strings.Join(overusedHedges, ", "),
	})
	if err != nil {
		return "", err
	}

	req := llm.UserPrompt(llm.StageInterpret, i.model, interpretSystem, text)
	req.MaxTokens = spec.maxTokens
	req.Temperature = 0.3

	resp, err := i.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("interpret: %w", err)
	}

	answer := stripHedges(Sanitize(resp.Content, question))
	if answer == "" {
		i.logger.Warn("interpretation sanitized to nothing, using fallback", zap.String("shape", string(shape)))
		return Fallback(question, result), nil
	}
	return answer, nil
}

// ExhaustedAnswer acknowledges that the question cannot be answered and,
// when the model offers a clean one, suggests a nearby answerable question.
// It never fails: any problem yields the static answer.
func (i *Interpreter) ExhaustedAnswer(ctx context.Context, question string, schema *model.SchemaDescriptor) string {
	if schema == nil || ctx.Err() != nil {
		return exhaustedAnswer
	}
	text, err := reframeTemplate.Render(prompt.Values{
		prompt.SlotQuestion: question,
		prompt.SlotSchema:   topics(schema),
	})
	if err != nil {
		return exhaustedAnswer
	}

	req := llm.UserPrompt(llm.StageReframe, i.model, interpretSystem, text)
	req.MaxTokens = 80
	req.Temperature = 0

	resp, err := i.client.Complete(ctx, req)
	if err != nil {
		i.logger.Debug("reframe failed", zap.Error(err))
		return exhaustedAnswer
	}

	suggestion := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	if suggestion == "" || strings.Contains(suggestion, "\n") || len(suggestion) > 200 ||
		!strings.HasSuffix(suggestion, "?") || Leaks(suggestion, question) {
		return exhaustedAnswer
	}
	return reframeLead + "\"" + suggestion + "\""
}

// EmptyAnswer is the answer for a run that matched nothing.
func EmptyAnswer() string {
	return emptyAnswer
}

// StaticExhaustedAnswer is the answer used when no reframing is attempted.
func StaticExhaustedAnswer() string {
	return exhaustedAnswer
}

// WithChartOffer appends the chart offer when a chart is available, the
// rows are shown, and the user did not already ask for a chart.
func WithChartOffer(answer, question string, hint *model.ChartHint, shownRows int) string {
	if hint == nil || shownRows < 3 || WantsChart(question) {
		return answer
	}
	return answer + "\n\n" + ChartOffer
}

// topics lists what the data covers without naming any relation.
func topics(schema *model.SchemaDescriptor) string {
	var b strings.Builder
	for _, t := range schema.Tables {
		line := t.UseFor
		if line == "" {
			line = t.Description
		}
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderResult(r *model.QueryResult) string {
	recs := r.Records()
	shown := recs
	if len(shown) > maxPromptRows {
		shown = shown[:maxPromptRows]
	}
	body, err := json.MarshalIndent(shown, "", "  ")
	if err != nil {
		body = []byte(fmt.Sprint(shown))
	}
	out := string(body)
	if len(recs) > len(shown) || r.Truncated {
		out += fmt.Sprintf("\n(showing %d of %d or more results)", len(shown), r.RowCount)
	}
	return out
}

func nullNotes(r *model.QueryResult) string {
	nulls := r.NullColumns()
	if len(nulls) == 0 {
		return ""
	}
	names := make([]string, len(nulls))
	for i, n := range nulls {
		names[i] = strings.ReplaceAll(n, "_", " ")
	}
	return fmt.Sprintf("These figures are unknown for every game matched: %s. Say so in a few words and move on; never invent a value or silently skip it.", strings.Join(names, ", "))
}

// hedgePattern matches an adverbial hedge as a whole word or phrase, with a
// trailing "that", comma and spacing. "delve" is a verb and is left to the
// prompt.
var hedgePattern = func() *regexp.Regexp {
	var alts []string
	for _, h := range overusedHedges {
		if h != "delve" {
			alts = append(alts, regexp.QuoteMeta(h))
		}
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b(?: that)?,?[ \t]*`)
}()

var spaceBeforePunct = regexp.MustCompile(`[ \t]+([,.;:!?])`)

// stripHedges removes overused hedges that slipped through, wherever they
// sit in a sentence. A hedge that opened a sentence passes its capital on.
func stripHedges(answer string) string {
	var b strings.Builder
	last := 0
	for _, m := range hedgePattern.FindAllStringIndex(answer, -1) {
		b.WriteString(answer[last:m[0]])
		last = m[1]
		if last < len(answer) && sentenceStart(b.String()) {
			r, size := utf8.DecodeRuneInString(answer[last:])
			b.WriteRune(unicode.ToUpper(r))
			last += size
		}
	}
	b.WriteString(answer[last:])
	out := spaceBeforePunct.ReplaceAllString(b.String(), "$1")
	return capitalizeFirst(strings.TrimSpace(out))
}

// sentenceStart reports whether text written so far ends a sentence.
func sentenceStart(prefix string) bool {
	t := strings.TrimRight(prefix, " \t")
	if t == "" || strings.HasSuffix(t, "\n") {
		return true
	}
	switch t[len(t)-1] {
	case '.', '!', '?', ':':
		return true
	}
	return false
}

// Fallback renders a plain answer without the model.
func Fallback(question string, r *model.QueryResult) string {
	if r.Empty() {
		return EmptyAnswer()
	}
	allowed := allowedRoots(question)
	if r.RowCount == 1 && len(r.Columns) == 1 {
		return formatValue(r.Columns[0], r.Rows[0][0], allowed) + "."
	}

	var b strings.Builder
	limit := r.RowCount
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		parts := make([]string, 0, len(r.Columns))
		for j, c := range r.Columns {
			if j < len(r.Rows[i]) && r.Rows[i][j] != nil {
				parts = append(parts, formatValue(c, r.Rows[i][j], allowed))
			}
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(parts, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatValue renders v with a unit inferred from its field name. A field
// name carrying backend vocabulary outside allowed never reaches the text.
func formatValue(field string, v any, allowed map[string]bool) string {
	f := strings.ToLower(field)
	var num float64
	isNum := true
	switch x := v.(type) {
	case int64:
		num = float64(x)
	case float64:
		num = x
	case int:
		num = float64(x)
	default:
		isNum = false
	}
	if !isNum {
		return fmt.Sprint(v)
	}

	s := strconv.FormatFloat(num, 'f', -1, 64)
	if math.Abs(num-math.Round(num)) > 1e-9 {
		s = strconv.FormatFloat(math.Round(num*100)/100, 'f', -1, 64)
	}
	label := strings.ReplaceAll(f, "_", " ")
	switch {
	case strings.Contains(f, "hour") || strings.Contains(f, "playtime"):
		return s + " hours"
	case strings.Contains(f, "price") || strings.Contains(f, "usd"):
		return "$" + s
	case strings.Contains(f, "rating") || strings.Contains(f, "percent") || strings.Contains(f, "rate"):
		return s + "%"
	case !leaks(label, allowed):
		return s + " " + label
	case strings.Contains(f, "count") || strings.Contains(f, "total") || strings.HasPrefix(f, "n_") || f == "n":
		return s + " games"
	default:
		return s
	}
}
