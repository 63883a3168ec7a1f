package interpret

import (
	"sort"
	"strings"

	"github.com/playintel/market-analyst/internal/model"
)

// ChartOffer is appended to answers when a chart is available but was not
// asked for. Chart acceptance detection keys off this text.
const ChartOffer = "*Would you like me to visualize this data as a chart?*"

const chartOfferMarker = "visualize this data as a chart"

var (
	chartWords        = []string{"chart", "graph", "plot", "visualize", "visualise", "visualization", "show me a"}
	distributionWords = []string{"tier", "category", "type", "breakdown", "distribution", "pricing", "price"}
	rankingWords      = []string{"top", "best", "worst", "highest", "lowest", "most", "least", "compare", "ranking", "by", "per", "breakdown"}
	shareWords        = []string{"distribution", "breakdown", "share", "proportion", "percentage", "split", "composition"}
	correlationWords  = []string{"correlation", "relationship", "vs", "versus", "against", "compared to"}
	tableWords        = []string{"table", "list", "show me all", "show all", "give me a list", "export", "csv", "spreadsheet", "detailed breakdown"}
	detailWords       = []string{"top", "best", "worst", "compare", "vs", "versus", "examples", "games like", "similar to", "highest", "lowest"}
	acceptancePhrases = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "sure": true, "please": true, "show me": true,
		"show chart": true, "show the chart": true, "visualize": true, "yes please": true,
		"go ahead": true, "ok": true, "okay": true,
	}
)

// WantsChart reports whether the question asks for a visualization.
func WantsChart(question string) bool {
	return containsAny(strings.ToLower(question), chartWords)
}

// IsChartAcceptance reports whether question accepts a chart offered in the
// previous assistant turn.
func IsChartAcceptance(question string, history []model.HistoryMessage) bool {
	if len(history) < 2 {
		return false
	}
	q := strings.Trim(strings.ToLower(strings.TrimSpace(question)), ".!")
	if !acceptancePhrases[q] {
		return false
	}
	last, ok := model.LastAssistantMessage(history)
	return ok && strings.Contains(strings.ToLower(last), chartOfferMarker)
}

// IncludeData reports whether raw rows should accompany the answer. Rows
// are hidden for pure aggregates unless the user asked for a table.
func IncludeData(question string, result *model.QueryResult) bool {
	if result.Empty() {
		return false
	}
	q := strings.ToLower(question)
	if containsAny(q, tableWords) || containsAny(q, detailWords) {
		return true
	}
	for _, c := range result.Columns {
		if containsAny(strings.ToLower(c), []string{"name", "game", "title"}) {
			return true
		}
	}
	return false
}

// ChartHint suggests a visualization for result, or nil when none fits.
func ChartHint(question string, result *model.QueryResult) *model.ChartHint {
	if result.Empty() || result.RowCount < 2 {
		return nil
	}
	data := result.Records()
	numeric, categorical := splitColumns(result)
	q := strings.ToLower(question)
	wants := WantsChart(q)
	n := result.RowCount

	if len(categorical) >= 2 && len(numeric) == 0 && (wants || containsAny(q, distributionWords)) {
		if hint := categoryCounts(data, categorical); hint != nil {
			return hint
		}
	}

	if !wants && (n < 3 || n > 20 || len(numeric) == 0) {
		return nil
	}

	if len(categorical) >= 1 && len(numeric) >= 1 && (containsAny(q, rankingWords) || n <= 15) {
		label := firstMatching(categorical, []string{"name", "title", "developer", "publisher", "genre", "tag", "category", "tier"}, categorical[0])
		value := firstMatching(numeric, []string{"owner", "count", "total", "revenue", "sales", "rating", "score"}, numeric[0])
		var secondary, percent any
		for _, c := range numeric {
			if c == value {
				continue
			}
			lc := strings.ToLower(c)
			switch {
			case strings.Contains(lc, "percent") || strings.Contains(lc, "rate") || strings.Contains(lc, "ratio"):
				percent = c
			case secondary == nil:
				secondary = c
			}
		}
		return &model.ChartHint{
			Type: "horizontal_bar",
			Data: data,
			Config: map[string]any{
				"labelKey":     label,
				"valueKey":     value,
				"secondaryKey": secondary,
				"percentKey":   percent,
				"title":        nil,
			},
		}
	}

	if containsAny(q, shareWords) && len(categorical) >= 1 && len(numeric) >= 1 && n <= 8 {
		return &model.ChartHint{
			Type:   "donut",
			Data:   data,
			Config: map[string]any{"nameKey": categorical[0], "valueKey": numeric[0], "title": nil},
		}
	}

	if containsAny(q, correlationWords) && len(numeric) >= 2 {
		var name any
		if len(categorical) > 0 {
			name = categorical[0]
		}
		return &model.ChartHint{
			Type: "scatter",
			Data: data,
			Config: map[string]any{
				"xKey":    numeric[0],
				"yKey":    numeric[1],
				"nameKey": name,
				"xLabel":  titleCase(numeric[0]),
				"yLabel":  titleCase(numeric[1]),
				"title":   nil,
			},
		}
	}

	if len(categorical) >= 1 && len(numeric) >= 1 {
		return &model.ChartHint{
			Type:   "bar",
			Data:   data,
			Config: map[string]any{"xKey": categorical[0], "yKey": numeric[0], "title": nil},
		}
	}
	return nil
}

// categoryCounts counts rows per category column when the result holds
// only labels, e.g. games with their price tier.
func categoryCounts(data []map[string]any, categorical []string) *model.ChartHint {
	var category, label string
	for _, c := range categorical {
		lc := strings.ToLower(c)
		switch {
		case containsAny(lc, []string{"tier", "category", "type", "price", "rating", "genre"}):
			category = c
		case containsAny(lc, []string{"name", "title", "game", "developer"}):
			label = c
		}
	}
	if category == "" || label == "" {
		return nil
	}

	counts := map[any]int{}
	var order []any
	for _, row := range data {
		v := row[category]
		if v == nil {
			v = "Unknown"
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })

	agg := make([]map[string]any, 0, len(order))
	for _, v := range order {
		agg = append(agg, map[string]any{category: v, "count": counts[v]})
	}

	if len(agg) <= 8 {
		return &model.ChartHint{
			Type:   "donut",
			Data:   agg,
			Config: map[string]any{"nameKey": category, "valueKey": "count", "title": nil},
		}
	}
	return &model.ChartHint{
		Type: "horizontal_bar",
		Data: agg,
		Config: map[string]any{
			"labelKey":     category,
			"valueKey":     "count",
			"secondaryKey": nil,
			"percentKey":   nil,
			"title":        nil,
		},
	}
}

// splitColumns classifies columns by their first ten non-null values.
// Columns that are null throughout are neither.
func splitColumns(r *model.QueryResult) (numeric, categorical []string) {
	for i, c := range r.Columns {
		seen, allNumeric := 0, true
		for _, row := range r.Rows {
			if seen == 10 {
				break
			}
			if i >= len(row) || row[i] == nil {
				continue
			}
			seen++
			switch row[i].(type) {
			case int64, float64, int:
			default:
				allNumeric = false
			}
		}
		switch {
		case seen == 0:
		case allNumeric:
			numeric = append(numeric, c)
		default:
			categorical = append(categorical, c)
		}
	}
	return numeric, categorical
}

func firstMatching(cols, keys []string, fallback string) string {
	for _, c := range cols {
		if containsAny(strings.ToLower(c), keys) {
			return c
		}
	}
	return fallback
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func titleCase(col string) string {
	parts := strings.Fields(strings.ReplaceAll(col, "_", " "))
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
