// Package prompt builds model prompts from typed templates with named slots.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/playintel/market-analyst/internal/model"
)

// Slot names one value a template can consume.
type Slot string

const (
	SlotQuestion    Slot = "Question"
	SlotHistory     Slot = "History"
	SlotSchema      Slot = "Schema"
	SlotPriorError  Slot = "PriorError"
	SlotPriorQuery  Slot = "PriorQuery"
	SlotResult      Slot = "Result"
	SlotShape       Slot = "Shape"
	SlotNotes       Slot = "Notes"
	SlotConnectives Slot = "Connectives"
	SlotWordBudget  Slot = "WordBudget"
	SlotHedges      Slot = "Hedges"
)

// ErrMissingSlot is returned when a required slot is empty.
var ErrMissingSlot = errors.New("prompt: required slot not populated")

// Values holds slot contents for one render.
type Values map[Slot]string

// Template is a named prompt with its required slots.
type Template struct {
	name     string
	required []Slot
	tmpl     *template.Template
}

// New parses text as a template. Required slots must be non-blank at render.
func New(name, text string, required ...Slot) *Template {
	return &Template{
		name:     name,
		required: required,
		tmpl:     template.Must(template.New(name).Option("missingkey=zero").Parse(text)),
	}
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}

// Required returns the slots that must be populated.
func (t *Template) Required() []Slot {
	return append([]Slot(nil), t.required...)
}

// Render fills the template. It fails before producing any text if a
// required slot is missing or blank.
func (t *Template) Render(v Values) (string, error) {
	var missing []string
	for _, s := range t.required {
		if strings.TrimSpace(v[s]) == "" {
			missing = append(missing, string(s))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s needs %s", ErrMissingSlot, t.name, strings.Join(missing, ", "))
	}

	data := make(map[string]string, len(v))
	for k, val := range v {
		data[string(k)] = val
	}

	var b strings.Builder
	if err := t.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// FormatHistory renders at most the last turns of history, one line per
// message. An empty history renders as "(none)".
func FormatHistory(history []model.HistoryMessage, turns int) string {
	recent := model.RecentHistory(history, turns)
	if len(recent) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range recent {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		role := "User"
		if m.Role == model.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, text)
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return strings.TrimRight(b.String(), "\n")
}
