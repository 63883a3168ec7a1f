package model

// MaxRepairAttempts is the number of repairs allowed after the first try.
const MaxRepairAttempts = 2

// AttemptState is a state of the execute/repair loop.
type AttemptState string

const (
	StatePending   AttemptState = "pending"
	StateExecuting AttemptState = "executing"
	StateFailed    AttemptState = "failed"
	StateRepairing AttemptState = "repairing"
	StateSucceeded AttemptState = "succeeded"
	StateExhausted AttemptState = "exhausted"
)

// Terminal reports whether no further transition is possible.
func (s AttemptState) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted
}

// AttemptOutcome is the result of one synthesis/execution try.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeError   AttemptOutcome = "error"
)

// QueryAttempt records one synthesis/execution try. Attempts live only for
// the duration of a request.
type QueryAttempt struct {
	Index      int            `json:"index"`
	Query      string         `json:"query"`
	Outcome    AttemptOutcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	Kind       ErrorKind      `json:"kind,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// QueryResult holds the rows returned by a successful attempt.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Empty reports whether the result carries no rows.
func (r *QueryResult) Empty() bool {
	return r == nil || r.RowCount == 0
}

// ColumnIndex returns the position of a column, or -1.
func (r *QueryResult) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Records converts rows into column-keyed maps, preserving row order.
func (r *QueryResult) Records() []map[string]any {
	if r == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// NullColumns lists columns that are null in every returned row.
func (r *QueryResult) NullColumns() []string {
	if r.Empty() {
		return nil
	}
	var out []string
	for i, col := range r.Columns {
		allNull := true
		for _, row := range r.Rows {
			if i < len(row) && row[i] != nil {
				allNull = false
				break
			}
		}
		if allNull {
			out = append(out, col)
		}
	}
	return out
}
