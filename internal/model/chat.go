package model

// Route is the intent router's decision.
type Route string

const (
	RouteConversational Route = "conversational"
	RouteAnalytical     Route = "analytical"
)

// ErrorKind classifies a normalized pipeline failure. Kinds never carry
// store or model error text.
type ErrorKind string

const (
	ErrorNone               ErrorKind = ""
	ErrorQuotaExceeded      ErrorKind = "quota_exceeded"
	ErrorSynthesisMalformed ErrorKind = "synthesis_malformed"
	ErrorExecution          ErrorKind = "execution_error"
	ErrorRepairExhausted    ErrorKind = "repair_exhausted"
	ErrorUpstreamTimeout    ErrorKind = "upstream_timeout"
	ErrorUpstreamFailure    ErrorKind = "upstream_failure"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Question            string           `json:"question"`
	ConversationHistory []HistoryMessage `json:"conversation_history"`
	UserID              string           `json:"user_id"`
	Plan                string           `json:"plan"`
	SessionID           string           `json:"session_id,omitempty"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Answer    string           `json:"answer"`
	Query     string           `json:"query,omitempty"`
	Data      []map[string]any `json:"data,omitempty"`
	ChartHint *ChartHint       `json:"chart_hint,omitempty"`
	Quota     *QuotaView       `json:"quota,omitempty"`
	Error     ErrorKind        `json:"error,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
}

// ChartHint is a rendering suggestion passed through to the UI untouched.
type ChartHint struct {
	Type         string           `json:"type,omitempty"`
	Data         []map[string]any `json:"data,omitempty"`
	Config       map[string]any   `json:"config,omitempty"`
	ShowPrevious bool             `json:"show_previous,omitempty"`
}

// AnswerEnvelope is the final outcome of one chat request.
type AnswerEnvelope struct {
	Answer      string
	Query       string
	Result      *QueryResult
	IncludeData bool
	ChartHint   *ChartHint
	Quota       *QuotaView
	Route       Route
	Attempts    []QueryAttempt
	Kind        ErrorKind
	Counted     bool
	SessionID   string
}

// Response converts the envelope to its wire shape.
func (e *AnswerEnvelope) Response() *ChatResponse {
	resp := &ChatResponse{
		Answer:    e.Answer,
		Query:     e.Query,
		ChartHint: e.ChartHint,
		Quota:     e.Quota,
		Error:     e.Kind,
		SessionID: e.SessionID,
	}
	if e.IncludeData && !e.Result.Empty() {
		resp.Data = e.Result.Records()
	}
	return resp
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Stats map[string]any `json:"stats"`
}

// SampleCategory groups example questions under a heading.
type SampleCategory struct {
	Category  string   `json:"category"`
	Questions []string `json:"questions"`
}

// SampleQuestionsResponse is the body of GET /sample-questions.
type SampleQuestionsResponse struct {
	Questions []SampleCategory `json:"questions"`
}
