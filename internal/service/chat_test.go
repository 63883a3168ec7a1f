package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/playintel/market-analyst/internal/executor"
	"github.com/playintel/market-analyst/internal/interpret"
	"github.com/playintel/market-analyst/internal/llm"
	"github.com/playintel/market-analyst/internal/llm/llmtest"
	"github.com/playintel/market-analyst/internal/model"
	natsclient "github.com/playintel/market-analyst/internal/nats"
	"github.com/playintel/market-analyst/internal/quota"
	"github.com/playintel/market-analyst/internal/router"
	"github.com/playintel/market-analyst/internal/schema"
	"github.com/playintel/market-analyst/internal/store"
	"github.com/playintel/market-analyst/internal/store/storetest"
	"github.com/playintel/market-analyst/internal/synth"
	"github.com/playintel/market-analyst/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const directQuestion = "What is the average playtime for games priced at $20?"

var models = llm.Models{Main: "main", Fast: "fast"}

// countingStore counts every call that reaches the analytic store.
type countingStore struct {
	*store.SQLiteStore
	calls atomic.Int32
}

func (c *countingStore) Query(ctx context.Context, sql string, limit int) (*model.QueryResult, error) {
	c.calls.Add(1)
	return c.SQLiteStore.Query(ctx, sql, limit)
}

func (c *countingStore) Columns(ctx context.Context) ([]store.ColumnInfo, error) {
	c.calls.Add(1)
	return c.SQLiteStore.Columns(ctx)
}

type memRecorder struct {
	mu        sync.Mutex
	exchanges []*model.Exchange
}

func (r *memRecorder) Record(_ context.Context, ex *model.Exchange) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, ex)
	return uint64(len(r.exchanges)), nil
}

func (r *memRecorder) History(_ context.Context, sessionID, userID string, _ uint64, _ int) (*model.HistoryResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := model.NewSession(sessionID, time.Time{})
	for _, ex := range r.exchanges {
		if ex.SessionID == sessionID && ex.UserID == userID {
			for _, m := range ex.Messages() {
				s.Append(m)
			}
		}
	}
	return &model.HistoryResponse{Session: s, LastSequence: uint64(len(r.exchanges))}, nil
}

func (r *memRecorder) all() []*model.Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Exchange(nil), r.exchanges...)
}

// blockingClient never answers before the context ends.
type blockingClient struct{}

func (blockingClient) Name() string { return "blocking" }

func (blockingClient) Complete(ctx context.Context, _ *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type harness struct {
	svc      *ChatService
	store    *countingStore
	tracker  *quota.Tracker
	recorder *memRecorder
}

func newHarness(t *testing.T, client llm.Client, opts Options) *harness {
	t.Helper()
	log := logger.NewNop()
	st := &countingStore{SQLiteStore: storetest.Open(t)}

	builder, err := schema.NewBuilder(st, store.DriverSQLite, log)
	require.NoError(t, err)

	tracker := quota.NewTracker(quota.NewMemoryStore(), quota.DefaultPlans, log).
		WithClock(func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) })

	rec := &memRecorder{}
	svc := NewChatService(Deps{
		Quota:       tracker,
		Router:      router.New(client, models, 10, log),
		Schema:      builder,
		Executor:    executor.New(synth.New(client, models, 10), st, model.MaxRepairAttempts, store.DefaultRowLimit, log),
		Interpreter: interpret.New(client, models, log),
		Responder:   interpret.NewResponder(client, models, "", 10),
		Recorder:    rec,
	}, opts, log)

	return &harness{svc: svc, store: st, tracker: tracker, recorder: rec}
}

func sqlReply(q string) string {
	return fmt.Sprintf(`{"sql_query": %q}`, q)
}

func chat(question string, history ...model.HistoryMessage) *model.ChatRequest {
	return &model.ChatRequest{
		Question:            question,
		ConversationHistory: history,
		UserID:              "user-1",
		Plan:                "free",
		SessionID:           "session-1",
	}
}

func TestChatDirectFact(t *testing.T) {
	fake := llmtest.New().
		Script(llm.StageRoute, "ANALYTICAL").
		Script(llm.StageSynthesize, sqlReply("SELECT ROUND(AVG(avg_hours_played), 1) AS avg_hours_played FROM fact_game_metrics WHERE price_usd BETWEEN 19 AND 21")).
		Script(llm.StageInterpret, "Great question! 6.7 hours on average, typical for the $20 tier.")
	h := newHarness(t, fake, Options{HistoryTurns: 10})

	env, err := h.svc.Chat(context.Background(), chat(directQuestion))
	require.NoError(t, err)

	assert.Equal(t, model.ErrorNone, env.Kind)
	assert.Equal(t, model.RouteAnalytical, env.Route)
	assert.True(t, strings.HasPrefix(env.Answer, "6.7 hours"), env.Answer)
	assert.True(t, env.Counted)
	assert.Equal(t, 1, env.Quota.Used)
	assert.Equal(t, 29, env.Quota.Remaining)
	assert.Contains(t, env.Query, "BETWEEN 19 AND 21")
	require.Len(t, env.Attempts, 1)

	resp := env.Response()
	assert.Nil(t, resp.Data, "aggregate answers hide raw rows")
	assert.Equal(t, "session-1", resp.SessionID)

	exchanges := h.recorder.all()
	require.Len(t, exchanges, 1)
	assert.Equal(t, directQuestion, exchanges[0].Question)
	assert.Equal(t, 1, exchanges[0].RowCount)
	assert.True(t, exchanges[0].Counted)
}

func TestChatAggregateConsistency(t *testing.T) {
	fake := llmtest.New().
		Script(llm.StageRoute, "ANALYTICAL", "ANALYTICAL").
		Script(llm.StageSynthesize,
			sqlReply("SELECT AVG(avg_hours_played) AS avg_hours FROM fact_game_metrics WHERE price_usd BETWEEN 19 AND 21"),
			sqlReply("SELECT AVG(avg_hours_played) AS mean_hours FROM fact_game_metrics WHERE price_usd >= 19 AND price_usd <= 21"),
		).
		Script(llm.StageInterpret, "6.7 hours.", "6.7 hours.")
	h := newHarness(t, fake, Options{HistoryTurns: 10})

	a, err := h.svc.Chat(context.Background(), chat("average playtime for $20 games"))
	require.NoError(t, err)
	b, err := h.svc.Chat(context.Background(), chat("games priced at $20, average hours?"))
	require.NoError(t, err)

	require.NotNil(t, a.Result)
	require.NotNil(t, b.Result)
	assert.InDelta(t, storetest.PricedAt20MeanHours, a.Result.Rows[0][0], 1e-9)
	assert.Equal(t, a.Result.Rows[0][0], b.Result.Rows[0][0])
}

func TestChatQuotaDenial(t *testing.T) {
	fake := llmtest.New()
	h := newHarness(t, fake, Options{})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		d, err := h.tracker.CheckAndReserve(ctx, "user-1", "free")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	before := h.store.calls.Load()

	env, err := h.svc.Chat(ctx, chat(directQuestion))
	require.NoError(t, err)

	assert.Equal(t, model.ErrorQuotaExceeded, env.Kind)
	require.NotNil(t, env.Quota)
	assert.Equal(t, 0, env.Quota.Remaining)
	assert.Equal(t, 30, env.Quota.Limit)
	assert.True(t, env.Quota.ResetAt.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)), env.Quota.ResetAt.String())
	assert.Contains(t, env.Answer, "30")
	assert.Contains(t, env.Answer, "April 1, 2026")
	assert.False(t, env.Counted)

	assert.Zero(t, fake.Total(), "no model call on denial")
	assert.Equal(t, before, h.store.calls.Load(), "no store call on denial")
}

func TestChatRepairSuccess(t *testing.T) {
	fake := llmtest.New().
		Script(llm.StageRoute, "ANALYTICAL").
		Script(llm.StageSynthesize, sqlReply("SELECT AVG(avg_playtime) FROM fact_game_metrics WHERE price_usd BETWEEN 19 AND 21")).
		Script(llm.StageRepair, sqlReply("SELECT ROUND(AVG(avg_hours_played), 1) AS avg_hours_played FROM fact_game_metrics WHERE price_usd BETWEEN 19 AND 21")).
		Script(llm.StageInterpret, "6.7 hours on average.")
	h := newHarness(t, fake, Options{HistoryTurns: 10})

	env, err := h.svc.Chat(context.Background(), chat(directQuestion))
	require.NoError(t, err)

	assert.Equal(t, model.ErrorNone, env.Kind)
	require.Len(t, env.Attempts, 2)
	assert.Equal(t, model.OutcomeError, env.Attempts[0].Outcome)
	assert.Equal(t, model.OutcomeSuccess, env.Attempts[1].Outcome)
	assert.Equal(t, "6.7 hours on average.", env.Answer)

	repair := fake.Requests()[2]
	require.Equal(t, llm.StageRepair, repair.Stage)
	assert.Contains(t, repair.Messages[0].Content, "avg_playtime")
}

func TestChatRepairExhaustion(t *testing.T) {
	bad := sqlReply("SELECT AVG(refund_rate) FROM fact_game_metrics")
	fake := llmtest.New().
		Script(llm.StageRoute, "ANALYTICAL").
		Script(llm.StageSynthesize, bad).
		Script(llm.StageRepair, bad, bad)
	h := newHarness(t, fake, Options{HistoryTurns: 10})

	question := "What's the refund rate for roguelikes?"
	env, err := h.svc.Chat(context.Background(), chat(question))
	require.NoError(t, err)

	assert.Equal(t, model.ErrorRepairExhausted, env.Kind)
	assert.Len(t, env.Attempts, 3)
	assert.Equal(t, interpret.StaticExhaustedAnswer(), env.Answer)
	assert.False(t, interpret.Leaks(env.Answer, question))
	assert.NotContains(t, strings.ToLower(env.Answer), "no such column")
	assert.NotContains(t, env.Answer, "refund_rate")
	assert.Empty(t, env.Query)
	assert.Nil(t, env.Response().Data)
}

func TestChatConversational(t *testing.T) {
	fake := llmtest.New().
		Script(llm.StageRoute, "CONVERSATIONAL").
		Script(llm.StageConversation, "Line up streamers two weeks before launch and keep the demo short.")
	h := newHarness(t, fake, Options{HistoryTurns: 10})

	env, err := h.svc.Chat(context.Background(), chat("How should I market my game before launch?"))
	require.NoError(t, err)

	assert.Equal(t, model.RouteConversational, env.Route)
	assert.Equal(t, "Line up streamers two weeks before launch and keep the demo short.", env.Answer)
	assert.Zero(t, fake.Calls(llm.StageSynthesize))
	assert.True(t, env.Counted)
}

func TestChatClarificationIsRefunded(t *testing.T) {
	fake := llmtest.New().
		Script(llm.StageRoute, "CONVERSATIONAL").
		Script(llm.StageConversation, "Which genre are you interested in? Pricing differs a lot between them.")
	h := newHarness(t, fake, Options{HistoryTurns: 10})

	env, err := h.svc.Chat(context.Background(), chat("What should I charge?"))
	require.NoError(t, err)

	assert.False(t, env.Counted)
	assert.Equal(t, 0, env.Quota.Used)

	usage, err := h.svc.Usage(context.Background(), "user-1", "free")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Used)
	assert.True(t, usage.Allowed)
}

func TestChatChartAcceptance(t *testing.T) {
	fake := llmtest.New()
	h := newHarness(t, fake, Options{})

	history := []model.HistoryMessage{
		{Role: model.RoleUser, Content: "Top 5 games by owners"},
		{Role: model.RoleAssistant, Content: "1. Free Arena\n\n" + interpret.ChartOffer},
	}
	env, err := h.svc.Chat(context.Background(), chat("yes", history...))
	require.NoError(t, err)

	require.NotNil(t, env.ChartHint)
	assert.True(t, env.ChartHint.ShowPrevious)
	assert.False(t, env.Counted)
	assert.Zero(t, fake.Total())
}

func TestChatTimeout(t *testing.T) {
	h := newHarness(t, blockingClient{}, Options{RequestTimeout: 50 * time.Millisecond})

	env, err := h.svc.Chat(context.Background(), chat(directQuestion))
	require.NoError(t, err)

	assert.Equal(t, model.ErrorUpstreamTimeout, env.Kind)
	assert.Equal(t, timeoutAnswer, env.Answer)
	assert.False(t, env.Counted)
	assert.Equal(t, 0, env.Quota.Used)
}

func TestChatUpstreamFailure(t *testing.T) {
	fake := llmtest.New().Fail(llm.StageRoute, errors.New("upstream overloaded: 529"))
	h := newHarness(t, fake, Options{})

	env, err := h.svc.Chat(context.Background(), chat(directQuestion))
	require.NoError(t, err)

	assert.Equal(t, model.ErrorUpstreamFailure, env.Kind)
	assert.Equal(t, failureAnswer, env.Answer)
	assert.NotContains(t, env.Answer, "529")
	assert.False(t, env.Counted)
}

func TestChatListShowsDataAndOffersChart(t *testing.T) {
	fake := llmtest.New().
		Script(llm.StageRoute, "ANALYTICAL").
		Script(llm.StageSynthesize, sqlReply("SELECT name, owners FROM fact_game_metrics ORDER BY owners DESC LIMIT 5")).
		Script(llm.StageInterpret, "1. Free Arena: 12M owners\n2. Hollow Path: 2M owners")
	h := newHarness(t, fake, Options{HistoryTurns: 10})

	env, err := h.svc.Chat(context.Background(), chat("Top 5 games by owners"))
	require.NoError(t, err)

	resp := env.Response()
	assert.Len(t, resp.Data, 5)
	require.NotNil(t, resp.ChartHint)
	assert.Equal(t, "horizontal_bar", resp.ChartHint.Type)
	assert.True(t, strings.HasSuffix(resp.Answer, interpret.ChartOffer))
}

func TestChatRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, llmtest.New(), Options{})

	_, err := h.svc.Chat(context.Background(), &model.ChatRequest{Question: "  ", UserID: "u"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.Chat(context.Background(), &model.ChatRequest{Question: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.Usage(context.Background(), "", "free")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChatHistoryReplay(t *testing.T) {
	fake := llmtest.New().
		Script(llm.StageRoute, "CONVERSATIONAL").
		Script(llm.StageConversation, "Hey, what are you working on?")
	h := newHarness(t, fake, Options{})

	_, err := h.svc.Chat(context.Background(), chat("hi"))
	require.NoError(t, err)

	hist, err := h.svc.History(context.Background(), "session-1", "user-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, hist.Session.Messages, 2)
	assert.Equal(t, "hi", hist.Session.Messages[0].Text)
	assert.Equal(t, model.RoleAssistant, hist.Session.Messages[1].Role)

	t.Run("other users cannot replay the session", func(t *testing.T) {
		other, err := h.svc.History(context.Background(), "session-1", "user-2", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, other.Session.Messages)
	})

	t.Run("caller is required", func(t *testing.T) {
		_, err := h.svc.History(context.Background(), "session-1", "", 0, 10)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestNopRecorderIsDefault(t *testing.T) {
	svc := NewChatService(Deps{}, Options{}, logger.NewNop())
	_, err := svc.History(context.Background(), "s", "u", 0, 0)
	assert.ErrorIs(t, err, natsclient.ErrDisabled)
}
