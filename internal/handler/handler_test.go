package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playintel/market-analyst/internal/middleware"
	"github.com/playintel/market-analyst/internal/model"
	natsclient "github.com/playintel/market-analyst/internal/nats"
	"github.com/playintel/market-analyst/pkg/logger"
)

type fakeChat struct {
	env         *model.AnswerEnvelope
	err         error
	got         *model.ChatRequest
	history     error
	historyUser string
}

func (f *fakeChat) Chat(_ context.Context, req *model.ChatRequest) (*model.AnswerEnvelope, error) {
	f.got = req
	return f.env, f.err
}

func (f *fakeChat) Usage(_ context.Context, userID, plan string) (*model.QueryUsageResponse, error) {
	return &model.QueryUsageResponse{Allowed: true, QuotaView: model.QuotaView{Used: 3, Limit: 30, Remaining: 27}}, nil
}

func (f *fakeChat) History(_ context.Context, sessionID, userID string, after uint64, limit int) (*model.HistoryResponse, error) {
	f.historyUser = userID
	if f.history != nil {
		return nil, f.history
	}
	return &model.HistoryResponse{Session: model.NewSession(sessionID, time.Time{})}, nil
}

type fakeStats struct{ err error }

func (f fakeStats) Stats(context.Context) (*model.StatsResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.StatsResponse{Stats: map[string]any{"total_games": 6}}, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func post(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))
	return rec
}

func TestChatStatusMapping(t *testing.T) {
	tests := []struct {
		kind   model.ErrorKind
		status int
	}{
		{model.ErrorNone, http.StatusOK},
		{model.ErrorRepairExhausted, http.StatusOK},
		{model.ErrorQuotaExceeded, http.StatusTooManyRequests},
		{model.ErrorUpstreamTimeout, http.StatusGatewayTimeout},
		{model.ErrorUpstreamFailure, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &fakeChat{env: &model.AnswerEnvelope{Answer: "a", Kind: tt.kind}}
			h := NewChatHandler(svc, logger.NewNop())

			rec := post(t, h.Chat, `{"question":"q","user_id":"u-1","plan":"free"}`)
			assert.Equal(t, tt.status, rec.Code)

			var resp model.ChatResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "a", resp.Answer)
			assert.Equal(t, tt.kind, resp.Error)
		})
	}
}

func TestChatRejectsBadBodies(t *testing.T) {
	h := NewChatHandler(&fakeChat{}, logger.NewNop())

	assert.Equal(t, http.StatusBadRequest, post(t, h.Chat, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h.Chat, `{"question":"","user_id":"u"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h.Chat, `{"question":"q"}`).Code)
}

func TestChatServiceErrors(t *testing.T) {
	svc := &fakeChat{err: errors.New("boom")}
	h := NewChatHandler(svc, logger.NewNop())
	rec := post(t, h.Chat, `{"question":"q","user_id":"u"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestChatIdentityFromToken(t *testing.T) {
	svc := &fakeChat{env: &model.AnswerEnvelope{Answer: "a"}}
	h := NewChatHandler(svc, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"question":"q","user_id":"spoofed","plan":"studio"}`))
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, "user-9")
	ctx = context.WithValue(ctx, middleware.PlanKey, "free")
	rec := httptest.NewRecorder()
	h.Chat(rec, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9", svc.got.UserID)
	assert.Equal(t, "free", svc.got.Plan)
}

func TestQueryUsage(t *testing.T) {
	h := NewChatHandler(&fakeChat{}, logger.NewNop())

	rec := post(t, h.QueryUsage, `{"user_id":"u-1","plan":"free"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.QueryUsageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Allowed)
	assert.Equal(t, 27, resp.Remaining)

	assert.Equal(t, http.StatusBadRequest, post(t, h.QueryUsage, `{"plan":"free"}`).Code)
}

func TestHistory(t *testing.T) {
	route := func(svc *fakeChat) *chi.Mux {
		r := chi.NewRouter()
		r.Get("/history/{session_id}", NewChatHandler(svc, logger.NewNop()).History)
		return r
	}

	svc := &fakeChat{}
	rec := httptest.NewRecorder()
	route(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/s-1?limit=5&user_id=alice", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"s-1"`)
	assert.Equal(t, "alice", svc.historyUser)

	rec = httptest.NewRecorder()
	route(&fakeChat{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/s-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	t.Run("token identity wins over the query", func(t *testing.T) {
		svc := &fakeChat{}
		req := httptest.NewRequest(http.MethodGet, "/history/s-1?user_id=alice", nil)
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "bob"))
		rec := httptest.NewRecorder()
		route(svc).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bob", svc.historyUser)
	})

	rec = httptest.NewRecorder()
	route(&fakeChat{history: natsclient.ErrDisabled}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/s-1?user_id=alice", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInfoEndpoints(t *testing.T) {
	h := NewInfoHandler(fakeStats{}, logger.NewNop())

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stats":{"total_games":6}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewInfoHandler(fakeStats{err: errors.New("down")}, logger.NewNop()).Stats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.SampleQuestions(rec, httptest.NewRequest(http.MethodGet, "/sample-questions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Pricing Strategy")
}

func TestReady(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(pinger{}, nil).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(pinger{err: errors.New("down")}, nil).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
