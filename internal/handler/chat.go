// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/playintel/market-analyst/internal/middleware"
	"github.com/playintel/market-analyst/internal/model"
	natsclient "github.com/playintel/market-analyst/internal/nats"
	"github.com/playintel/market-analyst/internal/service"
	"github.com/playintel/market-analyst/pkg/logger"
)

// ChatService is the pipeline behind the chat endpoints.
type ChatService interface {
	Chat(ctx context.Context, req *model.ChatRequest) (*model.AnswerEnvelope, error)
	Usage(ctx context.Context, userID, plan string) (*model.QueryUsageResponse, error)
	History(ctx context.Context, sessionID, userID string, afterSequence uint64, limit int) (*model.HistoryResponse, error)
}

// ChatHandler handles chat endpoints.
type ChatHandler struct {
	service ChatService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: svc,
		logger:  log.Named("handler"),
	}
}

// Chat handles POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	applyIdentity(r.Context(), &req.UserID, &req.Plan)

	if err := middleware.ValidateChatRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := h.logger.WithRequest(middleware.GetCorrelationID(r.Context()), req.UserID)
	ctx := logger.IntoContext(r.Context(), log)

	env, err := h.service.Chat(ctx, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("chat failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to answer")
		return
	}

	writeJSON(w, chatStatus(env.Kind), env.Response())
}

// QueryUsage handles POST /query-usage
func (h *ChatHandler) QueryUsage(w http.ResponseWriter, r *http.Request) {
	var req model.QueryUsageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	applyIdentity(r.Context(), &req.UserID, &req.Plan)

	if err := middleware.ValidateID("user_id", req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Usage(r.Context(), req.UserID, req.Plan)
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("failed to read usage", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read usage")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /history/{session_id}. Only the caller's own
// exchanges are replayed: the token subject when authenticated, otherwise
// the user_id query parameter.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := middleware.ValidateID("session_id", sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := r.URL.Query().Get("user_id")
	var plan string
	applyIdentity(r.Context(), &userID, &plan)
	if err := middleware.ValidateID("user_id", userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	afterSequence := uint64(0)
	limit := natsclient.DefaultHistoryLimit

	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			afterSequence = parsed
		}
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= natsclient.DefaultHistoryLimit {
			limit = parsed
		}
	}

	resp, err := h.service.History(r.Context(), sessionID, userID, afterSequence, limit)
	if errors.Is(err, natsclient.ErrDisabled) {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("failed to read history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// applyIdentity lets authenticated identity override the body.
func applyIdentity(ctx context.Context, userID, plan *string) {
	if uid := middleware.GetUserID(ctx); uid != "" {
		*userID = uid
		if p := middleware.GetPlan(ctx); p != "" {
			*plan = p
		}
	}
}

func chatStatus(kind model.ErrorKind) int {
	switch kind {
	case model.ErrorQuotaExceeded:
		return http.StatusTooManyRequests
	case model.ErrorUpstreamTimeout:
		return http.StatusGatewayTimeout
	case model.ErrorUpstreamFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}
