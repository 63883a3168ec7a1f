package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/internal/service"
	"github.com/playintel/market-analyst/pkg/logger"
)

// StatsService reads headline statistics.
type StatsService interface {
	Stats(ctx context.Context) (*model.StatsResponse, error)
}

// InfoHandler serves the endpoints outside the chat pipeline.
type InfoHandler struct {
	stats  StatsService
	logger *logger.Logger
}

// NewInfoHandler creates a new info handler.
func NewInfoHandler(stats StatsService, log *logger.Logger) *InfoHandler {
	return &InfoHandler{stats: stats, logger: log.Named("handler")}
}

// Stats handles GET /stats
func (h *InfoHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp, err := h.stats.Stats(r.Context())
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("failed to read stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SampleQuestions handles GET /sample-questions
func (h *InfoHandler) SampleQuestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, service.SampleQuestions())
}
