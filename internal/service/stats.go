package service

import (
	"context"
	"fmt"

	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/pkg/logger"
)

const statsQuery = "SELECT * FROM summary_stats LIMIT 1"

// Querier runs read-only statements.
type Querier interface {
	Query(ctx context.Context, sql string, limit int) (*model.QueryResult, error)
}

// StatsService serves headline market statistics.
type StatsService struct {
	store  Querier
	logger *logger.Logger
}

// NewStatsService creates a stats service.
func NewStatsService(store Querier, log *logger.Logger) *StatsService {
	return &StatsService{store: store, logger: log.Named("stats")}
}

// Stats returns the single summary row. An empty table yields empty stats.
func (s *StatsService) Stats(ctx context.Context) (*model.StatsResponse, error) {
	res, err := s.store.Query(ctx, statsQuery, 1)
	if err != nil {
		return nil, fmt.Errorf("read summary stats: %w", err)
	}
	stats := map[string]any{}
	if recs := res.Records(); len(recs) > 0 {
		stats = recs[0]
	}
	return &model.StatsResponse{Stats: stats}, nil
}

var sampleQuestions = []model.SampleCategory{
	{
		Category: "Pricing Strategy",
		Questions: []string{
			"What's the average playtime for games priced at $15?",
			"Show me the most successful price points",
			"What's the best price for a 20-hour game?",
		},
	},
	{
		Category: "Market Research",
		Questions: []string{
			"What rating percentage do I need to compete in the $20-30 tier?",
			"How many owners do successful indie developers have on average?",
			"What's considered good value for money?",
		},
	},
	{
		Category: "Developer Insights",
		Questions: []string{
			"Show me the top 10 indie developers by total owners",
			"What's the average number of games before a developer's breakout hit?",
			"Compare developers with 1-3 games vs 4+ games",
		},
	},
}

// SampleQuestions returns the static list of example questions.
func SampleQuestions() *model.SampleQuestionsResponse {
	out := make([]model.SampleCategory, len(sampleQuestions))
	for i, c := range sampleQuestions {
		out[i] = model.SampleCategory{
			Category:  c.Category,
			Questions: append([]string(nil), c.Questions...),
		}
	}
	return &model.SampleQuestionsResponse{Questions: out}
}
