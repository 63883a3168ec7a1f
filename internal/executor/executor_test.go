package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playintel/market-analyst/internal/llm"
	"github.com/playintel/market-analyst/internal/llm/llmtest"
	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/internal/schema"
	"github.com/playintel/market-analyst/internal/store"
	"github.com/playintel/market-analyst/internal/store/storetest"
	"github.com/playintel/market-analyst/internal/synth"
	"github.com/playintel/market-analyst/pkg/logger"
)

func fixture(t *testing.T) (*store.SQLiteStore, *model.SchemaDescriptor) {
	t.Helper()
	s := storetest.Open(t)
	b, err := schema.NewBuilder(s, store.DriverSQLite, logger.NewNop())
	require.NoError(t, err)
	d, err := b.Build(context.Background())
	require.NoError(t, err)
	return s, d
}

func sqlReply(q string) string {
	return fmt.Sprintf(`{"sql_query": %q}`, q)
}

func TestRunSucceedsFirstTry(t *testing.T) {
	s, d := fixture(t)
	fake := llmtest.New().Script(llm.StageSynthesize,
		sqlReply("SELECT ROUND(AVG(avg_hours_played), 1) AS avg_hours FROM fact_game_metrics WHERE price_usd BETWEEN 19 AND 21"))
	ex := New(synth.New(fake, llm.Models{Main: "m"}, 10), s, model.MaxRepairAttempts, 500, logger.NewNop())

	out, err := ex.Run(context.Background(), "What is the average playtime for games priced at $20?", nil, d)
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, out.State)
	assert.Equal(t, []model.AttemptState{model.StatePending, model.StateExecuting, model.StateSucceeded}, out.Trace)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, model.OutcomeSuccess, out.Attempts[0].Outcome)
	assert.InDelta(t, storetest.PricedAt20MeanHours, out.Result.Rows[0][0], 0.001)
}

func TestRunRepairsUnknownColumn(t *testing.T) {
	s, d := fixture(t)
	fake := llmtest.New().
		Script(llm.StageSynthesize, sqlReply("SELECT AVG(playtime_hours) FROM fact_game_metrics")).
		Script(llm.StageRepair, sqlReply("SELECT ROUND(AVG(avg_hours_played), 1) AS avg_hours FROM fact_game_metrics"))
	ex := New(synth.New(fake, llm.Models{Main: "m"}, 10), s, model.MaxRepairAttempts, 500, logger.NewNop())

	out, err := ex.Run(context.Background(), "average playtime?", nil, d)
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, out.State)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, 0, out.Attempts[0].Index)
	assert.Equal(t, model.OutcomeError, out.Attempts[0].Outcome)
	assert.Contains(t, out.Attempts[0].Error, "playtime_hours")
	assert.Equal(t, model.ErrorExecution, out.Attempts[0].Kind)
	assert.Equal(t, 1, out.Attempts[1].Index)
	assert.Equal(t, []model.AttemptState{
		model.StatePending, model.StateExecuting, model.StateFailed,
		model.StateRepairing, model.StateExecuting, model.StateSucceeded,
	}, out.Trace)

	repair := fake.Requests()[1]
	assert.Equal(t, llm.StageRepair, repair.Stage)
	assert.Contains(t, repair.Messages[0].Content, "playtime_hours")
}

func TestRunExhausts(t *testing.T) {
	s, d := fixture(t)
	bad := sqlReply("SELECT nope FROM fact_game_metrics")
	fake := llmtest.New().Script(llm.StageSynthesize, bad).Script(llm.StageRepair, bad, bad)
	ex := New(synth.New(fake, llm.Models{Main: "m"}, 10), s, model.MaxRepairAttempts, 500, logger.NewNop())

	out, err := ex.Run(context.Background(), "q", nil, d)
	require.NoError(t, err)
	assert.Equal(t, model.StateExhausted, out.State)
	assert.Len(t, out.Attempts, model.MaxRepairAttempts+1)
	assert.Nil(t, out.Result)
	assert.Equal(t, model.StateExhausted, out.Trace[len(out.Trace)-1])
	assert.Equal(t, 3, fake.Total())
}

// scriptedSynth fails a fixed number of times before producing good SQL.
type scriptedSynth struct {
	failures int
	calls    int
}

func (s *scriptedSynth) Synthesize(_ context.Context, req synth.Request) (string, error) {
	s.calls++
	if s.calls > 1 && req.PriorError == "" {
		return "", errors.New("repair call without prior error")
	}
	if s.calls <= s.failures {
		return "SELECT broken", nil
	}
	return "SELECT ok", nil
}

type fakeQuerier struct {
	calls int
	err   error
}

func (q *fakeQuerier) Query(_ context.Context, sql string, _ int) (*model.QueryResult, error) {
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	if strings.Contains(sql, "broken") {
		return nil, &store.ExecutionError{Message: "no such column: broken"}
	}
	return &model.QueryResult{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}, RowCount: 1}, nil
}

func TestRunRepairBound(t *testing.T) {
	for maxRepairs := 0; maxRepairs <= 3; maxRepairs++ {
		for failures := 0; failures <= 5; failures++ {
			t.Run(fmt.Sprintf("repairs=%d/failures=%d", maxRepairs, failures), func(t *testing.T) {
				ss := &scriptedSynth{failures: failures}
				ex := New(ss, &fakeQuerier{}, maxRepairs, 10, logger.NewNop())

				out, err := ex.Run(context.Background(), "q", nil, &model.SchemaDescriptor{Text: "x"})
				require.NoError(t, err)
				assert.True(t, out.State.Terminal())
				assert.LessOrEqual(t, len(out.Attempts), maxRepairs+1)
				assert.LessOrEqual(t, ss.calls, maxRepairs+1)

				if failures <= maxRepairs {
					assert.Equal(t, model.StateSucceeded, out.State)
					assert.Len(t, out.Attempts, failures+1)
				} else {
					assert.Equal(t, model.StateExhausted, out.State)
				}
			})
		}
	}
}

func TestRunMalformedThenValid(t *testing.T) {
	q := &fakeQuerier{}
	fake := llmtest.New().
		Script(llm.StageSynthesize, "Sorry, I can't help with that.").
		Script(llm.StageRepair, sqlReply("SELECT ok"))
	ex := New(synth.New(fake, llm.Models{Main: "m"}, 10), q, 2, 10, logger.NewNop())

	out, err := ex.Run(context.Background(), "q", nil, &model.SchemaDescriptor{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, out.State)
	assert.Equal(t, malformedError, out.Attempts[0].Error)
	assert.Equal(t, model.ErrorSynthesisMalformed, out.Attempts[0].Kind)
	assert.Empty(t, out.Attempts[0].Query)
	assert.Equal(t, 1, q.calls)
}

func TestRunGuardRejectsWrites(t *testing.T) {
	q := &fakeQuerier{}
	fake := llmtest.New().
		Script(llm.StageSynthesize, sqlReply("WITH d AS (DELETE FROM fact_game_metrics RETURNING *) SELECT * FROM d")).
		Script(llm.StageRepair, sqlReply("SELECT 1; DROP TABLE x"), sqlReply("SELECT * INTO backup FROM fact_game_metrics"))
	ex := New(synth.New(fake, llm.Models{Main: "m"}, 10), q, 2, 10, logger.NewNop())

	out, err := ex.Run(context.Background(), "q", nil, &model.SchemaDescriptor{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.StateExhausted, out.State)
	assert.Zero(t, q.calls, "rejected statements never reach the store")
	for _, a := range out.Attempts {
		assert.Contains(t, a.Error, "statement rejected")
	}
}

func TestRunInfrastructureErrorsAbort(t *testing.T) {
	boom := errors.New("connection refused")
	ex := New(&scriptedSynth{}, &fakeQuerier{err: boom}, 2, 10, logger.NewNop())

	_, err := ex.Run(context.Background(), "q", nil, &model.SchemaDescriptor{Text: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestRunStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ss := &scriptedSynth{}
	ex := New(ss, &fakeQuerier{}, 2, 10, logger.NewNop())

	_, err := ex.Run(ctx, "q", nil, &model.SchemaDescriptor{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ss.calls)
}

func TestRunModelErrorAborts(t *testing.T) {
	fake := llmtest.New().Fail(llm.StageSynthesize, context.DeadlineExceeded)
	ex := New(synth.New(fake, llm.Models{Main: "m"}, 10), &fakeQuerier{}, 2, 10, logger.NewNop())

	_, err := ex.Run(context.Background(), "q", nil, &model.SchemaDescriptor{Text: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
