// Package executor runs synthesized statements with bounded repair.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/internal/store"
	"github.com/playintel/market-analyst/internal/synth"
	"github.com/playintel/market-analyst/pkg/logger"
	"github.com/playintel/market-analyst/pkg/metrics"
	"github.com/playintel/market-analyst/pkg/tracing"
)

// malformedError is fed back to the synthesizer when its reply held no
// statement.
const malformedError = "The previous reply did not contain a usable SQL statement. Reply with JSON holding one SELECT statement in sql_query."

// Synthesizer produces candidate statements.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (string, error)
}

// Querier runs statements against the analytic store.
type Querier interface {
	Query(ctx context.Context, sql string, limit int) (*model.QueryResult, error)
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State    model.AttemptState
	Attempts []model.QueryAttempt
	Result   *model.QueryResult
	// Query is the statement that succeeded, or the last one tried.
	Query string
	// Trace lists every state entered, in order.
	Trace []model.AttemptState
}

// Executor drives the Pending → Executing → Succeeded | Failed → Repairing
// → Executing ... → Exhausted state machine.
type Executor struct {
	synth      Synthesizer
	store      Querier
	maxRepairs int
	rowLimit   int
	logger     *logger.Logger
}

// New creates an executor. maxRepairs is the number of repairs allowed
// after the first try.
func New(s Synthesizer, q Querier, maxRepairs, rowLimit int, log *logger.Logger) *Executor {
	if maxRepairs < 0 {
		maxRepairs = model.MaxRepairAttempts
	}
	return &Executor{
		synth:      s,
		store:      q,
		maxRepairs: maxRepairs,
		rowLimit:   rowLimit,
		logger:     log.Named("executor"),
	}
}

// run holds the mutable state of one request's loop.
type run struct {
	state     model.AttemptState
	index     int
	query     string
	lastError string
	started   time.Time
	out       Outcome
}

func (r *run) enter(s model.AttemptState) {
	r.state = s
	r.out.Trace = append(r.out.Trace, s)
}

func (r *run) fail(kind model.ErrorKind, msg string) {
	r.lastError = msg
	r.out.Attempts = append(r.out.Attempts, model.QueryAttempt{
		Index:      r.index,
		Query:      r.query,
		Outcome:    model.OutcomeError,
		Error:      msg,
		Kind:       kind,
		DurationMs: time.Since(r.started).Milliseconds(),
	})
	r.enter(model.StateFailed)
}

// Run synthesizes and executes a statement for question, repairing on
// statement failures until it succeeds or the repair budget is spent.
// Errors are returned only for failures repair cannot address: model
// errors, store outages, timeouts and cancellation.
func (e *Executor) Run(ctx context.Context, question string, history []model.HistoryMessage, schema *model.SchemaDescriptor) (*Outcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "executor.run")
	defer span.End()

	r := &run{}
	r.enter(model.StatePending)

	for !r.state.Terminal() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch r.state {
		case model.StatePending, model.StateRepairing:
			r.started = time.Now()
			req := synth.Request{Question: question, History: history, Schema: schema}
			if r.state == model.StateRepairing {
				req.PriorQuery = r.query
				req.PriorError = r.lastError
			}
			q, err := e.synth.Synthesize(ctx, req)
			if errors.Is(err, synth.ErrMalformed) {
				r.query = ""
				e.logger.Debug("malformed synthesis", zap.Int("attempt", r.index))
				r.fail(model.ErrorSynthesisMalformed, malformedError)
				continue
			}
			if err != nil {
				return nil, err
			}
			r.query = q
			r.enter(model.StateExecuting)

		case model.StateExecuting:
			if err := e.execute(ctx, r); err != nil {
				return nil, err
			}

		case model.StateFailed:
			if r.index < e.maxRepairs {
				r.index++
				r.enter(model.StateRepairing)
			} else {
				r.enter(model.StateExhausted)
			}
		}
	}

	r.out.State = r.state
	r.out.Query = r.query
	metrics.RecordQueryAttempts(string(r.state), len(r.out.Attempts))
	span.SetAttributes(
		attribute.String("executor.state", string(r.state)),
		attribute.Int("executor.attempts", len(r.out.Attempts)),
	)
	e.logger.Info("query loop finished",
		zap.String("state", string(r.state)),
		zap.Int("attempts", len(r.out.Attempts)),
	)
	return &r.out, nil
}

// execute runs the current statement and moves to Succeeded or Failed.
func (e *Executor) execute(ctx context.Context, r *run) error {
	sql, err := store.Guard(r.query)
	if err != nil {
		e.logger.Warn("statement rejected", zap.Int("attempt", r.index), zap.Error(err))
		r.fail(model.ErrorSynthesisMalformed, fmt.Sprintf("%v. Write a single read-only SELECT statement.", err))
		return nil
	}
	e.logger.Debug("executing", zap.Int("attempt", r.index), zap.String("sql", sql))

	start := time.Now()
	res, err := e.store.Query(ctx, sql, e.rowLimit)
	elapsed := time.Since(start)

	var execErr *store.ExecutionError
	switch {
	case errors.As(err, &execErr):
		metrics.RecordExecution("statement_error", elapsed.Seconds())
		e.logger.Info("statement failed", zap.Int("attempt", r.index), zap.String("code", execErr.Code))
		r.fail(model.ErrorExecution, execErr.Error())
		return nil
	case err != nil:
		metrics.RecordExecution("store_error", elapsed.Seconds())
		return err
	}

	metrics.RecordExecution("ok", elapsed.Seconds())
	r.query = sql
	r.out.Result = res
	r.out.Attempts = append(r.out.Attempts, model.QueryAttempt{
		Index:      r.index,
		Query:      sql,
		Outcome:    model.OutcomeSuccess,
		DurationMs: time.Since(r.started).Milliseconds(),
	})
	r.enter(model.StateSucceeded)
	return nil
}
