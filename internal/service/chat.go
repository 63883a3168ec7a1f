// Package service orchestrates the market analyst pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/playintel/market-analyst/internal/executor"
	"github.com/playintel/market-analyst/internal/interpret"
	"github.com/playintel/market-analyst/internal/model"
	natsclient "github.com/playintel/market-analyst/internal/nats"
	"github.com/playintel/market-analyst/internal/quota"
	"github.com/playintel/market-analyst/internal/router"
	"github.com/playintel/market-analyst/internal/store"
	"github.com/playintel/market-analyst/pkg/logger"
	"github.com/playintel/market-analyst/pkg/metrics"
	"github.com/playintel/market-analyst/pkg/tracing"
)

// DefaultPlan applies when the caller sends no plan.
const DefaultPlan = "free"

// ErrInvalidRequest is returned for requests the pipeline cannot accept.
var ErrInvalidRequest = errors.New("invalid chat request")

const (
	timeoutAnswer = "That one took longer than expected. Please try again in a moment."
	failureAnswer = "Something went wrong while working on that. Please try again in a moment."
	chartAnswer   = "Here's the chart for those figures:"
)

// QuotaGate admits requests against the user's plan.
type QuotaGate interface {
	CheckAndReserve(ctx context.Context, userID, plan string) (quota.Decision, error)
	Release(ctx context.Context, userID, plan string, reservedFor time.Time) (model.QuotaRecord, error)
	Usage(ctx context.Context, userID, plan string) (model.QuotaRecord, error)
}

// Classifier routes a question.
type Classifier interface {
	Classify(ctx context.Context, question string, history []model.HistoryMessage) (router.Decision, error)
}

// SchemaSource builds the schema descriptor for a request.
type SchemaSource interface {
	Build(ctx context.Context) (*model.SchemaDescriptor, error)
}

// QueryRunner runs the synthesize/execute/repair loop.
type QueryRunner interface {
	Run(ctx context.Context, question string, history []model.HistoryMessage, schema *model.SchemaDescriptor) (*executor.Outcome, error)
}

// Answerer turns loop outcomes into answers.
type Answerer interface {
	Interpret(ctx context.Context, question string, result *model.QueryResult) (string, error)
	ExhaustedAnswer(ctx context.Context, question string, schema *model.SchemaDescriptor) string
}

// Responder answers conversational questions.
type Responder interface {
	Respond(ctx context.Context, question string, history []model.HistoryMessage) (string, error)
}

// Deps are the pipeline stages used by ChatService.
type Deps struct {
	Quota       QuotaGate
	Router      Classifier
	Schema      SchemaSource
	Executor    QueryRunner
	Interpreter Answerer
	Responder   Responder
	Recorder    natsclient.Recorder
}

// Options tunes ChatService.
type Options struct {
	// RequestTimeout bounds one request end to end. Zero disables it.
	RequestTimeout time.Duration
	// HistoryTurns bounds the history forwarded to the model stages.
	HistoryTurns int
}

// ChatService answers chat requests.
type ChatService struct {
	deps    Deps
	opts    Options
	logger  *logger.Logger
	timeNow func() time.Time
}

// NewChatService creates a chat service.
func NewChatService(deps Deps, opts Options, log *logger.Logger) *ChatService {
	if deps.Recorder == nil {
		deps.Recorder = natsclient.NopRecorder{}
	}
	return &ChatService{
		deps:    deps,
		opts:    opts,
		logger:  log.Named("chat"),
		timeNow: time.Now,
	}
}

// Chat answers one request. Pipeline failures are normalized into the
// envelope's Kind and a plain answer; the error return is reserved for
// requests that are invalid.
func (s *ChatService) Chat(ctx context.Context, req *model.ChatRequest) (*model.AnswerEnvelope, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	plan := req.Plan
	if plan == "" {
		plan = DefaultPlan
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	ctx, span := tracing.Tracer().Start(ctx, "chat")
	defer span.End()

	log := logger.FromContext(ctx, s.logger).With(zap.String("session_id", sessionID))
	started := time.Now()

	env := s.answer(ctx, log, question, req.UserID, plan, req.ConversationHistory)
	env.SessionID = sessionID

	route := string(env.Route)
	if route == "" {
		route = "none"
	}
	outcome := string(env.Kind)
	if outcome == "" {
		outcome = "answered"
	}
	metrics.ChatOutcomes.WithLabelValues(route, outcome).Inc()
	span.SetAttributes(
		attribute.String("chat.route", route),
		attribute.String("chat.outcome", outcome),
		attribute.Bool("chat.counted", env.Counted),
	)
	log.Info("chat answered",
		zap.String("route", route),
		zap.String("outcome", outcome),
		zap.Int("attempts", len(env.Attempts)),
		zap.Bool("counted", env.Counted),
		zap.Duration("duration", time.Since(started)),
	)

	s.record(ctx, log, req.UserID, plan, question, env)
	return env, nil
}

func (s *ChatService) answer(ctx context.Context, log *logger.Logger, question, userID, plan string, fullHistory []model.HistoryMessage) *model.AnswerEnvelope {
	decision, err := s.deps.Quota.CheckAndReserve(ctx, userID, plan)
	if err != nil {
		return s.fail(ctx, log, &model.AnswerEnvelope{}, userID, plan, fmt.Errorf("quota gate: %w", err))
	}
	if !decision.Allowed {
		return &model.AnswerEnvelope{
			Answer: quotaExceededAnswer(decision.Record, plan),
			Quota:  decision.Record.View(),
			Kind:   model.ErrorQuotaExceeded,
		}
	}

	env := &model.AnswerEnvelope{Quota: decision.Record.View(), Counted: true}

	if interpret.IsChartAcceptance(question, fullHistory) {
		env.Answer = chartAnswer
		env.ChartHint = &model.ChartHint{ShowPrevious: true}
		s.refund(ctx, log, env, userID, plan)
		return env
	}

	history := model.RecentHistory(fullHistory, s.opts.HistoryTurns)

	var (
		route     router.Decision
		schema    *model.SchemaDescriptor
		schemaErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		route, err = s.deps.Router.Classify(gctx, question, history)
		return err
	})
	g.Go(func() error {
		schema, schemaErr = s.deps.Schema.Build(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return s.fail(ctx, log, env, userID, plan, fmt.Errorf("route: %w", err))
	}
	env.Route = route.Route

	if route.Route == model.RouteConversational {
		answer, err := s.deps.Responder.Respond(ctx, question, history)
		if err != nil {
			return s.fail(ctx, log, env, userID, plan, err)
		}
		env.Answer = answer
	} else {
		if schemaErr != nil {
			return s.fail(ctx, log, env, userID, plan, fmt.Errorf("schema: %w", schemaErr))
		}
		if err := s.analyze(ctx, log, env, question, history, schema); err != nil {
			return s.fail(ctx, log, env, userID, plan, err)
		}
	}

	if interpret.IsClarification(env.Answer) {
		log.Debug("answer asks for clarification, not counted")
		s.refund(ctx, log, env, userID, plan)
	}
	return env
}

// analyze runs the analytical path and fills env.
func (s *ChatService) analyze(ctx context.Context, log *logger.Logger, env *model.AnswerEnvelope, question string, history []model.HistoryMessage, schema *model.SchemaDescriptor) error {
	out, err := s.deps.Executor.Run(ctx, question, history, schema)
	if err != nil {
		return err
	}
	env.Attempts = out.Attempts

	if out.State == model.StateExhausted {
		env.Kind = model.ErrorRepairExhausted
		env.Answer = s.deps.Interpreter.ExhaustedAnswer(ctx, question, schema)
		return nil
	}

	env.Query = out.Query
	env.Result = out.Result

	answer, err := s.deps.Interpreter.Interpret(ctx, question, out.Result)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.Warn("interpretation failed, using plain rendering", zap.Error(err))
		answer = interpret.Fallback(question, out.Result)
	}

	env.IncludeData = interpret.IncludeData(question, out.Result)
	env.ChartHint = interpret.ChartHint(question, out.Result)
	shown := 0
	if env.IncludeData {
		shown = out.Result.RowCount
	}
	env.Answer = interpret.WithChartOffer(answer, question, env.ChartHint, shown)
	return nil
}

// fail normalizes an upstream error into a generic answer and refunds the
// reservation.
func (s *ChatService) fail(ctx context.Context, log *logger.Logger, env *model.AnswerEnvelope, userID, plan string, err error) *model.AnswerEnvelope {
	kind, answer := model.ErrorUpstreamFailure, failureAnswer
	if isTimeout(ctx, err) {
		kind, answer = model.ErrorUpstreamTimeout, timeoutAnswer
	}
	log.Warn("chat failed", zap.String("kind", string(kind)), zap.Error(err))

	env.Kind = kind
	env.Answer = answer
	env.Query = ""
	env.Result = nil
	env.IncludeData = false
	env.ChartHint = nil
	if env.Counted {
		s.refund(ctx, log, env, userID, plan)
	}
	return env
}

// refund returns the request's reservation. It runs detached from the
// request deadline so an expired request can still be refunded.
func (s *ChatService) refund(ctx context.Context, log *logger.Logger, env *model.AnswerEnvelope, userID, plan string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	var reservedFor time.Time
	if env.Quota != nil {
		reservedFor = env.Quota.ResetAt
	}
	rec, err := s.deps.Quota.Release(rctx, userID, plan, reservedFor)
	if err != nil {
		log.Error("quota refund failed", zap.Error(err))
		return
	}
	env.Counted = false
	env.Quota = rec.View()
}

func (s *ChatService) record(ctx context.Context, log *logger.Logger, userID, plan, question string, env *model.AnswerEnvelope) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	ex := &model.Exchange{
		ID:        uuid.NewString(),
		SessionID: env.SessionID,
		UserID:    userID,
		Plan:      plan,
		Question:  question,
		Answer:    env.Answer,
		Route:     env.Route,
		Query:     env.Query,
		Attempts:  env.Attempts,
		Kind:      env.Kind,
		Counted:   env.Counted,
		CreatedAt: s.timeNow().UTC(),
	}
	if env.Result != nil {
		ex.RowCount = env.Result.RowCount
	}
	if _, err := s.deps.Recorder.Record(rctx, ex); err != nil {
		log.Warn("exchange not recorded", zap.Error(err))
	}
}

// Usage reports the user's allowance without consuming any.
func (s *ChatService) Usage(ctx context.Context, userID, plan string) (*model.QueryUsageResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if plan == "" {
		plan = DefaultPlan
	}
	rec, err := s.deps.Quota.Usage(ctx, userID, plan)
	if err != nil {
		return nil, err
	}
	return &model.QueryUsageResponse{
		Allowed:   rec.Remaining() != 0,
		QuotaView: *rec.View(),
	}, nil
}

// History replays the caller's exchanges in a recorded session.
func (s *ChatService) History(ctx context.Context, sessionID, userID string, afterSequence uint64, limit int) (*model.HistoryResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	return s.deps.Recorder.History(ctx, sessionID, userID, afterSequence, limit)
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, store.ErrTimeout) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func quotaExceededAnswer(rec model.QuotaRecord, plan string) string {
	return fmt.Sprintf("You've used all %d questions on the %s plan this month. Your allowance resets on %s.",
		rec.Limit, plan, rec.ResetAt.UTC().Format("January 2, 2006"))
}
