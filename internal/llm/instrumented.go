package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/playintel/market-analyst/pkg/logger"
	"github.com/playintel/market-analyst/pkg/metrics"
	"github.com/playintel/market-analyst/pkg/tracing"
)

// Instrumented wraps a Client with a per-call timeout, metrics and spans.
type Instrumented struct {
	next    Client
	timeout time.Duration
	logger  *logger.Logger
}

// NewInstrumented wraps next. A zero timeout leaves deadlines to the caller.
func NewInstrumented(next Client, timeout time.Duration, log *logger.Logger) *Instrumented {
	return &Instrumented{
		next:    next,
		timeout: timeout,
		logger:  log.Named("llm"),
	}
}

// Name returns the wrapped provider name.
func (c *Instrumented) Name() string {
	return c.next.Name()
}

// Complete forwards the request, recording latency and token usage per stage.
func (c *Instrumented) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := tracing.Tracer().Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.next.Name()),
		attribute.String("llm.stage", string(req.Stage)),
		attribute.String("llm.model", req.Model),
	)

	start := time.Now()
	resp, err := c.next.Complete(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordLLMCall(c.next.Name(), string(req.Stage), "error", elapsed.Seconds(), 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		c.logger.Warn("completion failed",
			zap.String("stage", string(req.Stage)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.RecordLLMCall(c.next.Name(), string(req.Stage), "ok", elapsed.Seconds(), resp.TokensIn, resp.TokensOut)
	span.SetAttributes(
		attribute.Int("llm.tokens_in", resp.TokensIn),
		attribute.Int("llm.tokens_out", resp.TokensOut),
	)
	c.logger.Debug("completion",
		zap.String("stage", string(req.Stage)),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Duration("elapsed", elapsed),
	)
	return resp, nil
}
