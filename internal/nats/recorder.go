package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/pkg/logger"
	"github.com/playintel/market-analyst/pkg/metrics"
)

const (
	// StreamName is the name of the exchanges stream.
	StreamName = "ANALYST_EXCHANGES"

	// SubjectPrefix is the prefix for all exchange subjects.
	SubjectPrefix = "exchange"

	// DefaultHistoryLimit bounds one History page.
	DefaultHistoryLimit = 50
)

// ErrDisabled is returned by history reads when recording is off.
var ErrDisabled = errors.New("exchange recording disabled")

// Recorder persists completed exchanges.
type Recorder interface {
	Record(ctx context.Context, ex *model.Exchange) (uint64, error)
	// History replays the exchanges userID made in a session.
	History(ctx context.Context, sessionID, userID string, afterSequence uint64, limit int) (*model.HistoryResponse, error)
}

// ExchangeSubject returns the subject for an exchange.
func ExchangeSubject(sessionID, userID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, Token(sessionID), Token(userID))
}

// HistoryFilter returns the filter subject for one user's exchanges in a
// session. Other users sharing the session id never match.
func HistoryFilter(sessionID, userID string) string {
	return ExchangeSubject(sessionID, userID)
}

// Token makes s safe to use as one subject token.
func Token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// StreamRecorder publishes exchanges to JetStream.
type StreamRecorder struct {
	client *Client
	logger *logger.Logger
}

// NewStreamRecorder creates a recorder on client.
func NewStreamRecorder(client *Client, log *logger.Logger) *StreamRecorder {
	return &StreamRecorder{client: client, logger: log.Named("recorder")}
}

// EnsureStream ensures the exchanges stream exists with proper configuration.
func (r *StreamRecorder) EnsureStream(ctx context.Context) error {
	js := r.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Completed market analyst exchanges",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Record publishes ex and returns its stream sequence.
func (r *StreamRecorder) Record(ctx context.Context, ex *model.Exchange) (uint64, error) {
	data, err := json.Marshal(ex)
	if err != nil {
		metrics.ExchangesRecorded.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to marshal exchange: %w", err)
	}

	ack, err := r.client.JetStream().Publish(ctx, ExchangeSubject(ex.SessionID, ex.UserID), data)
	if err != nil {
		metrics.ExchangesRecorded.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to publish exchange: %w", err)
	}

	metrics.ExchangesRecorded.WithLabelValues("ok").Inc()
	return ack.Sequence, nil
}

// History replays userID's exchanges in a session after a stream sequence.
func (r *StreamRecorder) History(ctx context.Context, sessionID, userID string, afterSequence uint64, limit int) (*model.HistoryResponse, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject:     HistoryFilter(sessionID, userID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := r.client.JetStream().CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchanges: %w", err)
	}

	session := model.NewSession(sessionID, time.Time{})
	var lastSequence uint64
	count := 0
	for msg := range batch.Messages() {
		var ex model.Exchange
		if err := json.Unmarshal(msg.Data(), &ex); err != nil {
			r.logger.Warn("skipping undecodable exchange", zap.String("subject", msg.Subject()), zap.Error(err))
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			lastSequence = meta.Sequence.Stream
		}
		count++
		appendOwned(session, &ex, userID)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	return &model.HistoryResponse{
		Session:      session,
		LastSequence: lastSequence,
		HasMore:      count == limit,
	}, nil
}

// appendOwned adds ex to session when userID made it. Distinct user ids can
// share a subject token ("a.b" and "a_b"), so the payload is checked too.
func appendOwned(session *model.ConversationSession, ex *model.Exchange, userID string) bool {
	if ex.UserID != userID {
		return false
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = ex.CreatedAt
	}
	for _, m := range ex.Messages() {
		session.Append(m)
	}
	return true
}

// NopRecorder discards exchanges. It is used when NATS is not configured.
type NopRecorder struct{}

// Record does nothing.
func (NopRecorder) Record(context.Context, *model.Exchange) (uint64, error) {
	return 0, nil
}

// History always fails with ErrDisabled.
func (NopRecorder) History(context.Context, string, string, uint64, int) (*model.HistoryResponse, error) {
	return nil, ErrDisabled
}
