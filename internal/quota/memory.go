package quota

import (
	"context"
	"sync"
	"time"

	"github.com/playintel/market-analyst/internal/model"
)

// MemoryStore keeps records in process. A single mutex makes each
// operation atomic.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*model.QuotaRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*model.QuotaRecord)}
}

func (s *MemoryStore) record(userID, plan string, now time.Time) *model.QuotaRecord {
	rec, ok := s.records[userID]
	if !ok {
		rec = &model.QuotaRecord{UserID: userID, Plan: plan}
		s.records[userID] = rec
	}
	rollover(rec, now)
	rec.UpdatedAt = now
	return rec
}

// Reserve consumes one unit if the user is under limit.
func (s *MemoryStore) Reserve(_ context.Context, userID, plan string, limit int, now time.Time) (model.QuotaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID, plan, now)
	rec.Plan = plan
	ok := admit(rec, limit)
	return *rec, ok, nil
}

// Release returns one unit in the current period.
func (s *MemoryStore) Release(_ context.Context, userID string, now time.Time) (model.QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(userID, "", now)
	if rec.Used > 0 {
		rec.Used--
	}
	return *rec, nil
}

// Get returns the current record.
func (s *MemoryStore) Get(_ context.Context, userID, plan string, now time.Time) (model.QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return model.QuotaRecord{UserID: userID, Plan: plan, ResetAt: NextReset(now), UpdatedAt: now}, nil
	}
	rollover(rec, now)
	return *rec, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
