package spool

import (
	"context"
	"sync"

	"github.com/rowforge/rowforge/internal/model"
)

// MemStore is an in-memory Store used in tests in place of SQLite.
type MemStore struct {
	mu      sync.Mutex
	nextID  int64
	records []model.FailedRecord
}

// NewMemStore returns an empty in-memory spool.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Add(ctx context.Context, rec model.FailedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, rec)
	return nil
}

func (s *MemStore) List(ctx context.Context, jobID string, includeReprocessed bool) ([]model.FailedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.FailedRecord
	for _, rec := range s.records {
		if rec.JobID != jobID {
			continue
		}
		if !includeReprocessed && rec.Reprocessed {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemStore) MarkReprocessed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Reprocessed = true
			return nil
		}
	}
	return nil
}

func (s *MemStore) CountPending(ctx context.Context, jobID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rec := range s.records {
		if rec.JobID == jobID && !rec.Reprocessed {
			count++
		}
	}
	return count, nil
}
