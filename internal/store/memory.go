package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/rowforge/rowforge/internal/model"
)

// MemRepository is an in-memory Repository used in tests in place of
// PostgreSQL. It keeps the exact latest-wins-on-larger-ProcessedRows upsert
// semantics PostgresRepository enforces in SQL, so tests exercising the
// engine against this fake observe the same idempotence guarantees.
type MemRepository struct {
	mu       sync.Mutex
	jobs     map[string]model.JobStatus
	progress map[string]model.ChunkProgress
}

// NewMemRepository returns an empty in-memory catalog.
func NewMemRepository() *MemRepository {
	return &MemRepository{
		jobs:     make(map[string]model.JobStatus),
		progress: make(map[string]model.ChunkProgress),
	}
}

func (r *MemRepository) UpsertJob(ctx context.Context, job model.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.JobID] = job
	return nil
}

func (r *MemRepository) GetJob(ctx context.Context, jobID string) (model.JobStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	return job, ok, nil
}

func progressKey(jobID string, chunkIndex int) string {
	return fmt.Sprintf("%s/%d", jobID, chunkIndex)
}

func (r *MemRepository) UpsertChunkProgress(ctx context.Context, progress model.ChunkProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := progressKey(progress.JobID, progress.ChunkIndex)
	if existing, ok := r.progress[key]; ok && existing.ProcessedRows > progress.ProcessedRows {
		return nil
	}
	r.progress[key] = progress
	return nil
}

func (r *MemRepository) GetChunkProgress(ctx context.Context, jobID string, chunkIndex int) (model.ChunkProgress, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.progress[progressKey(jobID, chunkIndex)]
	return cp, ok, nil
}

func (r *MemRepository) ListChunkProgress(ctx context.Context, jobID string) ([]model.ChunkProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.ChunkProgress
	for _, cp := range r.progress {
		if cp.JobID == jobID {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (r *MemRepository) FinalizeChunk(ctx context.Context, jobID string, chunkIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := progressKey(jobID, chunkIndex)
	cp, ok := r.progress[key]
	if !ok {
		return nil
	}
	cp.Status = model.ChunkCompleted
	r.progress[key] = cp
	return nil
}
