// Package store is the durable job/chunk-progress catalog, persisting
// model.JobStatus and model.ChunkProgress to PostgreSQL so they outlive the
// process. The engine only writes to it: after a restart it does not read
// jobs or chunk progress back, and GetStatus answers from in-memory state
// alone. It plays the
// role the teacher's internal/metadata/postgres.go plays for partition
// lineage, repurposed here as the job-state catalog the specification calls
// an opaque "durable store for job records".
package store

import (
	"context"

	"github.com/rowforge/rowforge/internal/model"
)

// JobRepository persists JobStatus, keyed by JobID. Upserts are idempotent:
// writing the same status twice leaves the stored state unchanged.
type JobRepository interface {
	UpsertJob(ctx context.Context, job model.JobStatus) error
	GetJob(ctx context.Context, jobID string) (model.JobStatus, bool, error)
}

// ProgressRepository persists ChunkProgress, keyed by (JobID, ChunkIndex).
// UpsertChunkProgress follows latest-wins-on-larger-ProcessedRows semantics,
// matching the specification's idempotence requirement for
// updateChunkProgress.
type ProgressRepository interface {
	UpsertChunkProgress(ctx context.Context, progress model.ChunkProgress) error
	GetChunkProgress(ctx context.Context, jobID string, chunkIndex int) (model.ChunkProgress, bool, error)
	ListChunkProgress(ctx context.Context, jobID string) ([]model.ChunkProgress, error)
	FinalizeChunk(ctx context.Context, jobID string, chunkIndex int) error
}

// Repository is the combined catalog interface the engine depends on.
type Repository interface {
	JobRepository
	ProgressRepository
}
