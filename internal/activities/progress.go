package activities

import (
	"context"
	"fmt"

	"github.com/rowforge/rowforge/internal/model"
	"github.com/rowforge/rowforge/internal/retry"
)

// UpdateChunkProgress implements the row-range activity of the same name.
// The repository itself enforces the idempotent, latest-wins-on-larger-
// processedRows upsert semantics; this activity is just the retried call
// into it.
func (a *RowRangeActivities) UpdateChunkProgress(ctx context.Context, progress model.ChunkProgress) error {
	return retry.Do(ctx, "updateChunkProgress", retry.Short, func(ctx context.Context, attempt int) error {
		if err := a.progress.UpsertChunkProgress(ctx, progress); err != nil {
			return fmt.Errorf("update chunk progress %s/%d: %w", progress.JobID, progress.ChunkIndex, err)
		}
		return nil
	})
}

// RecordChunkFailure persists a chunk-terminal failure snapshot. It never
// returns an error the caller should treat as fatal to the owning chunk
// workflow beyond what it already knows: this call is a best-effort record
// for operator inspection, retried under the short profile like every other
// bookkeeping activity.
func (a *RowRangeActivities) RecordChunkFailure(ctx context.Context, progress model.ChunkProgress) error {
	progress.Status = model.ChunkFailed
	return retry.Do(ctx, "recordChunkFailure", retry.Short, func(ctx context.Context, attempt int) error {
		if err := a.progress.UpsertChunkProgress(ctx, progress); err != nil {
			return fmt.Errorf("record chunk failure %s/%d: %w", progress.JobID, progress.ChunkIndex, err)
		}
		return nil
	})
}

// FinalizeChunk moves chunk-side state to terminal. Idempotent: calling it
// twice for the same chunk is a no-op the second time.
func (a *RowRangeActivities) FinalizeChunk(ctx context.Context, jobID string, chunkIndex int) error {
	return retry.Do(ctx, "finalizeChunk", retry.Short, func(ctx context.Context, attempt int) error {
		if err := a.progress.FinalizeChunk(ctx, jobID, chunkIndex); err != nil {
			return fmt.Errorf("finalize chunk %s/%d: %w", jobID, chunkIndex, err)
		}
		return nil
	})
}
