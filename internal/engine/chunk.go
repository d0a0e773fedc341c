// Package engine is the job and chunk orchestration core: the bounded
// parallel scheduler, pause/resume/cancel control, and progress aggregation
// the specification calls the job and chunk workflows. It stands in for the
// durable workflow fabric the teacher relies on Temporal for — none of the
// retrieved examples carry a workflow SDK, so orchestration here is plain
// goroutines, channels, and an explicit Postgres-backed catalog instead of
// replay-based durability. The bounded parallel commit/completion pattern is
// grounded on the teacher's ParallelCommitter (internal/copier/parallel.go).
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rowforge/rowforge/internal/activities"
	"github.com/rowforge/rowforge/internal/logging"
	"github.com/rowforge/rowforge/internal/model"
)

// defaultBatchSize is the row count per ProcessUserBatch call when the
// deployment config leaves batchSize unset (spec default batchSize).
const defaultBatchSize = 1000

// defaultProgressFlushEveryNBatches flushes a chunk progress snapshot every
// 10 batches and on the final batch when the config leaves it unset.
const defaultProgressFlushEveryNBatches = 10

// ChunkRunner executes one chunk workflow over boundaries computed by the
// scheduler: read, batch iteration, and finalize.
type ChunkRunner struct {
	rowActs                *activities.RowRangeActivities
	batchSize              int64
	progressFlushEveryRows int64
}

// NewChunkRunner wires a chunk runner to the row-range activities it calls.
// batchSize and progressFlushEveryNBatches come from the deployment's engine
// config; a value of 0 falls back to the specification's stated default.
func NewChunkRunner(rowActs *activities.RowRangeActivities, batchSize, progressFlushEveryNBatches int64) *ChunkRunner {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if progressFlushEveryNBatches <= 0 {
		progressFlushEveryNBatches = defaultProgressFlushEveryNBatches
	}
	return &ChunkRunner{
		rowActs:                rowActs,
		batchSize:              batchSize,
		progressFlushEveryRows: progressFlushEveryNBatches * batchSize,
	}
}

// Run drives one partition through READING -> PROCESSING -> COMPLETED|FAILED
// and returns the terminal ChunkProgress. Boundaries are computed by the
// scheduler, not here: the scheduler tracks the byte cursor sequentially
// across chunks (see job.go), so by the time Run is called the chunk's byte
// range is already fixed. A non-nil error return means the chunk is
// terminally FAILED; the caller treats that as fatal to the whole job, per
// the specification.
func (c *ChunkRunner) Run(ctx context.Context, jobID string, chunkIndex int, directory, filename string, boundaries model.ChunkBoundaries, enableDeduplication bool, onHeartbeat func()) (model.ChunkProgress, error) {
	startTime := time.Now()

	correlationID := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, correlationID)
	logger := logging.ChunkLogger(correlationID, jobID, chunkIndex, boundaries.StartOffset, boundaries.EndOffset)
	logger.Info("chunk started")

	progress := model.ChunkProgress{
		JobID:       jobID,
		ChunkIndex:  chunkIndex,
		StartOffset: boundaries.StartOffset,
		EndOffset:   boundaries.EndOffset,
		Status:      model.ChunkReading,
		StartTime:   startTime,
	}

	chunkData, err := c.rowActs.ReadChunkFromFile(ctx, directory, filename, boundaries.StartOffset, boundaries.EndOffset, chunkIndex)
	if err != nil {
		return c.fail(ctx, jobID, chunkIndex, boundaries.StartOffset, boundaries.EndOffset, startTime, fmt.Errorf("read chunk from file: %w", err))
	}

	progress.Status = model.ChunkProcessing
	progress.TotalRows = chunkData.RowCount

	var rowsSinceFlush int64
	for batchStart := int64(0); batchStart < chunkData.RowCount; batchStart += c.batchSize {
		if err := ctx.Err(); err != nil {
			return c.fail(ctx, jobID, chunkIndex, boundaries.StartOffset, boundaries.EndOffset, startTime, fmt.Errorf("chunk cancelled: %w", err))
		}

		batchEnd := batchStart + c.batchSize
		if batchEnd > chunkData.RowCount {
			batchEnd = chunkData.RowCount
		}

		result, err := c.rowActs.ProcessUserBatch(ctx, jobID, chunkIndex, chunkData.Rows[batchStart:batchEnd], batchStart, enableDeduplication, onHeartbeat)
		if err != nil {
			return c.fail(ctx, jobID, chunkIndex, boundaries.StartOffset, boundaries.EndOffset, startTime, fmt.Errorf("process batch [%d,%d): %w", batchStart, batchEnd, err))
		}

		progress.ProcessedRows += result.ProcessedCount
		progress.ValidRows += result.ValidCount
		progress.InvalidRows += result.InvalidCount
		progress.DuplicateRows += result.DuplicateCount
		rowsSinceFlush += result.ProcessedCount

		isFinalBatch := batchEnd >= chunkData.RowCount
		if rowsSinceFlush >= c.progressFlushEveryRows || isFinalBatch {
			if err := c.rowActs.UpdateChunkProgress(ctx, progress); err != nil {
				return c.fail(ctx, jobID, chunkIndex, boundaries.StartOffset, boundaries.EndOffset, startTime, fmt.Errorf("update chunk progress: %w", err))
			}
			rowsSinceFlush = 0
		}
	}

	endTime := time.Now()
	progress.Status = model.ChunkCompleted
	progress.EndTime = &endTime
	logger.Info("chunk completed", "rows", progress.ProcessedRows)

	if err := c.rowActs.UpdateChunkProgress(ctx, progress); err != nil {
		return c.fail(ctx, jobID, chunkIndex, boundaries.StartOffset, boundaries.EndOffset, startTime, fmt.Errorf("update final chunk progress: %w", err))
	}
	if err := c.rowActs.FinalizeChunk(ctx, jobID, chunkIndex); err != nil {
		return c.fail(ctx, jobID, chunkIndex, boundaries.StartOffset, boundaries.EndOffset, startTime, fmt.Errorf("finalize chunk: %w", err))
	}

	return progress, nil
}

func (c *ChunkRunner) fail(ctx context.Context, jobID string, chunkIndex int, start, end int64, startTime time.Time, cause error) (model.ChunkProgress, error) {
	endTime := time.Now()
	progress := model.ChunkProgress{
		JobID:        jobID,
		ChunkIndex:   chunkIndex,
		StartOffset:  start,
		EndOffset:    end,
		Status:       model.ChunkFailed,
		StartTime:    startTime,
		EndTime:      &endTime,
		ErrorMessage: cause.Error(),
	}
	logging.ChunkLogger(logging.CorrelationID(ctx), jobID, chunkIndex, start, end).Error("chunk failed", "error", cause)

	// Best-effort: recordChunkFailure is never allowed to mask the
	// original cause from the caller.
	_ = c.rowActs.RecordChunkFailure(ctx, progress)
	return progress, cause
}
