package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rowforge/rowforge/internal/activities"
	"github.com/rowforge/rowforge/internal/logging"
	"github.com/rowforge/rowforge/internal/metrics"
	"github.com/rowforge/rowforge/internal/model"
	"github.com/rowforge/rowforge/internal/store"
)

// jobExecutionTimeout and jobRunTimeout bound a job's total and per-run
// wall-clock time, per the specification's ~24h/~12h limits.
const (
	jobExecutionTimeout = 24 * time.Hour
	jobRunTimeout       = 12 * time.Hour
)

// jobHandle is the live, in-memory state for one running job: the
// authoritative source for GetStatus/GetProgress while the job exists, and
// the target of pause/resume/cancel signals. Every field below is touched
// only while holding mu, matching the single-writer discipline the
// specification calls for on the job workflow thread.
type jobHandle struct {
	mu            sync.Mutex
	cond          *sync.Cond
	status        model.JobStatus
	chunkProgress map[int]model.ChunkProgress
	activeChunks  int
	paused        bool
	cancelled     bool
	done          chan struct{}

	// lastHeartbeat records when each running chunk last reported liveness.
	// Nothing currently watches it for staleness — there is no external
	// workflow fabric to time out a stuck activity against — so a missed
	// heartbeat is informational only.
	lastHeartbeat map[int]time.Time

	// reprocessedValid is the net row count the post-pass reprocess stage
	// moved from invalid to valid. recomputeAggregate re-derives Counters
	// from chunkProgress on every call, which would otherwise silently
	// discard this adjustment the next time GetStatus/GetProgress/
	// persistJob runs; folding it back in on every recompute is what keeps
	// it visible.
	reprocessedValid int64
}

func newJobHandle(jobID string, totalChunks int) *jobHandle {
	h := &jobHandle{
		status: model.JobStatus{
			JobID:       jobID,
			Status:      model.JobStarted,
			TotalChunks: totalChunks,
			StartTime:   time.Now(),
		},
		chunkProgress: make(map[int]model.ChunkProgress),
		done:          make(chan struct{}),
		lastHeartbeat: make(map[int]time.Time),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// recomputeAggregate recomputes job-level counters and completedChunks from
// the authoritative per-chunk map. Caller must hold mu.
func (h *jobHandle) recomputeAggregate() {
	var counters model.Counters
	completed := 0
	for _, cp := range h.chunkProgress {
		counters = counters.Add(model.Counters{
			ProcessedRows: cp.ProcessedRows,
			ValidRows:     cp.ValidRows,
			InvalidRows:   cp.InvalidRows,
			DuplicateRows: cp.DuplicateRows,
		})
		if cp.Status == model.ChunkCompleted {
			completed++
		}
	}
	counters.ValidRows += h.reprocessedValid
	counters.InvalidRows -= h.reprocessedValid
	if counters.InvalidRows < 0 {
		counters.InvalidRows = 0
	}
	h.status.Counters = counters
	h.status.CompletedChunks = completed
}

func (h *jobHandle) snapshot() model.JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recomputeAggregate()
	return h.status
}

// Engine owns every in-flight job and exposes the control-plane operations
// the specification's §6 external interfaces describe.
type Engine struct {
	rowActs     *activities.RowRangeActivities
	fileActs    *activities.FileActivities
	chunkRunner *ChunkRunner
	jobs        store.JobRepository
	progress    store.ProgressRepository
	metrics     *metrics.Metrics

	mu       sync.Mutex
	handles  map[string]*jobHandle
	cancelFn map[string]context.CancelFunc
}

// New wires an Engine to its activities and durable catalog. batchSize and
// progressFlushEveryNBatches come from the deployment's engine config and
// are forwarded to the chunk runner; either may be left 0 to take the
// specification's stated defaults.
func New(rowActs *activities.RowRangeActivities, fileActs *activities.FileActivities, jobs store.JobRepository, progress store.ProgressRepository, m *metrics.Metrics, batchSize, progressFlushEveryNBatches int64) *Engine {
	return &Engine{
		rowActs:     rowActs,
		fileActs:    fileActs,
		chunkRunner: NewChunkRunner(rowActs, batchSize, progressFlushEveryNBatches),
		jobs:        jobs,
		progress:    progress,
		metrics:     m,
		handles:     make(map[string]*jobHandle),
		cancelFn:    make(map[string]context.CancelFunc),
	}
}

// StartJob implements the control-plane operation of the same name: it
// generates a jobId, seeds the request, and starts the job workflow in the
// background. workflowId is a stable derivation kept for parity with the
// specification even though this engine addresses jobs by jobId alone.
func (e *Engine) StartJob(req model.FileProcessingRequest) (jobID, workflowID string, err error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	jobID = req.JobID
	workflowID = "file-processing-" + jobID

	handle := newJobHandle(jobID, 0)

	e.mu.Lock()
	if _, exists := e.handles[jobID]; exists {
		e.mu.Unlock()
		return "", "", fmt.Errorf("job %s already started", jobID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobExecutionTimeout)
	e.handles[jobID] = handle
	e.cancelFn[jobID] = cancel
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.JobsStarted.Inc()
		e.metrics.ActiveJobs.Inc()
	}

	go e.runJob(ctx, req, handle)

	return jobID, workflowID, nil
}

// GetStatus implements the control-plane operation of the same name.
func (e *Engine) GetStatus(jobID string) (model.JobStatus, bool) {
	e.mu.Lock()
	handle, ok := e.handles[jobID]
	e.mu.Unlock()
	if !ok {
		return model.JobStatus{}, false
	}
	return handle.snapshot(), true
}

// GetProgress implements the control-plane operation of the same name: it
// is identical to GetStatus, the aggregate having already been recomputed
// by snapshot().
func (e *Engine) GetProgress(jobID string) (model.JobStatus, bool) {
	return e.GetStatus(jobID)
}

// GetChunkProgress returns the latest in-memory snapshot for one chunk.
func (e *Engine) GetChunkProgress(jobID string, chunkIndex int) (model.ChunkProgress, bool) {
	e.mu.Lock()
	handle, ok := e.handles[jobID]
	e.mu.Unlock()
	if !ok {
		return model.ChunkProgress{}, false
	}
	handle.mu.Lock()
	defer handle.mu.Unlock()
	cp, ok := handle.chunkProgress[chunkIndex]
	return cp, ok
}

// Pause sets the pause flag; the scheduler blocks before launching its next
// child.
func (e *Engine) Pause(jobID string) bool {
	e.mu.Lock()
	handle, ok := e.handles[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	handle.mu.Lock()
	handle.paused = true
	handle.mu.Unlock()
	return true
}

// Resume clears the pause flag and wakes the scheduler.
func (e *Engine) Resume(jobID string) bool {
	e.mu.Lock()
	handle, ok := e.handles[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	handle.mu.Lock()
	handle.paused = false
	handle.mu.Unlock()
	handle.cond.Broadcast()
	return true
}

// Cancel sets the cancel flag and clears pause so a blocked scheduler wakes
// and observes cancellation. Cancelling a terminal job is a no-op, matching
// the specification's idempotence requirement.
func (e *Engine) Cancel(jobID string) bool {
	e.mu.Lock()
	handle, ok := e.handles[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}

	handle.mu.Lock()
	if isTerminal(handle.status.Status) {
		handle.mu.Unlock()
		return true
	}
	handle.cancelled = true
	handle.paused = false
	handle.mu.Unlock()
	handle.cond.Broadcast()
	return true
}

func isTerminal(s model.JobState) bool {
	switch s {
	case model.JobCompleted, model.JobFailed, model.JobCancelled:
		return true
	}
	return false
}

// runJob is the job workflow: analyze, schedule bounded-parallel chunks,
// aggregate, optionally reprocess, finalize.
func (e *Engine) runJob(ctx context.Context, req model.FileProcessingRequest, handle *jobHandle) {
	logger := logging.JobLogger(req.JobID)
	defer e.finishJob(req.JobID)

	runCtx, cancelRun := context.WithTimeout(ctx, jobRunTimeout)
	defer cancelRun()

	setStatus(handle, model.JobAnalyzingFile)
	e.persistJob(runCtx, handle)

	analysis, err := e.fileActs.AnalyzeFile(runCtx, req.Directory, req.Filename, req.ChunkSizeBytes)
	if err != nil {
		e.failJob(runCtx, handle, fmt.Errorf("analyze file: %w", err))
		return
	}

	handle.mu.Lock()
	handle.status.TotalChunks = analysis.TotalChunks
	handle.status.Status = model.JobProcessingChunks
	handle.mu.Unlock()
	e.persistJob(runCtx, handle)

	if aborted, failureErr := e.scheduleChunks(runCtx, req, handle, logger); aborted {
		handle.mu.Lock()
		cancelled := handle.cancelled
		handle.mu.Unlock()
		if cancelled {
			e.cancelJob(runCtx, handle)
			return
		}
		e.failJob(runCtx, handle, failureErr)
		return
	}

	if req.ReprocessFailures {
		e.runReprocessPass(runCtx, handle, req.JobID, logger)
	}

	if err := e.fileActs.FinalizeJob(runCtx, req.JobID); err != nil {
		logger.Warn("finalize job failed", "error", err)
	}

	handle.mu.Lock()
	now := time.Now()
	handle.status.Status = model.JobCompleted
	handle.status.EndTime = &now
	handle.mu.Unlock()
	e.persistJob(runCtx, handle)

	if e.metrics != nil {
		e.metrics.JobsCompleted.Inc()
	}
}

func setStatus(handle *jobHandle, s model.JobState) {
	handle.mu.Lock()
	handle.status.Status = s
	handle.mu.Unlock()
}

// scheduleChunks is the bounded parallel scheduler: it enforces
// activeChunks <= maxParallelChunks via a semaphore channel and a
// completion WaitGroup, exactly the ParallelCommitter shape the teacher
// uses for bounded partition commits, generalized to spawn chunk workflows
// instead of parquet commits. It returns (aborted, error) where aborted is
// true if scheduling stopped early due to cancellation or a chunk failure.
//
// Boundary calculation happens here, synchronously, one chunk at a time,
// rather than inside the chunk goroutine: the byte cursor that
// CalculateChunkBoundaries advances is sequential by construction (each
// chunk's start is the previous chunk's end), so only the single scheduling
// loop may own it. Once the cursor reaches fileSize, scheduling stops
// whatever the estimate handle.status.TotalChunks carried in from
// analyzeFile said — alignment pulls each chunk's end back to the last row
// terminator before the nominal boundary (or pushes it forward when the
// tail window holds none), so the realized chunk count can come in higher
// or lower than the estimate, and it replaces the estimate once scheduling
// ends.
func (e *Engine) scheduleChunks(ctx context.Context, req model.FileProcessingRequest, handle *jobHandle, logger *slog.Logger) (bool, error) {
	maxParallel := req.MaxParallelChunks
	if maxParallel < 1 {
		maxParallel = 1
	}
	sem := make(chan struct{}, maxParallel)

	var wg sync.WaitGroup
	var firstErr error
	var aborted bool
	var mu sync.Mutex // guards firstErr/aborted across completion goroutines

	var cursor int64
	chunkIndex := 0

schedule:
	for {
		handle.mu.Lock()
		for handle.paused && !handle.cancelled {
			handle.cond.Wait()
		}
		cancelled := handle.cancelled
		handle.mu.Unlock()

		if cancelled {
			mu.Lock()
			aborted = true
			mu.Unlock()
			break
		}

		mu.Lock()
		stop := aborted
		mu.Unlock()
		if stop {
			break
		}

		boundaries, hasMore, err := e.rowActs.CalculateChunkBoundaries(ctx, req.Directory, req.Filename, cursor, req.ChunkSizeBytes)
		if err != nil {
			mu.Lock()
			aborted = true
			firstErr = fmt.Errorf("calculate chunk boundaries at offset %d: %w", cursor, err)
			mu.Unlock()
			break
		}
		if !hasMore {
			break
		}
		cursor = boundaries.EndOffset

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			aborted = true
			firstErr = ctx.Err()
			mu.Unlock()
			break schedule
		}

		handle.mu.Lock()
		handle.activeChunks++
		handle.mu.Unlock()
		if e.metrics != nil {
			e.metrics.ActiveChunks.Inc()
		}

		idx := chunkIndex
		chunkIndex++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			onHeartbeat := func() {
				handle.mu.Lock()
				handle.lastHeartbeat[idx] = time.Now()
				handle.mu.Unlock()
				logger.Debug("chunk heartbeat", "chunk_index", idx)
			}
			cp, err := e.chunkRunner.Run(ctx, req.JobID, idx, req.Directory, req.Filename, boundaries, req.EnableDeduplication, onHeartbeat)

			handle.mu.Lock()
			handle.activeChunks--
			handle.chunkProgress[idx] = cp
			handle.recomputeAggregate()
			handle.mu.Unlock()

			if e.metrics != nil {
				e.metrics.ActiveChunks.Dec()
				status := "completed"
				if err != nil {
					status = "failed"
				}
				e.metrics.RecordChunkTerminal(status, time.Since(start).Seconds())
				e.metrics.RecordRowOutcome("valid", float64(cp.ValidRows))
				e.metrics.RecordRowOutcome("invalid", float64(cp.InvalidRows))
				e.metrics.RecordRowOutcome("duplicate", float64(cp.DuplicateRows))
			}

			if err != nil {
				logger.Error("chunk failed", "chunk_index", idx, "error", err)
				mu.Lock()
				aborted = true
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	handle.mu.Lock()
	handle.status.TotalChunks = chunkIndex
	handle.recomputeAggregate()
	cancelledAtEnd := handle.cancelled
	handle.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if cancelledAtEnd {
		return true, nil
	}
	return aborted, firstErr
}

func (e *Engine) runReprocessPass(ctx context.Context, handle *jobHandle, jobID string, logger *slog.Logger) {
	records, err := e.fileActs.GetFailedRecords(ctx, jobID, false)
	if err != nil {
		logger.Warn("get failed records failed", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	result, err := e.fileActs.ReprocessFailedRecords(ctx, jobID, records, func() {
		logger.Debug("reprocess heartbeat", "total_records", len(records))
	})
	if err != nil {
		logger.Warn("reprocess failed records failed", "error", err)
		return
	}

	handle.mu.Lock()
	handle.reprocessedValid += int64(result.SuccessfullyProcessed)
	handle.recomputeAggregate()
	handle.mu.Unlock()
}

func (e *Engine) failJob(ctx context.Context, handle *jobHandle, cause error) {
	handle.mu.Lock()
	now := time.Now()
	handle.status.Status = model.JobFailed
	handle.status.ErrorMessage = cause.Error()
	handle.status.EndTime = &now
	handle.mu.Unlock()
	e.persistJob(ctx, handle)
	if e.metrics != nil {
		e.metrics.JobsFailed.Inc()
	}
}

func (e *Engine) cancelJob(ctx context.Context, handle *jobHandle) {
	handle.mu.Lock()
	now := time.Now()
	handle.status.Status = model.JobCancelled
	handle.status.EndTime = &now
	handle.mu.Unlock()
	e.persistJob(ctx, handle)
	if e.metrics != nil {
		e.metrics.JobsCancelled.Inc()
	}
}

func (e *Engine) persistJob(ctx context.Context, handle *jobHandle) {
	status := handle.snapshot()
	if err := e.jobs.UpsertJob(ctx, status); err != nil {
		logging.JobLogger(status.JobID).Warn("persist job status failed", "error", err)
	}
}

func (e *Engine) finishJob(jobID string) {
	e.mu.Lock()
	if cancel, ok := e.cancelFn[jobID]; ok {
		cancel()
		delete(e.cancelFn, jobID)
	}
	handle, ok := e.handles[jobID]
	e.mu.Unlock()

	if ok {
		close(handle.done)
	}
	if e.metrics != nil {
		e.metrics.ActiveJobs.Dec()
	}
}
