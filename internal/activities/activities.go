// Package activities implements the row-range and file activity families
// from the specification: the leaf-level units of work the chunk and job
// workflows call. Each activity is a plain method that applies its own
// retry profile via internal/retry — there is no workflow fabric here to
// apply retries transparently, so every retried activity body runs under
// retry.Do inside the activity itself.
package activities

import (
	"github.com/rowforge/rowforge/internal/dedupe"
	"github.com/rowforge/rowforge/internal/fileprovider"
	"github.com/rowforge/rowforge/internal/spool"
	"github.com/rowforge/rowforge/internal/store"
)

// RowRangeActivities implements calculateChunkBoundaries, readChunkFromFile,
// processUserBatch, updateChunkProgress, recordChunkFailure, and
// finalizeChunk.
type RowRangeActivities struct {
	provider           fileprovider.Provider
	progress           store.ProgressRepository
	dedup              dedupe.Index
	spool              spool.Store
	boundaryScanWindow int64
}

// NewRowRangeActivities wires the row-range activities to their
// collaborators.
func NewRowRangeActivities(provider fileprovider.Provider, progress store.ProgressRepository, dedup dedupe.Index, sp spool.Store, boundaryScanWindow int64) *RowRangeActivities {
	return &RowRangeActivities{
		provider:           provider,
		progress:           progress,
		dedup:              dedup,
		spool:              sp,
		boundaryScanWindow: boundaryScanWindow,
	}
}

// FileActivities implements analyzeFile, getFailedRecords,
// reprocessFailedRecords, and finalizeJob.
type FileActivities struct {
	provider            fileprovider.Provider
	spool               spool.Store
	jobs                store.JobRepository
	dedup               dedupe.Index
	analysisSampleBytes int64
}

// NewFileActivities wires the file activities to their collaborators.
func NewFileActivities(provider fileprovider.Provider, sp spool.Store, jobs store.JobRepository, dedup dedupe.Index, analysisSampleBytes int64) *FileActivities {
	return &FileActivities{
		provider:            provider,
		spool:               sp,
		jobs:                jobs,
		dedup:               dedup,
		analysisSampleBytes: analysisSampleBytes,
	}
}
