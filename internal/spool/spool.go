// Package spool persists rows that failed processing so a later
// reprocessFailedRecords pass can retry them, grounded on the retrieved
// alert-spooler's SQLite-backed event store (spooler/store.go,
// spooler/models.go) — the same gorm.Open/AutoMigrate shape, repurposed from
// spooling syslog alerts to spooling failed rows.
package spool

import (
	"context"
	"time"

	"github.com/rowforge/rowforge/internal/model"
)

// Store records and retrieves failed rows for a job.
type Store interface {
	// Add appends a failed record to the spool.
	Add(ctx context.Context, rec model.FailedRecord) error
	// List returns failed records for jobID. When includeReprocessed is
	// false, only records still awaiting reprocessing are returned.
	List(ctx context.Context, jobID string, includeReprocessed bool) ([]model.FailedRecord, error)
	// MarkReprocessed flips Reprocessed to true for one record.
	MarkReprocessed(ctx context.Context, id int64) error
	// CountPending returns the number of not-yet-reprocessed failures for
	// jobID, used to update the failed-record queue metric after
	// getFailedRecords.
	CountPending(ctx context.Context, jobID string) (int64, error)
}

// failedRecordRow is the gorm-mapped persistence shape for
// model.FailedRecord. ValidationErrors is stored as a newline-joined blob
// rather than a separate table — the spooler's own models favor flat text
// columns (RawContent, EventJSON) over normalized child tables for this kind
// of auxiliary detail.
type failedRecordRow struct {
	ID               int64  `gorm:"primaryKey"`
	JobID            string `gorm:"index:idx_job_reprocessed;size:64"`
	ChunkIndex       int
	LineNumber       int64
	RawText          string `gorm:"type:text"`
	FailureType      string `gorm:"size:32"`
	ValidationErrors string `gorm:"type:text"`
	ErrorMessage     string `gorm:"type:text"`
	FailedAt         time.Time `gorm:"index"`
	Reprocessed      bool      `gorm:"index:idx_job_reprocessed"`
	ExtractedRowID   string    `gorm:"index;size:256"`
}

func (failedRecordRow) TableName() string { return "failed_records" }
