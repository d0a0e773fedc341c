package spool

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/rowforge/rowforge/internal/model"
	"github.com/rowforge/rowforge/internal/util"
)

// GormStore implements Store over a gorm.DB, following the alert-spooler's
// gorm.Open + AutoMigrate pattern (spooler/store.go).
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore opens (creating if absent) a SQLite-backed spool at path and
// migrates its schema.
func OpenGormStore(path string) (*GormStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := util.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("ensure spool directory %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open spool db: %w", err)
	}
	if err := db.AutoMigrate(&failedRecordRow{}); err != nil {
		return nil, fmt.Errorf("migrate spool schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func toRow(rec model.FailedRecord) failedRecordRow {
	return failedRecordRow{
		ID:               rec.ID,
		JobID:            rec.JobID,
		ChunkIndex:       rec.ChunkIndex,
		LineNumber:       rec.LineNumber,
		RawText:          rec.RawText,
		FailureType:      string(rec.FailureType),
		ValidationErrors: strings.Join(rec.ValidationErrors, "\n"),
		ErrorMessage:     rec.ErrorMessage,
		FailedAt:         rec.FailedAt,
		Reprocessed:      rec.Reprocessed,
		ExtractedRowID:   rec.ExtractedRowID,
	}
}

func fromRow(row failedRecordRow) model.FailedRecord {
	var validationErrors []string
	if row.ValidationErrors != "" {
		validationErrors = strings.Split(row.ValidationErrors, "\n")
	}
	return model.FailedRecord{
		ID:               row.ID,
		JobID:            row.JobID,
		ChunkIndex:       row.ChunkIndex,
		LineNumber:       row.LineNumber,
		RawText:          row.RawText,
		FailureType:      model.FailureType(row.FailureType),
		ValidationErrors: validationErrors,
		ErrorMessage:     row.ErrorMessage,
		FailedAt:         row.FailedAt,
		Reprocessed:      row.Reprocessed,
		ExtractedRowID:   row.ExtractedRowID,
	}
}

func (s *GormStore) Add(ctx context.Context, rec model.FailedRecord) error {
	row := toRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("spool failed record for job %s chunk %d line %d: %w", rec.JobID, rec.ChunkIndex, rec.LineNumber, err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, jobID string, includeReprocessed bool) ([]model.FailedRecord, error) {
	q := s.db.WithContext(ctx).Where("job_id = ?", jobID)
	if !includeReprocessed {
		q = q.Where("reprocessed = ?", false)
	}

	var rows []failedRecordRow
	if err := q.Order("chunk_index, line_number").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list failed records for job %s: %w", jobID, err)
	}

	out := make([]model.FailedRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func (s *GormStore) MarkReprocessed(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Model(&failedRecordRow{}).Where("id = ?", id).Update("reprocessed", true)
	if res.Error != nil {
		return fmt.Errorf("mark failed record %d reprocessed: %w", id, res.Error)
	}
	return nil
}

func (s *GormStore) CountPending(ctx context.Context, jobID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&failedRecordRow{}).
		Where("job_id = ? AND reprocessed = ?", jobID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count pending failed records for job %s: %w", jobID, err)
	}
	return count, nil
}
