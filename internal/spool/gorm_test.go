package spool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rowforge/rowforge/internal/model"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spool.db")
	store, err := OpenGormStore(path)
	if err != nil {
		t.Fatalf("open gorm store: %v", err)
	}
	return store
}

func TestGormStore_AddAndListRoundTrips(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	rec := model.FailedRecord{
		JobID:            "job-1",
		ChunkIndex:       2,
		LineNumber:       41,
		RawText:          "bad,row",
		FailureType:      model.FailureValidation,
		ValidationErrors: []string{"expected 5 fields, found 2"},
		ErrorMessage:     "row failed schema validation",
		FailedAt:         time.Now(),
	}
	if err := store.Add(ctx, rec); err != nil {
		t.Fatalf("add: %v", err)
	}

	records, err := store.List(ctx, "job-1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].RawText != "bad,row" || len(records[0].ValidationErrors) != 1 {
		t.Fatalf("unexpected round trip: %+v", records[0])
	}
}

func TestGormStore_ListExcludesReprocessedUnlessRequested(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, model.FailedRecord{JobID: "job-1", RawText: "r1", FailureType: model.FailureValidation}); err != nil {
		t.Fatalf("add r1: %v", err)
	}
	if err := store.Add(ctx, model.FailedRecord{JobID: "job-1", RawText: "r2", FailureType: model.FailureValidation}); err != nil {
		t.Fatalf("add r2: %v", err)
	}

	pending, err := store.List(ctx, "job-1", false)
	if err != nil || len(pending) != 2 {
		t.Fatalf("expected 2 pending records, got %d (err=%v)", len(pending), err)
	}

	if err := store.MarkReprocessed(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark reprocessed: %v", err)
	}

	stillPending, err := store.List(ctx, "job-1", false)
	if err != nil || len(stillPending) != 1 {
		t.Fatalf("expected 1 record excluding reprocessed, got %d (err=%v)", len(stillPending), err)
	}

	all, err := store.List(ctx, "job-1", true)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 records including reprocessed, got %d (err=%v)", len(all), err)
	}

	count, err := store.CountPending(ctx, "job-1")
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pending count, got %d", count)
	}
}

func TestGormStore_ListIsScopedToJobID(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, model.FailedRecord{JobID: "job-1", RawText: "r1", FailureType: model.FailureValidation}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(ctx, model.FailedRecord{JobID: "job-2", RawText: "r2", FailureType: model.FailureValidation}); err != nil {
		t.Fatalf("add: %v", err)
	}

	records, err := store.List(ctx, "job-1", true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].JobID != "job-1" {
		t.Fatalf("expected only job-1's record, got %+v", records)
	}
}
