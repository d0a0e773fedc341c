package spool

import (
	"context"
	"testing"

	"github.com/rowforge/rowforge/internal/model"
)

func TestMemStore_MarkReprocessedOnUnknownIDIsANoOp(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	if err := store.Add(ctx, model.FailedRecord{JobID: "job-1", RawText: "r1", FailureType: model.FailureValidation}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.MarkReprocessed(ctx, 9999); err != nil {
		t.Fatalf("expected no error marking an unknown ID reprocessed, got %v", err)
	}

	records, err := store.List(ctx, "job-1", false)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected the original record untouched, got %d (err=%v)", len(records), err)
	}
}

func TestMemStore_AddAssignsIncreasingIDs(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Add(ctx, model.FailedRecord{JobID: "job-1", RawText: "r", FailureType: model.FailureValidation}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	records, err := store.List(ctx, "job-1", true)
	if err != nil || len(records) != 3 {
		t.Fatalf("expected 3 records, got %d (err=%v)", len(records), err)
	}
	if records[0].ID == records[1].ID || records[1].ID == records[2].ID {
		t.Fatalf("expected distinct increasing IDs, got %d, %d, %d", records[0].ID, records[1].ID, records[2].ID)
	}
}
