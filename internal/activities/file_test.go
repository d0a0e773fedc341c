package activities

import (
	"context"
	"testing"

	"github.com/rowforge/rowforge/internal/dedupe"
	"github.com/rowforge/rowforge/internal/fileprovider"
	"github.com/rowforge/rowforge/internal/model"
	"github.com/rowforge/rowforge/internal/spool"
)

func newTestFileActivities(t *testing.T, files map[string][]byte, sampleBytes int64) (*FileActivities, *spool.MemStore, *dedupe.MemIndex) {
	t.Helper()
	provider := fileprovider.NewMemProvider()
	for name, data := range files {
		provider.Put("test-dir", name, data)
	}
	sp := spool.NewMemStore()
	idx := dedupe.NewMemIndex()
	return NewFileActivities(provider, sp, nil, idx, sampleBytes), sp, idx
}

func TestAnalyzeFile_EstimatesFromSampleLineDensity(t *testing.T) {
	// 10 rows of 10 bytes each ("012345678\n"), sample covers the whole file.
	data := make([]byte, 0, 100)
	for i := 0; i < 10; i++ {
		data = append(data, []byte("012345678\n")...)
	}
	acts, _, _ := newTestFileActivities(t, map[string][]byte{"rows.csv": data}, 1024)

	result, err := acts.AnalyzeFile(context.Background(), "test-dir", "rows.csv", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FileSizeBytes != int64(len(data)) {
		t.Fatalf("expected file size %d, got %d", len(data), result.FileSizeBytes)
	}
	// avgBytesPerRow=10, estimated = 100/10 - 1 = 9.
	if result.EstimatedRowCount != 9 {
		t.Fatalf("expected estimated row count 9, got %d", result.EstimatedRowCount)
	}
	if result.TotalChunks != 4 {
		t.Fatalf("expected ceil(100/30)=4 chunks, got %d", result.TotalChunks)
	}
}

func TestAnalyzeFile_FallsBackWhenSampleHasNoTerminator(t *testing.T) {
	data := make([]byte, 500)
	for i := range data {
		data[i] = 'x'
	}
	acts, _, _ := newTestFileActivities(t, map[string][]byte{"rows.csv": data}, 32)

	result, err := acts.AnalyzeFile(context.Background(), "test-dir", "rows.csv", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.EstimatedRowCount != 500/fallbackAvgBytesPerRow {
		t.Fatalf("expected fallback estimate %d, got %d", 500/fallbackAvgBytesPerRow, result.EstimatedRowCount)
	}
}

func TestReprocessFailedRecords_ClassifiesSuccessAndStillFailed(t *testing.T) {
	acts, sp, _ := newTestFileActivities(t, nil, 1024)
	ctx := context.Background()

	records := []model.FailedRecord{
		{ID: 1, JobID: "job-1", RawText: "id-1,a,b,c,d", FailureType: model.FailureValidation},       // now valid
		{ID: 2, JobID: "job-1", RawText: "still,missing", FailureType: model.FailureValidation},      // still invalid
		{ID: 3, JobID: "job-1", RawText: "id-1,a,b,c,d", FailureType: model.FailureDuplicate},         // duplicates never reprocess
	}
	for _, rec := range records {
		if err := sp.Add(ctx, rec); err != nil {
			t.Fatalf("seed spool: %v", err)
		}
	}

	result, err := acts.ReprocessFailedRecords(ctx, "job-1", records, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalRecords != 3 || result.SuccessfullyProcessed != 1 || result.StillFailed != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFinalizeJob_ClearsDedupIndex(t *testing.T) {
	acts, _, idx := newTestFileActivities(t, nil, 1024)
	ctx := context.Background()

	dup, err := idx.SeenBefore(ctx, "job-1", "id-1")
	if err != nil || dup {
		t.Fatalf("seed dedup index: dup=%v err=%v", dup, err)
	}

	if err := acts.FinalizeJob(ctx, "job-1"); err != nil {
		t.Fatalf("finalize job: %v", err)
	}

	dup, err = idx.SeenBefore(ctx, "job-1", "id-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatal("expected dedup index to be cleared after finalize")
	}
}
