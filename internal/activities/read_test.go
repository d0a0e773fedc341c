package activities

import (
	"context"
	"testing"
)

func TestReadChunkFromFile_DropsHeaderOnlyForChunkZero(t *testing.T) {
	data := []byte("id,name,email,co,addr\nrow1,a,b,c,d\nrow2,a,b,c,d\n")
	acts, _ := newTestRowRangeActivities(t, map[string][]byte{"rows.csv": data}, 1024)

	chunk, err := acts.ReadChunkFromFile(context.Background(), "test-dir", "rows.csv", 0, int64(len(data)), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunk.RowCount != 2 {
		t.Fatalf("expected 2 data rows after dropping header, got %d", chunk.RowCount)
	}
	if string(chunk.Rows[0]) != "row1,a,b,c,d" {
		t.Fatalf("unexpected first row: %q", chunk.Rows[0])
	}
}

func TestReadChunkFromFile_KeepsAllRowsForNonZeroChunk(t *testing.T) {
	data := []byte("row3,a,b,c,d\nrow4,a,b,c,d\n")
	acts, _ := newTestRowRangeActivities(t, map[string][]byte{"rows.csv": data}, 1024)

	chunk, err := acts.ReadChunkFromFile(context.Background(), "test-dir", "rows.csv", 0, int64(len(data)), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunk.RowCount != 2 {
		t.Fatalf("expected 2 rows, got %d", chunk.RowCount)
	}
}

func TestReadChunkFromFile_TrimsCarriageReturn(t *testing.T) {
	data := []byte("id,name,email,co,addr\r\nrow1,a,b,c,d\r\n")
	acts, _ := newTestRowRangeActivities(t, map[string][]byte{"rows.csv": data}, 1024)

	chunk, err := acts.ReadChunkFromFile(context.Background(), "test-dir", "rows.csv", 0, int64(len(data)), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunk.RowCount != 1 {
		t.Fatalf("expected 1 data row, got %d", chunk.RowCount)
	}
	if string(chunk.Rows[0]) != "row1,a,b,c,d" {
		t.Fatalf("expected trailing \\r trimmed, got %q", chunk.Rows[0])
	}
}

func TestReadChunkFromFile_HeaderOnlyRangeYieldsNoRows(t *testing.T) {
	data := []byte("id,name,email,co,addr\n")
	acts, _ := newTestRowRangeActivities(t, map[string][]byte{"rows.csv": data}, 1024)

	chunk, err := acts.ReadChunkFromFile(context.Background(), "test-dir", "rows.csv", 0, int64(len(data)), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunk.RowCount != 0 {
		t.Fatalf("expected 0 rows once the header line is dropped, got %d", chunk.RowCount)
	}
}
