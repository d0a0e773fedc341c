// Package model holds the data types shared by every layer of the file
// processing engine: the request that starts a job, the analysis and
// boundary results activities hand back, and the progress/status records
// the job and chunk workflows maintain.
package model

import "time"

// FileProcessingRequest is the immutable input that starts one job. The
// tuple (Directory, Filename, ChunkSizeBytes) fully determines the
// partitioning plan for a given snapshot of the file.
type FileProcessingRequest struct {
	JobID                 string
	Directory             string
	Filename              string
	ChunkSizeBytes        int64
	MaxParallelChunks     int
	EnableDeduplication   bool
	ReprocessFailures     bool
}

// FileAnalysisResult is the outcome of sizing and sampling a file prior to
// partitioning it.
type FileAnalysisResult struct {
	FileSizeBytes     int64
	EstimatedRowCount int64
	TotalChunks       int
	ChunkSizeBytes    int64
}

// ChunkBoundaries describes one row-aligned, half-open byte range.
type ChunkBoundaries struct {
	StartOffset     int64
	EndOffset       int64
	ActualChunkSize int64
}

// ChunkStatus is the lifecycle of one chunk workflow.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "PENDING"
	ChunkReading    ChunkStatus = "READING"
	ChunkProcessing ChunkStatus = "PROCESSING"
	ChunkCompleted  ChunkStatus = "COMPLETED"
	ChunkFailed     ChunkStatus = "FAILED"
	ChunkRetrying   ChunkStatus = "RETRYING"
)

// ChunkProgress is keyed by (JobID, ChunkIndex). Counters are monotonically
// non-decreasing within a successful run: ProcessedRows = ValidRows +
// InvalidRows + DuplicateRows.
type ChunkProgress struct {
	JobID          string
	ChunkIndex     int
	StartOffset    int64
	EndOffset      int64
	Status         ChunkStatus
	TotalRows      int64
	ProcessedRows  int64
	ValidRows      int64
	InvalidRows    int64
	DuplicateRows  int64
	StartTime      time.Time
	EndTime        *time.Time
	ErrorMessage   string
	RetryAttempt   int
}

// Counters is the componentwise aggregate that a JobStatus and a
// ChunkProgress both expose, so recomputing one from many of the other is a
// simple field-by-field sum.
type Counters struct {
	ProcessedRows int64
	ValidRows     int64
	InvalidRows   int64
	DuplicateRows int64
}

func (c Counters) Add(o Counters) Counters {
	return Counters{
		ProcessedRows: c.ProcessedRows + o.ProcessedRows,
		ValidRows:     c.ValidRows + o.ValidRows,
		InvalidRows:   c.InvalidRows + o.InvalidRows,
		DuplicateRows: c.DuplicateRows + o.DuplicateRows,
	}
}

// JobStatus is the sole job-wide record, written only by the owning job
// workflow.
type JobStatus struct {
	JobID          string
	Status         JobState
	Counters       Counters
	TotalChunks    int
	CompletedChunks int
	StartTime      time.Time
	EndTime        *time.Time
	ErrorMessage   string
}

type JobState string

const (
	JobStarted          JobState = "STARTED"
	JobAnalyzingFile     JobState = "ANALYZING_FILE"
	JobProcessingChunks JobState = "PROCESSING_CHUNKS"
	JobCompleted        JobState = "COMPLETED"
	JobFailed           JobState = "FAILED"
	JobCancelled        JobState = "CANCELLED"
)

// FailureType classifies why a row failed to process.
type FailureType string

const (
	FailureValidation FailureType = "VALIDATION_ERROR"
	FailureProcessing FailureType = "PROCESSING_ERROR"
	FailureDuplicate  FailureType = "DUPLICATE_ROW"
	FailureParse      FailureType = "PARSE_ERROR"
)

// FailedRecord identifies one row that failed processing, keyed by
// (JobID, ChunkIndex, LineNumber).
type FailedRecord struct {
	ID               int64
	JobID            string
	ChunkIndex       int
	LineNumber       int64
	RawText          string
	FailureType      FailureType
	ValidationErrors []string
	ErrorMessage     string
	FailedAt         time.Time
	Reprocessed      bool
	ExtractedRowID   string
}

// BatchProcessingResult is what processUserBatch hands back for one batch of
// rows.
type BatchProcessingResult struct {
	ProcessedCount int64
	ValidCount     int64
	InvalidCount   int64
	DuplicateCount int64
}

// ChunkData is the byte range plus the row count readChunkFromFile returns.
// Rows holds the chunk's data rows split on the line terminator, with the
// header row (chunkIndex 0 only) already excluded — the chunk runner slices
// it by row index into the batches it hands to processUserBatch.
type ChunkData struct {
	Bytes    []byte
	RowCount int64
	Rows     [][]byte
}

// ReprocessResult is the outcome of one reprocessFailedRecords call.
type ReprocessResult struct {
	TotalRecords          int
	SuccessfullyProcessed int
	StillFailed           int
}
