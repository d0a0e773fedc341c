package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rowforge/rowforge/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepository implements Repository using PostgreSQL, following the
// connection-pool setup and schema-init-on-connect pattern of the teacher's
// PostgresWriter (internal/metadata/postgres.go).
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a pool, pings it, and applies the schema.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}
	if err := r.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return r, nil
}

func (r *PostgresRepository) initSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) UpsertJob(ctx context.Context, job model.JobStatus) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_status (job_id, status, processed_rows, valid_rows, invalid_rows, duplicate_rows,
			total_chunks, completed_chunks, start_time, end_time, error_message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			processed_rows = EXCLUDED.processed_rows,
			valid_rows = EXCLUDED.valid_rows,
			invalid_rows = EXCLUDED.invalid_rows,
			duplicate_rows = EXCLUDED.duplicate_rows,
			total_chunks = EXCLUDED.total_chunks,
			completed_chunks = EXCLUDED.completed_chunks,
			end_time = EXCLUDED.end_time,
			error_message = EXCLUDED.error_message,
			updated_at = now()
	`,
		job.JobID, string(job.Status), job.Counters.ProcessedRows, job.Counters.ValidRows,
		job.Counters.InvalidRows, job.Counters.DuplicateRows, job.TotalChunks, job.CompletedChunks,
		job.StartTime, job.EndTime, nullIfEmpty(job.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.JobID, err)
	}
	return nil
}

func (r *PostgresRepository) GetJob(ctx context.Context, jobID string) (model.JobStatus, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT job_id, status, processed_rows, valid_rows, invalid_rows, duplicate_rows,
			total_chunks, completed_chunks, start_time, end_time, error_message
		FROM job_status WHERE job_id = $1
	`, jobID)

	var job model.JobStatus
	var status string
	var errMsg *string
	err := row.Scan(&job.JobID, &status, &job.Counters.ProcessedRows, &job.Counters.ValidRows,
		&job.Counters.InvalidRows, &job.Counters.DuplicateRows, &job.TotalChunks, &job.CompletedChunks,
		&job.StartTime, &job.EndTime, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.JobStatus{}, false, nil
	}
	if err != nil {
		return model.JobStatus{}, false, fmt.Errorf("get job %s: %w", jobID, err)
	}
	job.Status = model.JobState(status)
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return job, true, nil
}

func (r *PostgresRepository) UpsertChunkProgress(ctx context.Context, p model.ChunkProgress) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chunk_progress (job_id, chunk_index, start_offset, end_offset, status, total_rows,
			processed_rows, valid_rows, invalid_rows, duplicate_rows, start_time, end_time, error_message,
			retry_attempt, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (job_id, chunk_index) DO UPDATE SET
			status = EXCLUDED.status,
			total_rows = EXCLUDED.total_rows,
			processed_rows = EXCLUDED.processed_rows,
			valid_rows = EXCLUDED.valid_rows,
			invalid_rows = EXCLUDED.invalid_rows,
			duplicate_rows = EXCLUDED.duplicate_rows,
			end_time = EXCLUDED.end_time,
			error_message = EXCLUDED.error_message,
			retry_attempt = EXCLUDED.retry_attempt,
			updated_at = now()
		WHERE EXCLUDED.processed_rows >= chunk_progress.processed_rows
	`,
		p.JobID, p.ChunkIndex, p.StartOffset, p.EndOffset, string(p.Status), p.TotalRows,
		p.ProcessedRows, p.ValidRows, p.InvalidRows, p.DuplicateRows, p.StartTime, p.EndTime,
		nullIfEmpty(p.ErrorMessage), p.RetryAttempt,
	)
	if err != nil {
		return fmt.Errorf("upsert chunk progress %s/%d: %w", p.JobID, p.ChunkIndex, err)
	}
	return nil
}

func (r *PostgresRepository) GetChunkProgress(ctx context.Context, jobID string, chunkIndex int) (model.ChunkProgress, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT job_id, chunk_index, start_offset, end_offset, status, total_rows, processed_rows,
			valid_rows, invalid_rows, duplicate_rows, start_time, end_time, error_message, retry_attempt
		FROM chunk_progress WHERE job_id = $1 AND chunk_index = $2
	`, jobID, chunkIndex)

	p, err := scanChunkProgress(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ChunkProgress{}, false, nil
	}
	if err != nil {
		return model.ChunkProgress{}, false, fmt.Errorf("get chunk progress %s/%d: %w", jobID, chunkIndex, err)
	}
	return p, true, nil
}

func (r *PostgresRepository) ListChunkProgress(ctx context.Context, jobID string) ([]model.ChunkProgress, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, chunk_index, start_offset, end_offset, status, total_rows, processed_rows,
			valid_rows, invalid_rows, duplicate_rows, start_time, end_time, error_message, retry_attempt
		FROM chunk_progress WHERE job_id = $1 ORDER BY chunk_index
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list chunk progress %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []model.ChunkProgress
	for rows.Next() {
		p, err := scanChunkProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk progress %s: %w", jobID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FinalizeChunk(ctx context.Context, jobID string, chunkIndex int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE chunk_progress SET status = $3, updated_at = now() WHERE job_id = $1 AND chunk_index = $2
	`, jobID, chunkIndex, string(model.ChunkCompleted))
	if err != nil {
		return fmt.Errorf("finalize chunk %s/%d: %w", jobID, chunkIndex, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunkProgress(row rowScanner) (model.ChunkProgress, error) {
	var p model.ChunkProgress
	var status string
	var errMsg *string
	err := row.Scan(&p.JobID, &p.ChunkIndex, &p.StartOffset, &p.EndOffset, &status, &p.TotalRows,
		&p.ProcessedRows, &p.ValidRows, &p.InvalidRows, &p.DuplicateRows, &p.StartTime, &p.EndTime,
		&errMsg, &p.RetryAttempt)
	if err != nil {
		return model.ChunkProgress{}, err
	}
	p.Status = model.ChunkStatus(status)
	if errMsg != nil {
		p.ErrorMessage = *errMsg
	}
	return p, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
