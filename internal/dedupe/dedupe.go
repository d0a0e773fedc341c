// Package dedupe tracks row identities already seen for a job, grounded on
// the Redis client wrapper in the retrieved moligarch subscription platform
// (internal/infra/redis/redis_client.go). A row is a duplicate once its
// identity has been recorded once for that job; the index answers that
// question with a single SADD.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Index records row identities per job and reports whether an identity has
// already been seen. Implementations must be safe for concurrent use by
// multiple chunk workers racing on the same job.
type Index interface {
	// SeenBefore records identity for jobID, returning true if it had
	// already been recorded — i.e. the row is a duplicate.
	SeenBefore(ctx context.Context, jobID, identity string) (bool, error)
	// Clear drops the identity set for a job, used once a job completes
	// so the index does not grow without bound. Cancelled and failed jobs
	// do not call it.
	Clear(ctx context.Context, jobID string) error
}

// RedisIndex implements Index with a per-job Redis set, one SADD member per
// identity seen.
type RedisIndex struct {
	cli *redis.Client
	ttl time.Duration
}

// NewRedisIndex wires the dedup index to a Redis client. ttl bounds how long
// a job's identity set survives without activity; it is refreshed on every
// SeenBefore call so a live job's set never expires mid-run.
func NewRedisIndex(cli *redis.Client, ttl time.Duration) *RedisIndex {
	return &RedisIndex{cli: cli, ttl: ttl}
}

func (r *RedisIndex) key(jobID string) string {
	return "rowforge:dedupe:" + jobID
}

func (r *RedisIndex) SeenBefore(ctx context.Context, jobID, identity string) (bool, error) {
	key := r.key(jobID)
	added, err := r.cli.SAdd(ctx, key, identity).Result()
	if err != nil {
		return false, fmt.Errorf("sadd dedupe index for job %s: %w", jobID, err)
	}
	if err := r.cli.Expire(ctx, key, r.ttl).Err(); err != nil {
		return false, fmt.Errorf("refresh dedupe index ttl for job %s: %w", jobID, err)
	}
	// SAdd returns the number of members actually added; 0 means identity
	// was already a member, i.e. this row is a duplicate.
	return added == 0, nil
}

func (r *RedisIndex) Clear(ctx context.Context, jobID string) error {
	if err := r.cli.Del(ctx, r.key(jobID)).Err(); err != nil {
		return fmt.Errorf("clear dedupe index for job %s: %w", jobID, err)
	}
	return nil
}
