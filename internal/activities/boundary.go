package activities

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rowforge/rowforge/internal/model"
	"github.com/rowforge/rowforge/internal/retry"
)

// ErrBoundaryAlignment is returned when no line terminator can be found
// within the scan window while aligning a chunk boundary. It is
// non-retryable: a wider window is a config change, not a transient fault.
var ErrBoundaryAlignment = errors.New("boundary alignment failure: no line terminator within scan window")

const lineTerminator = '\n'

// CalculateChunkBoundaries implements the row-range activity of the same
// name. Unlike a pure chunkIndex*chunkSizeBytes derivation, startOffset is
// always the previous chunk's EndOffset (0 for the first chunk) — the
// caller, the job workflow's scheduler, tracks this cursor sequentially.
// That makes continuity between consecutive chunks automatic instead of
// something two independent calculations have to agree on, and it is what
// lets a single oversized row (one spanning more than chunkSizeBytes) be
// absorbed entirely into one chunk rather than split or duplicated: the
// next call always starts exactly where this one ended.
//
// hasMore is false once startOffset has reached the end of the file; the
// caller should stop scheduling further chunks at that point, regardless of
// how many it estimated up front.
func (a *RowRangeActivities) CalculateChunkBoundaries(ctx context.Context, directory, filename string, startOffset, chunkSizeBytes int64) (boundaries model.ChunkBoundaries, hasMore bool, err error) {
	err = retry.Do(ctx, "calculateChunkBoundaries", retry.Short, func(ctx context.Context, attempt int) error {
		fileSize, err := a.provider.Size(ctx, directory, filename)
		if err != nil {
			return fmt.Errorf("stat file: %w", err)
		}

		if startOffset >= fileSize {
			hasMore = false
			return nil
		}

		rawEnd := startOffset + chunkSizeBytes
		if rawEnd > fileSize {
			rawEnd = fileSize
		}

		end := rawEnd
		if rawEnd < fileSize {
			aligned, err := a.alignEnd(ctx, directory, filename, startOffset, rawEnd, fileSize)
			if err != nil {
				return err
			}
			end = aligned
		}

		boundaries = model.ChunkBoundaries{
			StartOffset:     startOffset,
			EndOffset:       end,
			ActualChunkSize: end - startOffset,
		}
		hasMore = true
		return nil
	})

	return boundaries, hasMore, err
}

// alignEnd finds the row boundary nearest rawEnd that keeps the chunk
// non-empty: first it looks backward, within the last boundaryScanWindow
// bytes of [start, rawEnd), for the last line terminator — the common case,
// since a real row is normally much smaller than a chunk. If that tail
// contains no terminator at all (the row straddling rawEnd is larger than
// the window, or larger than the chunk itself), it falls back to scanning
// forward from rawEnd so the chunk grows just enough to finish that row.
func (a *RowRangeActivities) alignEnd(ctx context.Context, directory, filename string, start, rawEnd, fileSize int64) (int64, error) {
	tailStart := rawEnd - a.boundaryScanWindow
	if tailStart < start {
		tailStart = start
	}

	if tailStart < rawEnd {
		tail, err := a.provider.ReadRange(ctx, directory, filename, tailStart, rawEnd)
		if err != nil {
			return 0, fmt.Errorf("read backward boundary scan window: %w", err)
		}
		if idx := bytes.LastIndexByte(tail, lineTerminator); idx >= 0 {
			return tailStart + int64(idx) + 1, nil
		}
	}

	window := a.boundaryScanWindow
	if rawEnd+window > fileSize {
		window = fileSize - rawEnd
	}

	forward, err := a.provider.ReadRange(ctx, directory, filename, rawEnd, rawEnd+window)
	if err != nil {
		return 0, fmt.Errorf("read forward boundary scan window: %w", err)
	}

	idx := bytes.IndexByte(forward, lineTerminator)
	if idx < 0 {
		return 0, &retry.NonRetryable{Err: fmt.Errorf("%w: rawEnd=%d window=%d", ErrBoundaryAlignment, rawEnd, window)}
	}
	return rawEnd + int64(idx) + 1, nil
}
