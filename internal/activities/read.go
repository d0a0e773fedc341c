package activities

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rowforge/rowforge/internal/model"
	"github.com/rowforge/rowforge/internal/retry"
)

// ReadChunkFromFile implements the row-range activity of the same name: it
// fetches [start, end) and splits it into data rows on the line terminator.
// For chunkIndex 0 the first row is treated as a header and excluded from
// both RowCount and Rows.
func (a *RowRangeActivities) ReadChunkFromFile(ctx context.Context, directory, filename string, start, end int64, chunkIndex int) (model.ChunkData, error) {
	var out model.ChunkData

	err := retry.Do(ctx, "readChunkFromFile", retry.Long, func(ctx context.Context, attempt int) error {
		data, err := a.provider.ReadRange(ctx, directory, filename, start, end)
		if err != nil {
			return fmt.Errorf("read chunk bytes: %w", err)
		}

		lines := splitLines(data)
		if chunkIndex == 0 && len(lines) > 0 {
			lines = lines[1:]
		}

		out = model.ChunkData{
			Bytes:    data,
			RowCount: int64(len(lines)),
			Rows:     lines,
		}
		return nil
	})

	return out, err
}

// splitLines splits data on '\n', trimming a trailing '\r' from each line
// and dropping the final empty element produced by a trailing terminator.
func splitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}

	raw := bytes.Split(data, []byte{lineTerminator})
	if len(raw) > 0 && len(raw[len(raw)-1]) == 0 {
		raw = raw[:len(raw)-1]
	}

	lines := make([][]byte, 0, len(raw))
	for _, line := range raw {
		lines = append(lines, bytes.TrimSuffix(line, []byte{'\r'}))
	}
	return lines
}
