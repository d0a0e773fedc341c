package activities

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rowforge/rowforge/internal/model"
	"github.com/rowforge/rowforge/internal/retry"
)

// requiredFieldCount mirrors the row schema the control plane documents:
// unique id, name, email, company_name, address.
const requiredFieldCount = 5

// heartbeatEveryRows bounds how often ProcessUserBatch calls back into its
// caller while working through a batch, so a caller that also drives an
// activity-fabric-style liveness timer has something to reset.
const heartbeatEveryRows = 250

// ProcessUserBatch implements the row-range activity of the same name. It
// validates every row in rows (one batch of the chunk, whose first row sits
// at row index batchStartRow within the chunk and is numbered from there)
// against the minimal row schema, applies
// per-job deduplication when enabled, and spools every row that did not
// come out valid.
//
// The per-row loop itself is not retried as a whole: a.dedup.SeenBefore and
// a.spool.Add are both side-effecting, so re-running the whole batch after a
// transient failure partway through would replay every row before the
// failure point — in particular, re-running a SeenBefore call that already
// recorded a row's identity on the failed attempt would see that identity
// as already-seen and misclassify a valid row as a duplicate. Each call is
// instead retried individually, so a retry only ever repeats the one I/O
// operation that failed.
func (a *RowRangeActivities) ProcessUserBatch(ctx context.Context, jobID string, chunkIndex int, rows [][]byte, batchStartRow int64, enableDeduplication bool, heartbeat func()) (model.BatchProcessingResult, error) {
	var out model.BatchProcessingResult

	for i, row := range rows {
		lineNumber := batchStartRow + int64(i)

		if heartbeat != nil && i > 0 && i%heartbeatEveryRows == 0 {
			heartbeat()
		}

		fields := bytes.Split(row, []byte{','})
		if len(fields) < requiredFieldCount {
			out.InvalidCount++
			if err := a.spoolAdd(ctx, model.FailedRecord{
				JobID:       jobID,
				ChunkIndex:  chunkIndex,
				LineNumber:  lineNumber,
				RawText:     string(row),
				FailureType: model.FailureValidation,
				ValidationErrors: []string{
					fmt.Sprintf("expected %d fields, found %d", requiredFieldCount, len(fields)),
				},
				ErrorMessage: "row failed schema validation",
				FailedAt:     time.Now(),
			}); err != nil {
				return out, fmt.Errorf("spool invalid row at line %d: %w", lineNumber, err)
			}
			continue
		}

		identity := string(bytes.TrimSpace(fields[0]))
		if identity == "" {
			out.InvalidCount++
			if err := a.spoolAdd(ctx, model.FailedRecord{
				JobID:            jobID,
				ChunkIndex:       chunkIndex,
				LineNumber:       lineNumber,
				RawText:          string(row),
				FailureType:      model.FailureValidation,
				ValidationErrors: []string{"empty identity field"},
				ErrorMessage:     "row failed schema validation",
				FailedAt:         time.Now(),
			}); err != nil {
				return out, fmt.Errorf("spool invalid row at line %d: %w", lineNumber, err)
			}
			continue
		}

		if enableDeduplication {
			dup, err := a.dedupSeenBefore(ctx, jobID, identity)
			if err != nil {
				return out, fmt.Errorf("check dedup index at line %d: %w", lineNumber, err)
			}
			if dup {
				out.DuplicateCount++
				// Duplicates are recorded for audit but are not
				// reprocess candidates: nothing about a duplicate is
				// fixable by retrying it.
				if err := a.spoolAdd(ctx, model.FailedRecord{
					JobID:          jobID,
					ChunkIndex:     chunkIndex,
					LineNumber:     lineNumber,
					RawText:        string(row),
					FailureType:    model.FailureDuplicate,
					ErrorMessage:   "duplicate row identity within job",
					FailedAt:       time.Now(),
					Reprocessed:    true,
					ExtractedRowID: identity,
				}); err != nil {
					return out, fmt.Errorf("spool duplicate row at line %d: %w", lineNumber, err)
				}
				continue
			}
		}

		out.ValidCount++
	}

	out.ProcessedCount = out.ValidCount + out.InvalidCount + out.DuplicateCount
	return out, nil
}

// spoolAdd retries one spool write in isolation, so a transient store error
// never causes the caller to redo the classification that produced rec.
func (a *RowRangeActivities) spoolAdd(ctx context.Context, rec model.FailedRecord) error {
	return retry.Do(ctx, "processUserBatch.spoolAdd", retry.Long, func(ctx context.Context, attempt int) error {
		return a.spool.Add(ctx, rec)
	})
}

// dedupSeenBefore retries one dedup-index check in isolation, so a retry
// only repeats the check for this row's identity rather than replaying
// every row the batch has already classified.
func (a *RowRangeActivities) dedupSeenBefore(ctx context.Context, jobID, identity string) (bool, error) {
	var dup bool
	err := retry.Do(ctx, "processUserBatch.dedupSeenBefore", retry.Long, func(ctx context.Context, attempt int) error {
		seen, err := a.dedup.SeenBefore(ctx, jobID, identity)
		if err != nil {
			return err
		}
		dup = seen
		return nil
	})
	return dup, err
}
