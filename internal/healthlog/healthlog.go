// Package healthlog is the append-only, per-run-date audit trail of health records.
package healthlog

import (
	"context"

	"auction-batch/internal/models"
)

// Log appends health records and reads back everything appended for a run date.
type Log interface {
	Append(ctx context.Context, rec models.HealthRecord) error
	Records(ctx context.Context, runDate string) ([]models.HealthRecord, error)
	Close() error
}
