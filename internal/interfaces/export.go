package interfaces

import (
	"context"
	"time"
)

// ExportResult is the outcome of a successful export run.
type ExportResult struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`
	// ObjectName is the timestamp-partitioned name within the container.
	ObjectName string `json:"object_name"`
	// Location is the fully-qualified storage location of the uploaded report.
	Location string `json:"location"`
	// CompletedAt is the UTC completion time the object name was derived from.
	CompletedAt time.Time `json:"completed_at"`
}

// ExportRunner executes one end-to-end export run.
type ExportRunner interface {
	Run(ctx context.Context) (*ExportResult, error)
}
