package models

import (
	"time"

	"github.com/google/uuid"
)

// CycleState is the batch controller's externally visible state.
type CycleState string

const (
	StateIdle      CycleState = "idle"
	StateLocating  CycleState = "locating"
	StateExporting CycleState = "exporting"
	StateApplying  CycleState = "applying"
	StateCommitted CycleState = "committed"
	StateFailed    CycleState = "failed"
)

type ResyncMode string

const (
	ResyncIncremental ResyncMode = "incremental"
	ResyncFull        ResyncMode = "full"
)

// SyncResult reports the outcome of one sync cycle, including partial
// progress: PartitionsApplied lists only partitions whose replace committed.
type SyncResult struct {
	RunID             uuid.UUID `json:"run_id"`
	Table             string    `json:"table"`
	Success           bool      `json:"success"`
	PartitionsApplied []string  `json:"partitions_applied"`
	RowsWritten       int       `json:"rows_written"`
	Error             string    `json:"error,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// SyncStatus is the operator-facing view of one table's sync health.
type SyncStatus struct {
	Table     string     `json:"table"`
	State     CycleState `json:"state"`
	Watermark *Watermark `json:"watermark,omitempty"`
	LastRunID uuid.UUID  `json:"last_run_id,omitempty"`
	LastRunAt time.Time  `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}
