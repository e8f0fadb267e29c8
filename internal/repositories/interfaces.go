package repositories

import (
	"context"

	"github.com/prudhvinik1/tablesync/internal/models"
)

// Tx is one open SyncTransaction on the relational target. Everything
// applied through it commits atomically or not at all.
type Tx interface {
	Apply(ctx context.Context, stmts []models.Statement) error
}

// Target is the relational store collaborator.
type Target interface {
	// WithinTx runs fn inside a transaction, committing when fn returns
	// nil and rolling back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// StateStore owns all watermarks and row fingerprints. Controllers never
// touch the underlying tables directly; mutations that account for a data
// change take the Tx of that change so bookkeeping and data commit together.
type StateStore interface {
	// GetWatermark returns the watermark for (table, partition), where
	// partition "" is the table-level mark. ErrNotFound when never synced.
	GetWatermark(ctx context.Context, table, partition string) (*models.Watermark, error)

	// TableWatermark returns the most advanced watermark across all of a
	// table's partitions. ErrNotFound when the table was never synced.
	TableWatermark(ctx context.Context, table string) (*models.Watermark, error)

	// AdvanceWatermark records a new sync point inside tx. Never moves a
	// watermark backward.
	AdvanceWatermark(ctx context.Context, tx Tx, wm models.Watermark) error

	// ResetWatermark moves every watermark of table back to at most `to`.
	// Recovery coordinator only.
	ResetWatermark(ctx context.Context, table string, to models.Watermark) error

	// CommittedPartitions lists the per-partition watermarks actually
	// committed for table, the ground truth recovery re-derives from.
	CommittedPartitions(ctx context.Context, table string) ([]models.Watermark, error)

	GetFingerprint(ctx context.Context, table, key string) (*models.RowFingerprint, error)
	ListFingerprints(ctx context.Context, table string) ([]models.RowFingerprint, error)
	UpsertFingerprints(ctx context.Context, tx Tx, fps []models.RowFingerprint) error
	DeleteFingerprints(ctx context.Context, tx Tx, table string, keys []string) error
}
