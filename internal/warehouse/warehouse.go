// Package warehouse defines the narrow interfaces through which the engine
// consumes the warehouse export and staging collaborators. Implementations
// translate their transport failures into the sentinel errors below so the
// change locator can classify them.
package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/prudhvinik1/tablesync/internal/models"
)

var (
	// ErrUnavailable means the warehouse or staging layer cannot be
	// reached right now.
	ErrUnavailable = errors.New("warehouse unavailable")

	// ErrPartitionExpired means a partition referenced by the caller's
	// watermark has been pruned upstream.
	ErrPartitionExpired = errors.New("partition expired upstream")
)

// Partition identifies one changed warehouse partition and the sync point
// its successful apply advances the watermark to.
type Partition struct {
	ID         string
	ModifiedAt time.Time
	Version    int64
}

// Exporter is the warehouse export collaborator.
type Exporter interface {
	// ListChangedPartitions returns the partitions of table modified
	// after the given watermark, in ascending version order.
	ListChangedPartitions(ctx context.Context, table string, since models.Watermark) ([]Partition, error)

	// ExportPartition stages the full row set of one partition and
	// returns a reader over it. The partition key column is present in
	// every row.
	ExportPartition(ctx context.Context, table string, partitionID string) (RowReader, error)

	// ExportAll stages the full current row set of table, for full
	// resync. Tables without partitions are exported through this path.
	ExportAll(ctx context.Context, table string) (RowReader, error)
}

// RowReader iterates rows staged by an export. Next returns io.EOF when the
// row set is exhausted.
type RowReader interface {
	Next(ctx context.Context) (models.Row, error)
	Close() error
}
