package services

import (
	"context"
	"errors"
	"sort"

	"github.com/prudhvinik1/tablesync/internal/models"
	"github.com/prudhvinik1/tablesync/internal/syncerr"
	"github.com/prudhvinik1/tablesync/internal/warehouse"
)

// ChangeLocator determines which warehouse partitions changed past a
// watermark, translating collaborator faults into the engine taxonomy.
type ChangeLocator struct {
	exporter warehouse.Exporter
}

func NewChangeLocator(exporter warehouse.Exporter) *ChangeLocator {
	return &ChangeLocator{exporter: exporter}
}

// Locate returns changed partitions in ascending version order. A pruned
// partition behind the watermark is not retryable: it means the watermark
// itself is stale and a resync is required.
func (l *ChangeLocator) Locate(ctx context.Context, table *models.SyncedTable, since models.Watermark) ([]warehouse.Partition, error) {
	parts, err := l.exporter.ListChangedPartitions(ctx, table.Source, since)
	if errors.Is(err, warehouse.ErrPartitionExpired) {
		return nil, syncerr.WatermarkInvalid.New("table %s: watermark references a pruned partition: %v", table.ID, err)
	}
	if errors.Is(err, warehouse.ErrUnavailable) {
		return nil, syncerr.SourceUnavailable.Wrap(err)
	}
	if err != nil {
		return nil, syncerr.SourceUnavailable.New("table %s: locate failed: %v", table.ID, err)
	}

	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Version != parts[j].Version {
			return parts[i].Version < parts[j].Version
		}
		return parts[i].ID < parts[j].ID
	})
	return parts, nil
}
