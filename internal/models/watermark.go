package models

import "time"

// Watermark is the last successfully synced point for a table, or for one
// partition of it when Partition is non-empty. Advanced only after the
// matching relational commit; rolled back only by the recovery coordinator.
type Watermark struct {
	Table             string    `json:"table"`
	Partition         string    `json:"partition,omitempty"`
	LastSyncedAt      time.Time `json:"last_synced_at"`
	LastSyncedVersion int64     `json:"last_synced_version"`
}

func (w Watermark) IsZero() bool {
	return w.LastSyncedAt.IsZero() && w.LastSyncedVersion == 0
}

// Before reports whether w marks an earlier sync point than other.
func (w Watermark) Before(other Watermark) bool {
	if w.LastSyncedVersion != other.LastSyncedVersion {
		return w.LastSyncedVersion < other.LastSyncedVersion
	}
	return w.LastSyncedAt.Before(other.LastSyncedAt)
}
