package models

import "time"

// RowFingerprint records the last observed content hash for one primary key
// of a table under streaming sync. Key is the canonical primary key string.
type RowFingerprint struct {
	Table       string    `json:"table"`
	Key         string    `json:"key"`
	ContentHash uint64    `json:"content_hash"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
