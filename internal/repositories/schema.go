package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WatermarkTableDDL returns the DDL for the watermark metadata table. The
// empty-string partition row is the table-level mark.
func WatermarkTableDDL() string {
	return `CREATE TABLE IF NOT EXISTS sync_watermarks (
    table_name          TEXT NOT NULL,
    partition           TEXT NOT NULL DEFAULT '',
    last_synced_at      TIMESTAMPTZ NOT NULL,
    last_synced_version BIGINT NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (table_name, partition)
);`
}

// FingerprintTableDDL returns the DDL for the fingerprint metadata table.
// content_hash holds the 64-bit hash reinterpreted as a signed integer.
func FingerprintTableDDL() string {
	return `CREATE TABLE IF NOT EXISTS sync_fingerprints (
    table_name   TEXT NOT NULL,
    row_key      TEXT NOT NULL,
    content_hash BIGINT NOT NULL,
    last_seen_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (table_name, row_key)
);`
}

// EnsureSchema creates the metadata tables if they do not exist. Both live
// in the target database so bookkeeping commits atomically with data.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{WatermarkTableDDL(), FingerprintTableDDL()} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create sync metadata tables: %w", err)
		}
	}
	return nil
}
