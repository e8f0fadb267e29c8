package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prudhvinik1/tablesync/internal/models"
)

var ErrNotFound = errors.New("not found")

type PostgresStateStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStateStore(pool *pgxpool.Pool) *PostgresStateStore {
	return &PostgresStateStore{pool: pool}
}

func (s *PostgresStateStore) GetWatermark(ctx context.Context, table, partition string) (*models.Watermark, error) {
	query := `SELECT table_name, partition, last_synced_at, last_synced_version
	          FROM sync_watermarks
	          WHERE table_name = $1 AND partition = $2`

	var wm models.Watermark
	err := s.pool.QueryRow(ctx, query, table, partition).Scan(
		&wm.Table,
		&wm.Partition,
		&wm.LastSyncedAt,
		&wm.LastSyncedVersion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	return &wm, nil
}

func (s *PostgresStateStore) TableWatermark(ctx context.Context, table string) (*models.Watermark, error) {
	query := `SELECT table_name, partition, last_synced_at, last_synced_version
	          FROM sync_watermarks
	          WHERE table_name = $1
	          ORDER BY last_synced_version DESC, last_synced_at DESC
	          LIMIT 1`

	var wm models.Watermark
	err := s.pool.QueryRow(ctx, query, table).Scan(
		&wm.Table,
		&wm.Partition,
		&wm.LastSyncedAt,
		&wm.LastSyncedVersion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get table watermark: %w", err)
	}
	return &wm, nil
}

// AdvanceWatermark upserts the watermark row through the caller's
// transaction. The conflict guard keeps the mark monotonic even if an older
// cycle's commit lands late.
func (s *PostgresStateStore) AdvanceWatermark(ctx context.Context, tx Tx, wm models.Watermark) error {
	query := `INSERT INTO sync_watermarks (table_name, partition, last_synced_at, last_synced_version)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (table_name, partition) DO UPDATE
	          SET last_synced_at = EXCLUDED.last_synced_at,
	              last_synced_version = EXCLUDED.last_synced_version,
	              updated_at = NOW()
	          WHERE sync_watermarks.last_synced_version < EXCLUDED.last_synced_version
	             OR (sync_watermarks.last_synced_version = EXCLUDED.last_synced_version
	                 AND sync_watermarks.last_synced_at < EXCLUDED.last_synced_at)`

	return tx.Apply(ctx, []models.Statement{{
		SQL:  query,
		Args: []any{wm.Table, wm.Partition, wm.LastSyncedAt, wm.LastSyncedVersion},
	}})
}

func (s *PostgresStateStore) ResetWatermark(ctx context.Context, table string, to models.Watermark) error {
	// Pull every partition mark back to at most the reset point; never
	// moves anything forward.
	query := `UPDATE sync_watermarks
	          SET last_synced_at = LEAST(last_synced_at, $2),
	              last_synced_version = LEAST(last_synced_version, $3),
	              updated_at = NOW()
	          WHERE table_name = $1`

	if _, err := s.pool.Exec(ctx, query, table, to.LastSyncedAt, to.LastSyncedVersion); err != nil {
		return fmt.Errorf("failed to reset watermark: %w", err)
	}
	return nil
}

func (s *PostgresStateStore) CommittedPartitions(ctx context.Context, table string) ([]models.Watermark, error) {
	query := `SELECT table_name, partition, last_synced_at, last_synced_version
	          FROM sync_watermarks
	          WHERE table_name = $1 AND partition <> ''
	          ORDER BY partition ASC`

	rows, err := s.pool.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query committed partitions: %w", err)
	}
	defer rows.Close()

	var marks []models.Watermark
	for rows.Next() {
		var wm models.Watermark
		if err := rows.Scan(&wm.Table, &wm.Partition, &wm.LastSyncedAt, &wm.LastSyncedVersion); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		marks = append(marks, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermarks: %w", err)
	}
	return marks, nil
}

func (s *PostgresStateStore) GetFingerprint(ctx context.Context, table, key string) (*models.RowFingerprint, error) {
	query := `SELECT table_name, row_key, content_hash, last_seen_at
	          FROM sync_fingerprints
	          WHERE table_name = $1 AND row_key = $2`

	var fp models.RowFingerprint
	var hash int64
	err := s.pool.QueryRow(ctx, query, table, key).Scan(&fp.Table, &fp.Key, &hash, &fp.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	fp.ContentHash = uint64(hash)
	return &fp, nil
}

func (s *PostgresStateStore) ListFingerprints(ctx context.Context, table string) ([]models.RowFingerprint, error) {
	query := `SELECT table_name, row_key, content_hash, last_seen_at
	          FROM sync_fingerprints
	          WHERE table_name = $1
	          ORDER BY row_key ASC`

	rows, err := s.pool.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []models.RowFingerprint
	for rows.Next() {
		var fp models.RowFingerprint
		var hash int64
		if err := rows.Scan(&fp.Table, &fp.Key, &hash, &fp.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fp.ContentHash = uint64(hash)
		fps = append(fps, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fingerprints: %w", err)
	}
	return fps, nil
}

func (s *PostgresStateStore) UpsertFingerprints(ctx context.Context, tx Tx, fps []models.RowFingerprint) error {
	if len(fps) == 0 {
		return nil
	}
	query := `INSERT INTO sync_fingerprints (table_name, row_key, content_hash, last_seen_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (table_name, row_key) DO UPDATE
	          SET content_hash = EXCLUDED.content_hash,
	              last_seen_at = EXCLUDED.last_seen_at`

	stmts := make([]models.Statement, 0, len(fps))
	for _, fp := range fps {
		stmts = append(stmts, models.Statement{
			SQL:  query,
			Args: []any{fp.Table, fp.Key, int64(fp.ContentHash), fp.LastSeenAt},
		})
	}
	return tx.Apply(ctx, stmts)
}

func (s *PostgresStateStore) DeleteFingerprints(ctx context.Context, tx Tx, table string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return tx.Apply(ctx, []models.Statement{{
		SQL:  `DELETE FROM sync_fingerprints WHERE table_name = $1 AND row_key = ANY($2)`,
		Args: []any{table, keys},
	}})
}
