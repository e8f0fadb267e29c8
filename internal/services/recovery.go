package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/prudhvinik1/tablesync/internal/config"
	"github.com/prudhvinik1/tablesync/internal/models"
	"github.com/prudhvinik1/tablesync/internal/repositories"
	"github.com/prudhvinik1/tablesync/internal/warehouse"
)

// RecoveryCoordinator resolves desync: invalid watermarks, ambiguous commit
// outcomes, and operator-requested resyncs. It is the only component allowed
// to move a watermark backward.
type RecoveryCoordinator struct {
	manifest   *config.Manifest
	state      repositories.StateStore
	target     repositories.Target
	exporter   warehouse.Exporter
	builder    *StatementBuilder
	safeBehind time.Duration
	log        *zap.Logger
}

func NewRecoveryCoordinator(
	manifest *config.Manifest,
	state repositories.StateStore,
	target repositories.Target,
	exporter warehouse.Exporter,
	builder *StatementBuilder,
	safeBehind time.Duration,
	log *zap.Logger,
) *RecoveryCoordinator {
	return &RecoveryCoordinator{
		manifest:   manifest,
		state:      state,
		target:     target,
		exporter:   exporter,
		builder:    builder,
		safeBehind: safeBehind,
		log:        log,
	}
}

// ResetToSafeHorizon moves table's watermarks back to the configured
// safe-behind horizon and returns the watermark the next locate should use.
// Never moves forward of the last confirmed commit.
func (r *RecoveryCoordinator) ResetToSafeHorizon(ctx context.Context, table string) (models.Watermark, error) {
	horizon := models.Watermark{
		Table:        table,
		LastSyncedAt: time.Now().Add(-r.safeBehind),
	}

	stored, err := r.state.TableWatermark(ctx, table)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return models.Watermark{}, err
	}
	effective := horizon
	if stored != nil && stored.LastSyncedAt.Before(horizon.LastSyncedAt) {
		effective = models.Watermark{Table: table, LastSyncedAt: stored.LastSyncedAt}
	}

	if err := r.state.ResetWatermark(ctx, table, effective); err != nil {
		return models.Watermark{}, err
	}
	r.log.Warn("watermark reset to safe horizon",
		zap.String("table", table),
		zap.Time("horizon", effective.LastSyncedAt))
	return effective, nil
}

// ResolveAmbiguousCommit returns the partition IDs among expected whose
// watermark rows are durably committed. The relational store's recorded
// per-partition marks are the only evidence consulted.
func (r *RecoveryCoordinator) ResolveAmbiguousCommit(ctx context.Context, table string, expected []models.Watermark) ([]string, error) {
	committed, err := r.state.CommittedPartitions(ctx, table)
	if err != nil {
		return nil, err
	}
	byPartition := make(map[string]models.Watermark, len(committed))
	for _, wm := range committed {
		byPartition[wm.Partition] = wm
	}

	var confirmed []string
	for _, want := range expected {
		got, ok := byPartition[want.Partition]
		if !ok {
			continue
		}
		if !got.Before(want) {
			confirmed = append(confirmed, want.Partition)
		}
	}
	return confirmed, nil
}

// Resync handles an operator resync request. Batch tables get a watermark
// reset (to the safe horizon, or to zero for a full resync) and are picked
// up by the next cycle. Stream tables get the fallback of last resort: a
// full re-export diffed against every stored fingerprint, with deletes
// inferred for keys the export no longer contains.
func (r *RecoveryCoordinator) Resync(ctx context.Context, table string, mode models.ResyncMode) error {
	st := r.manifest.Table(table)
	if st == nil {
		return fmt.Errorf("unknown table %q", table)
	}

	if st.Mode == models.SyncModeBatch {
		if mode == models.ResyncFull {
			return r.state.ResetWatermark(ctx, table, models.Watermark{Table: table})
		}
		_, err := r.ResetToSafeHorizon(ctx, table)
		return err
	}
	return r.fullStreamResync(ctx, st)
}

func (r *RecoveryCoordinator) fullStreamResync(ctx context.Context, st *models.SyncedTable) error {
	r.log.Warn("running full stream resync", zap.String("table", st.ID))

	hasher := NewHasher(st.HashExclude)
	reader, err := r.exporter.ExportAll(ctx, st.Source)
	if err != nil {
		return asSourceErr(err)
	}
	defer reader.Close()

	stored, err := r.state.ListFingerprints(ctx, st.ID)
	if err != nil {
		return err
	}
	storedByKey := make(map[string]models.RowFingerprint, len(stored))
	for _, fp := range stored {
		storedByKey[fp.Key] = fp
	}

	now := time.Now()
	var decisions []models.ChangeDecision
	var fresh []models.RowFingerprint
	seen := make(map[string]bool, len(storedByKey))
	for {
		row, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asSourceErr(err)
		}
		key := CanonicalKey(row, st.PrimaryKey)
		hash := hasher.Hash(row)
		seen[key] = true

		prev, known := storedByKey[key]
		switch {
		case !known:
			decisions = append(decisions, models.ChangeDecision{
				Kind: models.DecisionInsert, Key: key, Row: row, Hash: hash,
			})
		case prev.ContentHash != hash:
			decisions = append(decisions, models.ChangeDecision{
				Kind: models.DecisionUpdate, Key: key, Row: row, Hash: hash,
			})
		default:
			continue
		}
		fresh = append(fresh, models.RowFingerprint{
			Table: st.ID, Key: key, ContentHash: hash, LastSeenAt: now,
		})
	}

	// Keys fingerprinted but absent from the re-export were deleted upstream.
	var deletedKeys []string
	for _, fp := range stored {
		if seen[fp.Key] {
			continue
		}
		decisions = append(decisions, models.ChangeDecision{
			Kind:      models.DecisionDelete,
			Key:       fp.Key,
			KeyValues: keyValuesFromCanonical(fp.Key, st.PrimaryKey),
		})
		deletedKeys = append(deletedKeys, fp.Key)
	}

	if len(decisions) == 0 {
		return nil
	}

	err = r.target.WithinTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if err := tx.Apply(ctx, r.builder.Diff(st, decisions)); err != nil {
			return err
		}
		if err := r.state.UpsertFingerprints(ctx, tx, fresh); err != nil {
			return err
		}
		if err := r.state.DeleteFingerprints(ctx, tx, st.ID, deletedKeys); err != nil {
			return err
		}
		return r.state.AdvanceWatermark(ctx, tx, models.Watermark{
			Table:             st.ID,
			LastSyncedAt:      now,
			LastSyncedVersion: now.UnixNano(),
		})
	})
	if err != nil {
		return err
	}

	r.log.Info("full stream resync committed",
		zap.String("table", st.ID),
		zap.Int("changes", len(decisions)),
		zap.Int("deletes", len(deletedKeys)))
	return nil
}
