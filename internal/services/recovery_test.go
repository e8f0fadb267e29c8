package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/prudhvinik1/tablesync/internal/config"
	"github.com/prudhvinik1/tablesync/internal/models"
)

type recoveryHarness struct {
	recovery *RecoveryCoordinator
	state    *fakeStateStore
	target   *fakeTarget
	exporter *fakeExporter
}

func newRecoveryHarness(t *testing.T) *recoveryHarness {
	manifest := &config.Manifest{Tables: []models.SyncedTable{*recipesTable(), *ratingsTable()}}
	state := newFakeStateStore()
	target := &fakeTarget{}
	exporter := newFakeExporter()
	recovery := NewRecoveryCoordinator(
		manifest, state, target, exporter, NewStatementBuilder(500),
		24*time.Hour, zaptest.NewLogger(t),
	)
	return &recoveryHarness{recovery: recovery, state: state, target: target, exporter: exporter}
}

func TestRecovery_ResetToSafeHorizon(t *testing.T) {
	t.Run("recent watermark moves back to the horizon", func(t *testing.T) {
		h := newRecoveryHarness(t)
		h.state.seedWatermark(models.Watermark{
			Table: "recipes", Partition: "p9", LastSyncedAt: time.Now(), LastSyncedVersion: 9,
		})

		reset, err := h.recovery.ResetToSafeHorizon(context.Background(), "recipes")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(-24*time.Hour), reset.LastSyncedAt, time.Minute)

		wm, err := h.state.GetWatermark(context.Background(), "recipes", "p9")
		require.NoError(t, err)
		assert.True(t, wm.LastSyncedAt.Before(time.Now().Add(-23*time.Hour)))
	})

	t.Run("older watermark is not moved forward", func(t *testing.T) {
		h := newRecoveryHarness(t)
		old := time.Now().Add(-72 * time.Hour)
		h.state.seedWatermark(models.Watermark{
			Table: "recipes", Partition: "p1", LastSyncedAt: old, LastSyncedVersion: 1,
		})

		reset, err := h.recovery.ResetToSafeHorizon(context.Background(), "recipes")
		require.NoError(t, err)
		assert.True(t, reset.LastSyncedAt.Equal(old))
	})
}

func TestRecovery_ResolveAmbiguousCommit(t *testing.T) {
	h := newRecoveryHarness(t)
	now := time.Now()
	h.state.seedWatermark(models.Watermark{
		Table: "recipes", Partition: "p1", LastSyncedAt: now, LastSyncedVersion: 2,
	})
	// The table-level mark carries no partition evidence and must not
	// confirm anything on its own.
	h.state.seedWatermark(models.Watermark{
		Table: "recipes", LastSyncedAt: now, LastSyncedVersion: 2,
	})

	expected := []models.Watermark{
		{Table: "recipes", Partition: "p1", LastSyncedAt: now, LastSyncedVersion: 2},
		{Table: "recipes", Partition: "p2", LastSyncedAt: now, LastSyncedVersion: 2},
	}
	confirmed, err := h.recovery.ResolveAmbiguousCommit(context.Background(), "recipes", expected)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, confirmed, "only durably recorded partitions are confirmed")
}

func TestRecovery_BatchResyncModes(t *testing.T) {
	t.Run("full resets to zero", func(t *testing.T) {
		h := newRecoveryHarness(t)
		h.state.seedWatermark(models.Watermark{
			Table: "recipes", Partition: "p1", LastSyncedAt: time.Now(), LastSyncedVersion: 7,
		})

		require.NoError(t, h.recovery.Resync(context.Background(), "recipes", models.ResyncFull))

		wm, err := h.state.GetWatermark(context.Background(), "recipes", "p1")
		require.NoError(t, err)
		assert.True(t, wm.LastSyncedAt.IsZero())
		assert.Zero(t, wm.LastSyncedVersion)
	})

	t.Run("incremental resets to the safe horizon", func(t *testing.T) {
		h := newRecoveryHarness(t)
		h.state.seedWatermark(models.Watermark{
			Table: "recipes", Partition: "p1", LastSyncedAt: time.Now(), LastSyncedVersion: 7,
		})

		require.NoError(t, h.recovery.Resync(context.Background(), "recipes", models.ResyncIncremental))

		wm, err := h.state.GetWatermark(context.Background(), "recipes", "p1")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(-24*time.Hour), wm.LastSyncedAt, time.Minute)
	})

	t.Run("unknown table is rejected", func(t *testing.T) {
		h := newRecoveryHarness(t)
		assert.Error(t, h.recovery.Resync(context.Background(), "nope", models.ResyncFull))
	})
}

// A stream resync re-exports the whole table and reconciles it against the
// stored fingerprints: changed rows upsert, vanished keys delete, unchanged
// rows write nothing.
func TestRecovery_FullStreamResync(t *testing.T) {
	h := newRecoveryHarness(t)
	ctx := context.Background()
	hasher := NewHasher([]string{"ingested_at"})

	unchanged := models.Row{"recipe_id": float64(1), "user_id": float64(1), "rating": float64(4)}
	changed := models.Row{"recipe_id": float64(2), "user_id": float64(2), "rating": float64(5)}
	added := models.Row{"recipe_id": float64(3), "user_id": float64(3), "rating": float64(3)}
	pk := []string{"recipe_id", "user_id"}

	h.state.seedFingerprint(models.RowFingerprint{
		Table: "recipe_ratings", Key: CanonicalKey(unchanged, pk), ContentHash: hasher.Hash(unchanged),
	})
	stale := changed.Clone()
	stale["rating"] = float64(1)
	h.state.seedFingerprint(models.RowFingerprint{
		Table: "recipe_ratings", Key: CanonicalKey(changed, pk), ContentHash: hasher.Hash(stale),
	})
	vanished := models.Row{"recipe_id": float64(4), "user_id": float64(4), "rating": float64(2)}
	h.state.seedFingerprint(models.RowFingerprint{
		Table: "recipe_ratings", Key: CanonicalKey(vanished, pk), ContentHash: hasher.Hash(vanished),
	})

	h.exporter.all["analytics.recipe_ratings"] = []models.Row{unchanged, changed, added}

	require.NoError(t, h.recovery.Resync(ctx, "recipe_ratings", models.ResyncFull))

	commits := h.target.committed()
	require.Len(t, commits, 1)
	var upserts, deletes int
	for _, stmt := range commits[0] {
		if strings.Contains(stmt.SQL, "ON CONFLICT") {
			upserts++
			assert.NotContains(t, stmt.Args, float64(4), "the unchanged row must not be rewritten")
		}
		if strings.Contains(stmt.SQL, "DELETE FROM recipe_ratings") {
			deletes++
			// Key values reconstructed from the stored fingerprint decode
			// integral numbers as int64.
			assert.Contains(t, stmt.Args, int64(4))
		}
	}
	assert.Equal(t, 1, upserts)
	assert.Equal(t, 1, deletes)

	// Fingerprints now mirror the export.
	_, err := h.state.GetFingerprint(ctx, "recipe_ratings", CanonicalKey(vanished, pk))
	assert.Error(t, err)
	fp, err := h.state.GetFingerprint(ctx, "recipe_ratings", CanonicalKey(changed, pk))
	require.NoError(t, err)
	assert.Equal(t, hasher.Hash(changed), fp.ContentHash)

	wm, err := h.state.TableWatermark(ctx, "recipe_ratings")
	require.NoError(t, err)
	assert.False(t, wm.IsZero())

	// A second identical resync finds nothing to do.
	require.NoError(t, h.recovery.Resync(ctx, "recipe_ratings", models.ResyncFull))
	assert.Len(t, h.target.committed(), 1)
}
