package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prudhvinik1/tablesync/internal/config"
	"github.com/prudhvinik1/tablesync/internal/models"
	"github.com/prudhvinik1/tablesync/internal/repositories"
	"github.com/prudhvinik1/tablesync/internal/syncerr"
	"github.com/prudhvinik1/tablesync/internal/warehouse"
)

// BatchController drives partition-replace sync: locate changed partitions,
// export them, replace them transactionally, advance watermarks. One cycle
// covers a whole dependency group so cross-table references commit together.
// Single-flight per group keeps two cycles from racing on a partition.
type BatchController struct {
	manifest *config.Manifest
	locator  *ChangeLocator
	builder  *StatementBuilder
	planner  *Planner
	state    repositories.StateStore
	target   repositories.Target
	exporter warehouse.Exporter
	recovery *RecoveryCoordinator
	retry    Retry
	log      *zap.Logger

	flight singleflight.Group

	mu     sync.Mutex
	status map[string]*tableStatus
}

type tableStatus struct {
	state     models.CycleState
	lastRunID uuid.UUID
	lastRunAt time.Time
	lastError string
}

func NewBatchController(
	manifest *config.Manifest,
	locator *ChangeLocator,
	builder *StatementBuilder,
	planner *Planner,
	state repositories.StateStore,
	target repositories.Target,
	exporter warehouse.Exporter,
	recovery *RecoveryCoordinator,
	retry Retry,
	log *zap.Logger,
) *BatchController {
	return &BatchController{
		manifest: manifest,
		locator:  locator,
		builder:  builder,
		planner:  planner,
		state:    state,
		target:   target,
		exporter: exporter,
		recovery: recovery,
		retry:    retry,
		log:      log,
		status:   make(map[string]*tableStatus),
	}
}

// batchTables lists the IDs of all batch-mode tables in the manifest.
func (c *BatchController) batchTables() []string {
	var ids []string
	for i := range c.manifest.Tables {
		if c.manifest.Tables[i].Mode == models.SyncModeBatch {
			ids = append(ids, c.manifest.Tables[i].ID)
		}
	}
	return ids
}

// TriggerSync runs one sync cycle for the dependency group containing table
// and reports the outcome. A failed cycle is a result, not a Go error;
// errors are reserved for requests that cannot be attempted at all.
func (c *BatchController) TriggerSync(ctx context.Context, table string) (*models.SyncResult, error) {
	st := c.manifest.Table(table)
	if st == nil {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if st.Mode != models.SyncModeBatch {
		return nil, fmt.Errorf("table %q is under streaming sync", table)
	}

	group, err := c.planner.GroupOf(c.batchTables(), table)
	if err != nil {
		// Cyclic dependencies are configuration errors: loud, never retried.
		return nil, err
	}

	v, err, _ := c.flight.Do(strings.Join(group, "|"), func() (any, error) {
		return c.runCycle(ctx, table, group), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SyncResult), nil
}

type partitionExport struct {
	partition warehouse.Partition
	rows      []models.Row
}

type tableWork struct {
	table   *models.SyncedTable
	exports []partitionExport
}

func (c *BatchController) runCycle(ctx context.Context, triggered string, group []string) *models.SyncResult {
	result := &models.SyncResult{
		RunID:     uuid.New(),
		Table:     triggered,
		StartedAt: time.Now(),
	}
	log := c.log.With(zap.Stringer("run_id", result.RunID), zap.Strings("group", group))

	c.setGroupState(group, models.StateLocating, result.RunID)

	// Locating
	work := make([]tableWork, 0, len(group))
	total := 0
	for _, tid := range group {
		st := c.manifest.Table(tid)
		parts, err := c.locateTable(ctx, st)
		if err != nil {
			return c.fail(result, group, err)
		}
		exports := make([]partitionExport, 0, len(parts))
		for _, p := range parts {
			exports = append(exports, partitionExport{partition: p})
		}
		work = append(work, tableWork{table: st, exports: exports})
		total += len(parts)
	}
	if total == 0 {
		// Nothing changed; no transaction is opened.
		c.setGroupState(group, models.StateIdle, result.RunID)
		result.Success = true
		result.FinishedAt = time.Now()
		return result
	}
	if err := ctx.Err(); err != nil {
		return c.fail(result, group, err)
	}

	// Exporting
	c.setGroupState(group, models.StateExporting, result.RunID)
	for wi := range work {
		for pi := range work[wi].exports {
			rows, err := c.exportPartition(ctx, work[wi].table, work[wi].exports[pi].partition.ID)
			if err != nil {
				return c.fail(result, group, err)
			}
			work[wi].exports[pi].rows = rows
		}
	}
	if err := ctx.Err(); err != nil {
		return c.fail(result, group, err)
	}

	// Applying
	c.setGroupState(group, models.StateApplying, result.RunID)
	rowsWritten := 0
	err := c.target.WithinTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		for _, w := range work {
			for _, exp := range w.exports {
				stmts := c.builder.PartitionReplace(w.table, exp.partition.ID, exp.rows)
				if err := tx.Apply(ctx, stmts); err != nil {
					return err
				}
				if err := c.state.AdvanceWatermark(ctx, tx, models.Watermark{
					Table:             w.table.ID,
					Partition:         exp.partition.ID,
					LastSyncedAt:      exp.partition.ModifiedAt,
					LastSyncedVersion: exp.partition.Version,
				}); err != nil {
					return err
				}
				rowsWritten += len(exp.rows)
			}
			if wm, ok := maxWatermark(w.table.ID, w.exports); ok {
				if err := c.state.AdvanceWatermark(ctx, tx, wm); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if syncerr.DeliveryAmbiguous.Has(err) {
		// The commit may or may not have landed; trust only the committed
		// watermarks, never in-memory state.
		resolved, rerr := c.resolveAmbiguous(ctx, work)
		if rerr != nil {
			return c.fail(result, group, errors.Join(err, rerr))
		}
		if !resolved {
			return c.fail(result, group, err)
		}
		log.Info("ambiguous commit confirmed from committed watermarks")
		err = nil
	}
	if err != nil {
		return c.fail(result, group, err)
	}

	// Committed
	c.setGroupState(group, models.StateCommitted, result.RunID)
	for _, w := range work {
		if w.table.ID != triggered {
			continue
		}
		for _, exp := range w.exports {
			result.PartitionsApplied = append(result.PartitionsApplied, exp.partition.ID)
		}
	}
	result.RowsWritten = rowsWritten
	result.Success = true
	result.FinishedAt = time.Now()
	log.Info("sync cycle committed",
		zap.Int("partitions", total),
		zap.Int("rows", rowsWritten))

	c.setGroupState(group, models.StateIdle, result.RunID)
	return result
}

// locateTable invokes the change locator with retry. An invalid watermark is
// handed to the recovery coordinator, which resets it behind the safe
// horizon, and location is attempted once more.
func (c *BatchController) locateTable(ctx context.Context, st *models.SyncedTable) ([]warehouse.Partition, error) {
	since, err := c.currentWatermark(ctx, st.ID)
	if err != nil {
		return nil, err
	}

	var parts []warehouse.Partition
	locate := func(ctx context.Context) error {
		var err error
		parts, err = c.locator.Locate(ctx, st, since)
		return err
	}

	err = c.retry.Do(ctx, c.log, "locate "+st.ID, locate)
	if syncerr.WatermarkInvalid.Has(err) {
		reset, rerr := c.recovery.ResetToSafeHorizon(ctx, st.ID)
		if rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		since = reset
		err = c.retry.Do(ctx, c.log, "relocate "+st.ID, locate)
	}
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// currentWatermark reads the table-level mark; a table never synced before
// starts from the zero watermark. Read failures propagate and fail the
// cycle: treating them as "never synced" would silently relocate and
// re-export everything.
func (c *BatchController) currentWatermark(ctx context.Context, table string) (models.Watermark, error) {
	wm, err := c.state.TableWatermark(ctx, table)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Watermark{Table: table}, nil
	}
	if err != nil {
		return models.Watermark{}, err
	}
	return *wm, nil
}

func (c *BatchController) exportPartition(ctx context.Context, st *models.SyncedTable, partitionID string) ([]models.Row, error) {
	var rows []models.Row
	err := c.retry.Do(ctx, c.log, "export "+st.ID+"/"+partitionID, func(ctx context.Context) error {
		rows = rows[:0]
		reader, err := c.exporter.ExportPartition(ctx, st.Source, partitionID)
		if err != nil {
			return asSourceErr(err)
		}
		defer reader.Close()
		for {
			row, err := reader.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return asSourceErr(err)
			}
			rows = append(rows, row)
		}
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// resolveAmbiguous reports whether every partition in the cycle is confirmed
// committed, judged solely from the durable watermark rows.
func (c *BatchController) resolveAmbiguous(ctx context.Context, work []tableWork) (bool, error) {
	for _, w := range work {
		expected := make([]models.Watermark, 0, len(w.exports))
		for _, exp := range w.exports {
			expected = append(expected, models.Watermark{
				Table:             w.table.ID,
				Partition:         exp.partition.ID,
				LastSyncedAt:      exp.partition.ModifiedAt,
				LastSyncedVersion: exp.partition.Version,
			})
		}
		confirmed, err := c.recovery.ResolveAmbiguousCommit(ctx, w.table.ID, expected)
		if err != nil {
			return false, err
		}
		if len(confirmed) != len(expected) {
			return false, nil
		}
	}
	return true, nil
}

func (c *BatchController) fail(result *models.SyncResult, group []string, err error) *models.SyncResult {
	result.Success = false
	result.Error = err.Error()
	result.FinishedAt = time.Now()
	c.log.Error("sync cycle failed",
		zap.Stringer("run_id", result.RunID),
		zap.Strings("group", group),
		zap.Error(err))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tid := range group {
		s := c.ensureStatus(tid)
		s.state = models.StateFailed
		s.lastRunID = result.RunID
		s.lastRunAt = time.Now()
		s.lastError = err.Error()
	}
	return result
}

func (c *BatchController) setGroupState(group []string, state models.CycleState, runID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tid := range group {
		s := c.ensureStatus(tid)
		s.state = state
		s.lastRunID = runID
		s.lastRunAt = time.Now()
		if state == models.StateCommitted || state == models.StateIdle {
			s.lastError = ""
		}
	}
}

// ensureStatus must be called with mu held.
func (c *BatchController) ensureStatus(table string) *tableStatus {
	s, ok := c.status[table]
	if !ok {
		s = &tableStatus{state: models.StateIdle}
		c.status[table] = s
	}
	return s
}

// Status reports the observable state for one batch table.
func (c *BatchController) Status(ctx context.Context, table string) (*models.SyncStatus, error) {
	if c.manifest.Table(table) == nil {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	c.mu.Lock()
	s := c.ensureStatus(table)
	status := &models.SyncStatus{
		Table:     table,
		State:     s.state,
		LastRunID: s.lastRunID,
		LastRunAt: s.lastRunAt,
		LastError: s.lastError,
	}
	c.mu.Unlock()

	wm, err := c.state.TableWatermark(ctx, table)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}
	status.Watermark = wm
	return status, nil
}

func maxWatermark(table string, exports []partitionExport) (models.Watermark, bool) {
	var best models.Watermark
	found := false
	for _, exp := range exports {
		wm := models.Watermark{
			Table:             table,
			LastSyncedAt:      exp.partition.ModifiedAt,
			LastSyncedVersion: exp.partition.Version,
		}
		if !found || best.Before(wm) {
			best = wm
			found = true
		}
	}
	return best, found
}

func asSourceErr(err error) error {
	if err == nil || syncerr.SourceUnavailable.Has(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, warehouse.ErrUnavailable) {
		return syncerr.SourceUnavailable.Wrap(err)
	}
	return syncerr.SourceUnavailable.New("export failed: %v", err)
}
