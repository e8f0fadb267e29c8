package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/tablesync/internal/config"
	"github.com/prudhvinik1/tablesync/internal/models"
)

// Engine is the operator-facing facade over both controllers and the
// recovery coordinator.
type Engine struct {
	manifest *config.Manifest
	planner  *Planner
	batch    *BatchController
	recovery *RecoveryCoordinator
	streams  map[string]*StreamController
	log      *zap.Logger
}

func NewEngine(
	manifest *config.Manifest,
	planner *Planner,
	batch *BatchController,
	recovery *RecoveryCoordinator,
	streams map[string]*StreamController,
	log *zap.Logger,
) *Engine {
	return &Engine{
		manifest: manifest,
		planner:  planner,
		batch:    batch,
		recovery: recovery,
		streams:  streams,
		log:      log,
	}
}

func (e *Engine) TriggerSync(ctx context.Context, table string) (*models.SyncResult, error) {
	return e.batch.TriggerSync(ctx, table)
}

func (e *Engine) Status(ctx context.Context, table string) (*models.SyncStatus, error) {
	if sc, ok := e.streams[table]; ok {
		return sc.Status(ctx)
	}
	return e.batch.Status(ctx, table)
}

func (e *Engine) Resync(ctx context.Context, table string, mode models.ResyncMode) error {
	return e.recovery.Resync(ctx, table, mode)
}

// RunStreams runs all stream controllers until ctx is cancelled.
func (e *Engine) RunStreams(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, sc := range e.streams {
		sc := sc
		group.Go(func() error {
			return sc.Run(ctx)
		})
	}
	return group.Wait()
}

// RunScheduler triggers a batch cycle per dependency group on a fixed
// cadence, starting with an immediate run. Cycle failures are logged and
// left for the next tick; single-flight already guards overlap with manual
// triggers.
func (e *Engine) RunScheduler(ctx context.Context, interval time.Duration) error {
	var batchIDs []string
	for i := range e.manifest.Tables {
		if e.manifest.Tables[i].Mode == models.SyncModeBatch {
			batchIDs = append(batchIDs, e.manifest.Tables[i].ID)
		}
	}
	if len(batchIDs) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	groups, err := e.planner.Groups(batchIDs)
	if err != nil {
		return fmt.Errorf("cannot schedule sync: %w", err)
	}

	runGroup := func(ctx context.Context, representative string) {
		result, err := e.batch.TriggerSync(ctx, representative)
		if err != nil {
			e.log.Error("scheduled cycle rejected", zap.String("table", representative), zap.Error(err))
			return
		}
		if !result.Success {
			e.log.Warn("scheduled cycle failed",
				zap.String("table", representative),
				zap.Stringer("run_id", result.RunID),
				zap.String("error", result.Error))
		}
	}

	wg, ctx := errgroup.WithContext(ctx)
	for _, g := range groups {
		representative := g[0]
		wg.Go(func() error {
			runGroup(ctx, representative)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					runGroup(ctx, representative)
				}
			}
		})
	}
	return wg.Wait()
}
