package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhvinik1/tablesync/internal/feed"
	"github.com/prudhvinik1/tablesync/internal/models"
	"github.com/prudhvinik1/tablesync/internal/repositories"
)

// StreamController runs continuous diff sync for one table: consume the
// change feed, fingerprint each row, derive decisions, and flush them in
// bounded-latency batches. A flush commits the decisions and the fingerprint
// updates in one transaction, then acknowledges the feed; anything unacked
// is redelivered and resolves to NoOps.
type StreamController struct {
	table   *models.SyncedTable
	feed    feed.Feed
	hasher  *Hasher
	builder *StatementBuilder
	state   repositories.StateStore
	target  repositories.Target
	retry   Retry

	flushRows     int
	flushInterval time.Duration
	log           *zap.Logger

	// buffer holds the winning decision per key; duplicate and stale
	// events for a key are resolved last-fingerprint-wins before a flush.
	buffer  map[string]models.ChangeDecision
	offsets []string

	mu     sync.Mutex
	status struct {
		state     models.CycleState
		lastRunID uuid.UUID
		lastRunAt time.Time
		lastError string
	}
}

func NewStreamController(
	table *models.SyncedTable,
	f feed.Feed,
	builder *StatementBuilder,
	state repositories.StateStore,
	target repositories.Target,
	retry Retry,
	flushRows int,
	flushInterval time.Duration,
	log *zap.Logger,
) *StreamController {
	return &StreamController{
		table:         table,
		feed:          f,
		hasher:        NewHasher(table.HashExclude),
		builder:       builder,
		state:         state,
		target:        target,
		retry:         retry,
		flushRows:     flushRows,
		flushInterval: flushInterval,
		log:           log.With(zap.String("table", table.ID)),
		buffer:        make(map[string]models.ChangeDecision),
	}
}

// Run consumes the feed until ctx is cancelled. Buffered but unflushed
// decisions are abandoned on exit; their events were never acknowledged, so
// the feed redelivers them.
//
// A flush that exhausts its retry budget does not stop the controller: the
// failure is held in the status as Failed and consumption resumes after a
// backoff, so one table's target outage never takes the others down.
func (c *StreamController) Run(ctx context.Context) error {
	c.log.Info("stream sync started")
	c.setState(models.StateIdle, "")

	var flushDeadline time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		block := c.flushInterval
		if !flushDeadline.IsZero() {
			block = time.Until(flushDeadline)
			if block <= 0 {
				if err := c.tryFlush(ctx); err != nil {
					return err
				}
				flushDeadline = time.Time{}
				continue
			}
		}

		events, err := c.feed.Read(ctx, c.flushRows, block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("feed read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry.BaseDelay):
			}
			continue
		}

		for _, ev := range events {
			if err := c.observe(ctx, ev); err != nil {
				return err
			}
		}

		if len(c.buffer) == 0 {
			flushDeadline = time.Time{}
			continue
		}
		if flushDeadline.IsZero() {
			flushDeadline = time.Now().Add(c.flushInterval)
		}
		if len(c.buffer) >= c.flushRows || !time.Now().Before(flushDeadline) {
			if err := c.tryFlush(ctx); err != nil {
				return err
			}
			flushDeadline = time.Time{}
		}
	}
}

// tryFlush flushes and absorbs flush failures: the buffer and offsets stay
// in place for the next attempt, and only context cancellation propagates.
func (c *StreamController) tryFlush(ctx context.Context) error {
	err := c.flush(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.log.Error("flush failed, backing off before retrying", zap.Error(err))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.flushInterval):
	}
	return nil
}

// observe derives the ChangeDecision for one event and buffers it. The
// comparison baseline is the buffered decision for the key when present,
// otherwise the stored fingerprint.
func (c *StreamController) observe(ctx context.Context, ev feed.Event) error {
	key := CanonicalKey(ev.Key, c.table.PrimaryKey)

	var prevHash uint64
	prevExists := false
	if pending, ok := c.buffer[key]; ok {
		prevExists = pending.Kind != models.DecisionDelete
		prevHash = pending.Hash
	} else {
		fp, err := c.state.GetFingerprint(ctx, c.table.ID, key)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return err
		}
		if fp != nil {
			prevExists = true
			prevHash = fp.ContentHash
		}
	}

	if ev.Row == nil {
		// Tombstone. Deleting a never-seen key is a NoOp, but the offset
		// is still acknowledged with the next flush.
		c.offsets = append(c.offsets, ev.Offset)
		if prevExists {
			c.buffer[key] = models.ChangeDecision{
				Kind:      models.DecisionDelete,
				Key:       key,
				KeyValues: ev.Key,
			}
		}
		return nil
	}

	hash := c.hasher.Hash(ev.Row)
	c.offsets = append(c.offsets, ev.Offset)
	if prevExists && prevHash == hash {
		// Duplicate delivery or unchanged content: NoOp, nothing buffered.
		return nil
	}

	kind := models.DecisionUpdate
	if !prevExists {
		kind = models.DecisionInsert
	}
	c.buffer[key] = models.ChangeDecision{
		Kind:      kind,
		Key:       key,
		KeyValues: ev.Key,
		Row:       ev.Row,
		Hash:      hash,
	}
	return nil
}

func (c *StreamController) flush(ctx context.Context) error {
	if len(c.buffer) == 0 && len(c.offsets) == 0 {
		return nil
	}
	runID := uuid.New()
	c.mu.Lock()
	c.status.state = models.StateApplying
	c.status.lastRunID = runID
	c.status.lastRunAt = time.Now()
	c.mu.Unlock()

	decisions := make([]models.ChangeDecision, 0, len(c.buffer))
	for _, d := range c.buffer {
		decisions = append(decisions, d)
	}

	now := time.Now()
	var fresh []models.RowFingerprint
	var deleted []string
	for _, d := range decisions {
		switch d.Kind {
		case models.DecisionInsert, models.DecisionUpdate:
			fresh = append(fresh, models.RowFingerprint{
				Table: c.table.ID, Key: d.Key, ContentHash: d.Hash, LastSeenAt: now,
			})
		case models.DecisionDelete:
			deleted = append(deleted, d.Key)
		}
	}

	err := c.retry.Do(ctx, c.log, "flush "+c.table.ID, func(ctx context.Context) error {
		return c.target.WithinTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
			if len(decisions) > 0 {
				if err := tx.Apply(ctx, c.builder.Diff(c.table, decisions)); err != nil {
					return err
				}
			}
			if err := c.state.UpsertFingerprints(ctx, tx, fresh); err != nil {
				return err
			}
			if err := c.state.DeleteFingerprints(ctx, tx, c.table.ID, deleted); err != nil {
				return err
			}
			return c.state.AdvanceWatermark(ctx, tx, models.Watermark{
				Table:             c.table.ID,
				LastSyncedAt:      now,
				LastSyncedVersion: now.UnixNano(),
			})
		})
	})
	if err != nil {
		c.setState(models.StateFailed, err.Error())
		return err
	}

	if err := c.feed.Ack(ctx, c.offsets); err != nil {
		// Commit already happened; redelivered events hash to NoOps.
		c.log.Warn("feed ack failed after commit", zap.Error(err))
	}

	c.log.Debug("flushed stream batch",
		zap.Stringer("run_id", runID),
		zap.Int("decisions", len(decisions)),
		zap.Int("deletes", len(deleted)))

	c.buffer = make(map[string]models.ChangeDecision)
	c.offsets = nil
	c.setState(models.StateIdle, "")
	return nil
}

func (c *StreamController) setState(state models.CycleState, lastError string) {
	c.mu.Lock()
	c.status.state = state
	c.status.lastError = lastError
	c.mu.Unlock()
}

// Status reports the stream table's observable state.
func (c *StreamController) Status(ctx context.Context) (*models.SyncStatus, error) {
	c.mu.Lock()
	status := &models.SyncStatus{
		Table:     c.table.ID,
		State:     c.status.state,
		LastRunID: c.status.lastRunID,
		LastRunAt: c.status.lastRunAt,
		LastError: c.status.lastError,
	}
	c.mu.Unlock()
	// Stream sync only ever writes the table-level mark, so a point read
	// is exact here.
	wm, err := c.state.GetWatermark(ctx, c.table.ID, "")
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}
	status.Watermark = wm
	return status, nil
}
