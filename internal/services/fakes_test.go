package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prudhvinik1/tablesync/internal/feed"
	"github.com/prudhvinik1/tablesync/internal/models"
	"github.com/prudhvinik1/tablesync/internal/repositories"
	"github.com/prudhvinik1/tablesync/internal/warehouse"
)

// fakeTx buffers statements and bookkeeping effects; effects land only if
// the fake target commits.
type fakeTx struct {
	stmts  []models.Statement
	staged []func()
	failOn func(models.Statement) error
}

func (t *fakeTx) Apply(ctx context.Context, stmts []models.Statement) error {
	for _, s := range stmts {
		if t.failOn != nil {
			if err := t.failOn(s); err != nil {
				return err
			}
		}
		t.stmts = append(t.stmts, s)
	}
	return nil
}

type fakeTarget struct {
	mu      sync.Mutex
	commits [][]models.Statement

	failApply    func(models.Statement) error
	commitErr    error
	commitAnyway bool
}

func (f *fakeTarget) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	tx := &fakeTx{failOn: f.failApply}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		err := f.commitErr
		f.commitErr = nil
		if f.commitAnyway {
			for _, apply := range tx.staged {
				apply()
			}
			f.commits = append(f.commits, tx.stmts)
		}
		return err
	}
	for _, apply := range tx.staged {
		apply()
	}
	f.commits = append(f.commits, tx.stmts)
	return nil
}

func (f *fakeTarget) committed() [][]models.Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

// fakeStateStore keeps watermarks and fingerprints in memory. Mutations
// passed a *fakeTx are staged and only visible once that tx commits.
type fakeStateStore struct {
	mu           sync.Mutex
	watermarks   map[string]models.Watermark
	fingerprints map[string]models.RowFingerprint

	readErr error
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{
		watermarks:   make(map[string]models.Watermark),
		fingerprints: make(map[string]models.RowFingerprint),
	}
}

func wmKey(table, partition string) string { return table + "|" + partition }

func (s *fakeStateStore) seedWatermark(wm models.Watermark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[wmKey(wm.Table, wm.Partition)] = wm
}

func (s *fakeStateStore) GetWatermark(ctx context.Context, table, partition string) (*models.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.watermarks[wmKey(table, partition)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &wm, nil
}

func (s *fakeStateStore) TableWatermark(ctx context.Context, table string) (*models.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var best *models.Watermark
	for _, wm := range s.watermarks {
		if wm.Table != table {
			continue
		}
		if best == nil || best.Before(wm) {
			copied := wm
			best = &copied
		}
	}
	if best == nil {
		return nil, repositories.ErrNotFound
	}
	return best, nil
}

func (s *fakeStateStore) AdvanceWatermark(ctx context.Context, tx repositories.Tx, wm models.Watermark) error {
	ft, ok := tx.(*fakeTx)
	if !ok {
		return fmt.Errorf("fake state store needs a fake tx")
	}
	ft.staged = append(ft.staged, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		key := wmKey(wm.Table, wm.Partition)
		if current, exists := s.watermarks[key]; exists && wm.Before(current) {
			return
		}
		s.watermarks[key] = wm
	})
	return nil
}

func (s *fakeStateStore) ResetWatermark(ctx context.Context, table string, to models.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, wm := range s.watermarks {
		if wm.Table != table {
			continue
		}
		if to.LastSyncedAt.Before(wm.LastSyncedAt) {
			wm.LastSyncedAt = to.LastSyncedAt
		}
		if to.LastSyncedVersion < wm.LastSyncedVersion {
			wm.LastSyncedVersion = to.LastSyncedVersion
		}
		s.watermarks[key] = wm
	}
	return nil
}

func (s *fakeStateStore) CommittedPartitions(ctx context.Context, table string) ([]models.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var marks []models.Watermark
	for _, wm := range s.watermarks {
		if wm.Table == table && wm.Partition != "" {
			marks = append(marks, wm)
		}
	}
	return marks, nil
}

func fpKey(table, key string) string { return table + "|" + key }

func (s *fakeStateStore) seedFingerprint(fp models.RowFingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[fpKey(fp.Table, fp.Key)] = fp
}

func (s *fakeStateStore) GetFingerprint(ctx context.Context, table, key string) (*models.RowFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[fpKey(table, key)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &fp, nil
}

func (s *fakeStateStore) ListFingerprints(ctx context.Context, table string) ([]models.RowFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fps []models.RowFingerprint
	for _, fp := range s.fingerprints {
		if fp.Table == table {
			fps = append(fps, fp)
		}
	}
	return fps, nil
}

func (s *fakeStateStore) UpsertFingerprints(ctx context.Context, tx repositories.Tx, fps []models.RowFingerprint) error {
	ft, ok := tx.(*fakeTx)
	if !ok {
		return fmt.Errorf("fake state store needs a fake tx")
	}
	ft.staged = append(ft.staged, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, fp := range fps {
			s.fingerprints[fpKey(fp.Table, fp.Key)] = fp
		}
	})
	return nil
}

func (s *fakeStateStore) DeleteFingerprints(ctx context.Context, tx repositories.Tx, table string, keys []string) error {
	ft, ok := tx.(*fakeTx)
	if !ok {
		return fmt.Errorf("fake state store needs a fake tx")
	}
	ft.staged = append(ft.staged, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, key := range keys {
			delete(s.fingerprints, fpKey(table, key))
		}
	})
	return nil
}

// fakeExporter serves canned partitions and rows.
type fakeExporter struct {
	mu         sync.Mutex
	partitions map[string][]warehouse.Partition
	rows       map[string][]models.Row
	all        map[string][]models.Row

	listErrs   []error
	exportErrs map[string]error
}

func newFakeExporter() *fakeExporter {
	return &fakeExporter{
		partitions: make(map[string][]warehouse.Partition),
		rows:       make(map[string][]models.Row),
		all:        make(map[string][]models.Row),
		exportErrs: make(map[string]error),
	}
}

func (e *fakeExporter) ListChangedPartitions(ctx context.Context, table string, since models.Watermark) ([]warehouse.Partition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.listErrs) > 0 {
		err := e.listErrs[0]
		e.listErrs = e.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var changed []warehouse.Partition
	for _, p := range e.partitions[table] {
		if p.Version > since.LastSyncedVersion || p.ModifiedAt.After(since.LastSyncedAt) {
			changed = append(changed, p)
		}
	}
	return changed, nil
}

func (e *fakeExporter) ExportPartition(ctx context.Context, table string, partitionID string) (warehouse.RowReader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := table + "|" + partitionID
	if err := e.exportErrs[key]; err != nil {
		return nil, err
	}
	return &sliceReader{rows: e.rows[key]}, nil
}

func (e *fakeExporter) ExportAll(ctx context.Context, table string) (warehouse.RowReader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &sliceReader{rows: e.all[table]}, nil
}

type sliceReader struct {
	rows []models.Row
	next int
}

func (r *sliceReader) Next(ctx context.Context) (models.Row, error) {
	if r.next >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.next]
	r.next++
	return row, nil
}

func (r *sliceReader) Close() error { return nil }

// fakeFeed replays queued events without blocking.
type fakeFeed struct {
	mu     sync.Mutex
	queue  []feed.Event
	acked  []string
	closed bool
}

func (f *fakeFeed) push(events ...feed.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, events...)
}

func (f *fakeFeed) Read(ctx context.Context, max int, block time.Duration) ([]feed.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, nil
	}
	n := min(max, len(f.queue))
	events := f.queue[:n]
	f.queue = f.queue[n:]
	return events, nil
}

func (f *fakeFeed) Ack(ctx context.Context, offsets []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, offsets...)
	return nil
}

func (f *fakeFeed) Close() error {
	f.closed = true
	return nil
}
