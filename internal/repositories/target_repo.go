package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prudhvinik1/tablesync/internal/models"
	"github.com/prudhvinik1/tablesync/internal/syncerr"
)

// PostgresTarget applies sync transactions to the target database. Statement
// batches go over the wire as one pgx batch to keep round trips off the
// transaction's lock window.
type PostgresTarget struct {
	pool *pgxpool.Pool
}

func NewPostgresTarget(pool *pgxpool.Pool) *PostgresTarget {
	return &PostgresTarget{pool: pool}
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Apply(ctx context.Context, stmts []models.Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, stmt := range stmts {
		batch.Queue(stmt.SQL, stmt.Args...)
	}
	results := t.tx.SendBatch(ctx, batch)
	for range stmts {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return execErr(err)
		}
	}
	if err := results.Close(); err != nil {
		return execErr(err)
	}
	return nil
}

// execErr classifies a statement-execution failure. A server-reported error
// (syntax, constraint, type mismatch) is structural and must not be retried;
// anything else is connection-level and transient.
func execErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("failed to apply statement: %w", err)
	}
	return syncerr.TargetUnavailable.Wrap(fmt.Errorf("failed to apply statement: %w", err))
}

func (t *PostgresTarget) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return syncerr.TargetUnavailable.Wrap(fmt.Errorf("failed to open transaction: %w", err))
	}

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		// Once COMMIT has been sent the outcome is unknowable from here;
		// the recovery coordinator re-reads committed state to decide.
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return syncerr.DeliveryAmbiguous.Wrap(fmt.Errorf("commit outcome unknown: %w", err))
		}
		return syncerr.TargetUnavailable.Wrap(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}
