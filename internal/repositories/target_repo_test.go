package repositories

import (
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/prudhvinik1/tablesync/internal/syncerr"
)

func TestExecErrClassification(t *testing.T) {
	assert.Nil(t, execErr(nil))

	// Server-reported errors are structural; retrying cannot fix them.
	uniqueViolation := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	assert.False(t, syncerr.Retryable(execErr(uniqueViolation)))

	// A dropped connection mid-batch is transient and must feed the retry
	// policy as TargetUnavailable.
	dropped := execErr(io.ErrUnexpectedEOF)
	assert.True(t, syncerr.TargetUnavailable.Has(dropped))
	assert.True(t, syncerr.Retryable(dropped))
}
