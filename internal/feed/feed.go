// Package feed defines the change feed collaborator consumed by the stream
// sync controller: an at-least-once, per-key-ordered sequence of row events.
package feed

import (
	"context"
	"time"

	"github.com/prudhvinik1/tablesync/internal/models"
)

// Event is one change feed entry. Row is nil for tombstones. Offset is the
// feed's own checkpoint token, opaque to the engine; it is acknowledged only
// after the batch containing the event has committed.
type Event struct {
	Table  string
	Key    models.Row
	Row    models.Row
	Offset string
}

// Feed produces change events for one table. Read blocks up to block waiting
// for events and returns at most max of them; a nil slice means the wait
// timed out with nothing pending.
type Feed interface {
	Read(ctx context.Context, max int, block time.Duration) ([]Event, error)
	Ack(ctx context.Context, offsets []string) error
	Close() error
}
