package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prudhvinik1/tablesync/internal/models"
)

const (
	streamKeyPrefix = "sync:feed:"
	consumerGroup   = "tablesync"
)

// RedisFeed consumes one table's change feed from a Redis Stream through a
// consumer group, so redelivery after a crash comes from the pending entries
// list rather than from an offset the engine would have to persist itself.
//
// Entry fields: "key" holds the JSON-encoded primary key columns, "row" the
// JSON-encoded full row. A missing or empty "row" field is a tombstone.
type RedisFeed struct {
	client   *redis.Client
	table    string
	stream   string
	consumer string

	// cursor starts at "0" so entries delivered but unacked before a
	// restart are replayed before new entries are consumed.
	cursor string
}

func NewRedisFeed(ctx context.Context, client *redis.Client, table, consumer string) (*RedisFeed, error) {
	f := &RedisFeed{
		client:   client,
		table:    table,
		stream:   streamKeyPrefix + table,
		consumer: consumer,
		cursor:   "0",
	}
	err := client.XGroupCreateMkStream(ctx, f.stream, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group for %s: %w", table, err)
	}
	return f, nil
}

func (f *RedisFeed) Read(ctx context.Context, max int, block time.Duration) ([]Event, error) {
	// Explicit-ID reads (replay of pending entries) never block; the
	// block duration only applies once the cursor reaches ">".
	res, err := f.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: f.consumer,
		Streams:  []string{f.stream, f.cursor},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		f.cursor = ">"
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feed %s: %w", f.table, err)
	}

	var events []Event
	for _, stream := range res {
		for _, msg := range stream.Messages {
			ev, err := f.decode(msg)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}
	if f.cursor != ">" {
		if len(events) == 0 {
			f.cursor = ">"
		} else {
			f.cursor = events[len(events)-1].Offset
		}
	}
	return events, nil
}

func (f *RedisFeed) decode(msg redis.XMessage) (Event, error) {
	ev := Event{Table: f.table, Offset: msg.ID}

	rawKey, ok := msg.Values["key"].(string)
	if !ok || rawKey == "" {
		return Event{}, fmt.Errorf("feed %s entry %s has no key", f.table, msg.ID)
	}
	if err := json.Unmarshal([]byte(rawKey), &ev.Key); err != nil {
		return Event{}, fmt.Errorf("feed %s entry %s has malformed key: %w", f.table, msg.ID, err)
	}

	if rawRow, ok := msg.Values["row"].(string); ok && rawRow != "" {
		var row models.Row
		if err := json.Unmarshal([]byte(rawRow), &row); err != nil {
			return Event{}, fmt.Errorf("feed %s entry %s has malformed row: %w", f.table, msg.ID, err)
		}
		ev.Row = row
	}
	return ev, nil
}

func (f *RedisFeed) Ack(ctx context.Context, offsets []string) error {
	if len(offsets) == 0 {
		return nil
	}
	if err := f.client.XAck(ctx, f.stream, consumerGroup, offsets...).Err(); err != nil {
		return fmt.Errorf("failed to ack feed %s: %w", f.table, err)
	}
	return nil
}

func (f *RedisFeed) Close() error {
	return nil
}

// Publish appends one event to a table's stream. Used by feed producers and
// tests; the engine itself only consumes.
func Publish(ctx context.Context, client *redis.Client, table string, key, row models.Row) error {
	values := map[string]any{}
	rawKey, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to encode feed key: %w", err)
	}
	values["key"] = string(rawKey)
	if row != nil {
		rawRow, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode feed row: %w", err)
		}
		values["row"] = string(rawRow)
	}
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKeyPrefix + table,
		Values: values,
	}).Err()
}
