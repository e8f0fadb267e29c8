package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prudhvinik1/tablesync/internal/models"
)

// StatementBuilder turns row-level decisions into batched SQL. Batches are
// capped at maxBatchRows rows per statement to bound transaction size and
// lock duration, and rows within a batch are ordered by primary key so a
// retried partial apply is naturally idempotent.
type StatementBuilder struct {
	maxBatchRows int
}

func NewStatementBuilder(maxBatchRows int) *StatementBuilder {
	return &StatementBuilder{maxBatchRows: maxBatchRows}
}

// PartitionReplace emits the idempotent replace form: delete the partition,
// then bulk insert its new row set. Both statements belong in the same
// transaction; a failed load must never leave a half-deleted partition.
func (b *StatementBuilder) PartitionReplace(table *models.SyncedTable, partitionValue any, rows []models.Row) []models.Statement {
	stmts := []models.Statement{{
		SQL:  fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table.Target, table.PartitionKey),
		Args: []any{partitionValue},
	}}

	sorted := sortByKey(table, rows)
	for _, chunk := range chunkRows(sorted, b.maxBatchRows) {
		stmts = append(stmts, b.insert(table, chunk))
	}
	return stmts
}

// Diff emits grouped upserts for Insert/Update decisions and grouped deletes
// for Delete decisions. NoOp decisions must be filtered out by the caller.
func (b *StatementBuilder) Diff(table *models.SyncedTable, decisions []models.ChangeDecision) []models.Statement {
	var upserts []models.Row
	var deletes []models.Row
	for _, d := range decisions {
		switch d.Kind {
		case models.DecisionInsert, models.DecisionUpdate:
			upserts = append(upserts, d.Row)
		case models.DecisionDelete:
			deletes = append(deletes, d.KeyValues)
		}
	}

	var stmts []models.Statement
	for _, chunk := range chunkRows(sortByKey(table, upserts), b.maxBatchRows) {
		stmts = append(stmts, b.upsert(table, chunk))
	}
	for _, chunk := range chunkRows(sortByKey(table, deletes), b.maxBatchRows) {
		stmts = append(stmts, b.delete(table, chunk))
	}
	return stmts
}

func (b *StatementBuilder) insert(table *models.SyncedTable, rows []models.Row) models.Statement {
	values, args := valuesTuples(table.Columns, rows, 0)
	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s`,
		table.Target, strings.Join(table.Columns, ", "), values)
	return models.Statement{SQL: sql, Args: args}
}

func (b *StatementBuilder) upsert(table *models.SyncedTable, rows []models.Row) models.Statement {
	values, args := valuesTuples(table.Columns, rows, 0)

	var updates []string
	for _, col := range table.Columns {
		if !contains(table.PrimaryKey, col) {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	conflict := fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(table.PrimaryKey, ", "))
	if len(updates) > 0 {
		conflict = fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(table.PrimaryKey, ", "), strings.Join(updates, ", "))
	}

	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s %s`,
		table.Target, strings.Join(table.Columns, ", "), values, conflict)
	return models.Statement{SQL: sql, Args: args}
}

func (b *StatementBuilder) delete(table *models.SyncedTable, keys []models.Row) models.Statement {
	tuples, args := valuesTuples(table.PrimaryKey, keys, 0)
	sql := fmt.Sprintf(`DELETE FROM %s WHERE (%s) IN (%s)`,
		table.Target, strings.Join(table.PrimaryKey, ", "), tuples)
	return models.Statement{SQL: sql, Args: args}
}

func valuesTuples(columns []string, rows []models.Row, offset int) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(rows)*len(columns))
	n := offset
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			n++
			fmt.Fprintf(&sb, "$%d", n)
			args = append(args, row[col])
		}
		sb.WriteString(")")
	}
	return sb.String(), args
}

func sortByKey(table *models.SyncedTable, rows []models.Row) []models.Row {
	out := make([]models.Row, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool {
		return CanonicalKey(out[i], table.PrimaryKey) < CanonicalKey(out[j], table.PrimaryKey)
	})
	return out
}

func chunkRows(rows []models.Row, size int) [][]models.Row {
	if len(rows) == 0 {
		return nil
	}
	var chunks [][]models.Row
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
