package models

import (
	"fmt"
	"slices"
)

type SyncMode string

const (
	// SyncModeBatch replaces whole partitions on a schedule.
	SyncModeBatch SyncMode = "batch"
	// SyncModeStream diffs a continuous change feed row by row.
	SyncModeStream SyncMode = "stream"
)

type PartitionGranularity string

const (
	// PartitionByColumn partitions on a data column; partial partition
	// updates are expressible upstream.
	PartitionByColumn PartitionGranularity = "column"
	// PartitionByIngestionTime partitions on load time; only whole
	// partitions ever change.
	PartitionByIngestionTime PartitionGranularity = "ingestion_time"
)

// SyncedTable binds a warehouse source to a relational target. Built from
// the manifest at startup and immutable during a sync run.
type SyncedTable struct {
	ID                   string               `json:"id" yaml:"id"`
	Source               string               `json:"source" yaml:"source"`
	Target               string               `json:"target" yaml:"target"`
	Mode                 SyncMode             `json:"mode" yaml:"mode"`
	PartitionKey         string               `json:"partition_key,omitempty" yaml:"partition_key"`
	PartitionGranularity PartitionGranularity `json:"partition_granularity,omitempty" yaml:"partition_granularity"`
	PrimaryKey           []string             `json:"primary_key" yaml:"primary_key"`
	Columns              []string             `json:"columns" yaml:"columns"`
	HashExclude          []string             `json:"hash_exclude,omitempty" yaml:"hash_exclude"`
}

func (t *SyncedTable) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("table id is required")
	}
	if t.Source == "" || t.Target == "" {
		return fmt.Errorf("table %s: source and target are required", t.ID)
	}
	switch t.Mode {
	case SyncModeBatch, SyncModeStream:
	default:
		return fmt.Errorf("table %s: unknown sync mode %q", t.ID, t.Mode)
	}
	if len(t.PrimaryKey) == 0 {
		return fmt.Errorf("table %s: primary key is required", t.ID)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: exported columns are required", t.ID)
	}
	for _, pk := range t.PrimaryKey {
		if !slices.Contains(t.Columns, pk) {
			return fmt.Errorf("table %s: primary key column %q is not an exported column", t.ID, pk)
		}
	}
	if t.PartitionKey != "" && !slices.Contains(t.Columns, t.PartitionKey) {
		return fmt.Errorf("table %s: partition key %q is not an exported column", t.ID, t.PartitionKey)
	}
	switch t.PartitionGranularity {
	case "", PartitionByColumn, PartitionByIngestionTime:
	default:
		return fmt.Errorf("table %s: unknown partition granularity %q", t.ID, t.PartitionGranularity)
	}
	for _, ex := range t.HashExclude {
		if slices.Contains(t.PrimaryKey, ex) {
			return fmt.Errorf("table %s: cannot exclude primary key column %q from hashing", t.ID, ex)
		}
	}
	return nil
}

// DependencyEdge declares that child rows must be applied in the same
// transaction as, and after, their parent rows. Static configuration.
type DependencyEdge struct {
	Parent            string   `json:"parent" yaml:"parent"`
	Child             string   `json:"child" yaml:"child"`
	ForeignKeyColumns []string `json:"foreign_key_columns" yaml:"foreign_key_columns"`
}
