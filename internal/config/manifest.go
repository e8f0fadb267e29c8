package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/prudhvinik1/tablesync/internal/models"
)

// Manifest is the static description of everything the engine syncs: the
// table bindings plus the foreign key edges between them. Loaded once at
// startup; read-only afterwards.
type Manifest struct {
	Tables       []models.SyncedTable    `yaml:"tables"`
	Dependencies []models.DependencyEdge `yaml:"dependencies"`
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) Validate() error {
	if len(m.Tables) == 0 {
		return fmt.Errorf("manifest declares no tables")
	}
	seen := make(map[string]models.SyncMode, len(m.Tables))
	for i := range m.Tables {
		t := &m.Tables[i]
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate table id %q", t.ID)
		}
		seen[t.ID] = t.Mode
		// Ingestion-time partitions only ever change wholesale; row-level
		// diffing against them cannot be expressed upstream.
		if t.PartitionGranularity == models.PartitionByIngestionTime && t.Mode != models.SyncModeBatch {
			return fmt.Errorf("table %s: ingestion-time partitioned sources support batch mode only", t.ID)
		}
		if t.Mode == models.SyncModeBatch && t.PartitionKey == "" {
			return fmt.Errorf("table %s: batch mode requires a partition key", t.ID)
		}
	}
	for _, e := range m.Dependencies {
		if _, ok := seen[e.Parent]; !ok {
			return fmt.Errorf("dependency references unknown parent table %q", e.Parent)
		}
		if _, ok := seen[e.Child]; !ok {
			return fmt.Errorf("dependency references unknown child table %q", e.Child)
		}
		if e.Parent == e.Child {
			return fmt.Errorf("table %q cannot depend on itself", e.Parent)
		}
		if len(e.ForeignKeyColumns) == 0 {
			return fmt.Errorf("dependency %s -> %s declares no foreign key columns", e.Parent, e.Child)
		}
	}
	return nil
}

// Table returns the manifest entry for id, or nil.
func (m *Manifest) Table(id string) *models.SyncedTable {
	for i := range m.Tables {
		if m.Tables[i].ID == id {
			return &m.Tables[i]
		}
	}
	return nil
}
