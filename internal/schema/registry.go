package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoRegistry means there is no persisted registry to clean against.
	ErrNoRegistry = errors.New("schema registry not found")

	// ErrUnknownSource means a source id is not present in the registry or catalog.
	ErrUnknownSource = errors.New("unknown source")

	// ErrDuplicateTable means two sources write to the same target table.
	ErrDuplicateTable = errors.New("duplicate target table")
)

// Registry maps source id to its schema. One instance is built per
// inference run and replaces the previously persisted one.
type Registry map[string]SourceSchema

// Source returns the schema for id.
func (r Registry) Source(id string) (SourceSchema, error) {
	s, ok := r[id]
	if !ok {
		return SourceSchema{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return s, nil
}

// SourceIDs returns registry sources, catalog sources first in catalog
// order, then any others alphabetically.
func (r Registry) SourceIDs() []string {
	ids := make([]string, 0, len(r))
	seen := make(map[string]bool, len(r))
	for _, id := range SourceOrder {
		if _, ok := r[id]; ok {
			ids = append(ids, id)
			seen[id] = true
		}
	}

	var rest []string
	for id := range r {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)

	return append(ids, rest...)
}

// Table returns the target table for a source, falling back to the id.
func (r Registry) Table(id string) string {
	if s, ok := r[id]; ok && s.TargetTable != "" {
		return s.TargetTable
	}
	return id
}

// Validate checks structural invariants: unique target tables, known
// semantic types, and column keys that agree with their canonical names.
func (r Registry) Validate() error {
	var errs []string
	tables := make(map[string]string, len(r))

	for _, id := range r.SourceIDs() {
		s := r[id]
		table := s.TargetTable
		if table == "" {
			table = id
		}
		if other, dup := tables[table]; dup {
			return fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateTable, table, other, id)
		}
		tables[table] = id

		for key, col := range s.Columns {
			if col.CanonicalName != key {
				errs = append(errs, fmt.Sprintf("%s.%s: map_to is %q", id, key, col.CanonicalName))
			}
			if !col.SemanticType.Valid() {
				errs = append(errs, fmt.Sprintf("%s.%s: unknown py_type %q", id, key, col.SemanticType))
			}
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("invalid registry:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ColumnNames returns the canonical column names of s in stable order.
func (s SourceSchema) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OrderedColumns returns the column specs of s in ColumnNames order.
func (s SourceSchema) OrderedColumns() []ColumnSpec {
	names := s.ColumnNames()
	cols := make([]ColumnSpec, len(names))
	for i, name := range names {
		cols[i] = s.Columns[name]
	}
	return cols
}

// Has reports whether the source schema defines a canonical column.
func (s SourceSchema) Has(name string) bool {
	_, ok := s.Columns[name]
	return ok
}

// Load reads a registry from path. YAML is used for .yaml/.yml files, JSON
// otherwise. A missing file yields ErrNoRegistry.
func Load(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoRegistry, path)
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var reg Registry
	if isYAML(path) {
		err = yaml.Unmarshal(data, &reg)
	} else {
		err = json.Unmarshal(data, &reg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if len(reg) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoRegistry, path)
	}

	for id, s := range reg {
		for key, col := range s.Columns {
			if col.StorageType == "" {
				col.StorageType = col.SemanticType.StorageType()
				s.Columns[key] = col
			}
		}
		reg[id] = s
	}

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Save writes the registry to path, replacing any previous file atomically.
func Save(path string, reg Registry) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(reg)
	} else {
		data, err = json.MarshalIndent(reg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
