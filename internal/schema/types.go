// Package schema holds the Schema Registry: the per-source mapping from raw
// export headers to canonical, typed columns. It is produced by the type
// inferencer and read by the cleaners, the transformer and the query
// generator.
package schema

import (
	"fmt"
	"strings"
)

// SemanticType is the canonical meaning of a column, independent of the
// storage engine.
type SemanticType string

const (
	TypeInteger SemanticType = "integer"
	TypeFloat   SemanticType = "float"
	TypeDate    SemanticType = "date"
	TypeTime    SemanticType = "time"
	TypeBoolean SemanticType = "boolean"
	TypeUUID    SemanticType = "uuid"
	TypeString  SemanticType = "string"
	TypeText    SemanticType = "text"
)

// SemanticTypes lists every supported type in dispatch order.
var SemanticTypes = []SemanticType{
	TypeInteger, TypeFloat, TypeDate, TypeTime, TypeBoolean, TypeUUID, TypeString, TypeText,
}

// storageTypes maps semantic types to PostgreSQL column types.
var storageTypes = map[SemanticType]string{
	TypeInteger: "INTEGER",
	TypeFloat:   "NUMERIC(18,2)",
	TypeDate:    "DATE",
	TypeTime:    "TIME",
	TypeBoolean: "BOOLEAN",
	TypeUUID:    "UUID",
	TypeString:  "VARCHAR(255)",
	TypeText:    "TEXT",
}

// StorageType returns the engine column type for t. Unknown types store as
// VARCHAR(255).
func (t SemanticType) StorageType() string {
	if s, ok := storageTypes[t]; ok {
		return s
	}
	return storageTypes[TypeString]
}

// Valid reports whether t is one of the supported semantic types.
func (t SemanticType) Valid() bool {
	_, ok := storageTypes[t]
	return ok
}

// ParseSemanticType converts a persisted type name to a SemanticType.
func ParseSemanticType(s string) (SemanticType, error) {
	t := SemanticType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown semantic type %q", s)
	}
	return t, nil
}

// ColumnSpec describes one canonical column of one source.
//
// The serialized keys (original, map_to, py_type, sql_type) are the registry
// file contract and must not change.
type ColumnSpec struct {
	Original      string       `json:"original" yaml:"original"`
	CanonicalName string       `json:"map_to" yaml:"map_to"`
	SemanticType  SemanticType `json:"py_type" yaml:"py_type"`
	StorageType   string       `json:"sql_type" yaml:"sql_type"`
}

// NewColumnSpec builds a spec whose storage type follows its semantic type.
func NewColumnSpec(original, canonical string, t SemanticType) ColumnSpec {
	return ColumnSpec{
		Original:      original,
		CanonicalName: canonical,
		SemanticType:  t,
		StorageType:   t.StorageType(),
	}
}

// SourceSchema is the registry entry for one source.
type SourceSchema struct {
	TargetTable string                `json:"target_table" yaml:"target_table"`
	Files       []string              `json:"files" yaml:"files"`
	Columns     map[string]ColumnSpec `json:"columns" yaml:"columns"`
}
