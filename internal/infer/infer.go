// Package infer builds the Schema Registry by sampling raw export files.
//
// For every file of a source the headers are mapped to canonical names (see
// schema.Source.CanonicalName), a few rows are sampled and each column gets
// a semantic type. Files of the same source are then merged and a final set
// of name-based rules is applied before storage types are assigned.
package infer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/JonMunkholm/payrecon/internal/schema"
	"github.com/JonMunkholm/payrecon/internal/source"
)

// DefaultSampleSize is the number of rows read per file.
const DefaultSampleSize = 20

// Inferencer derives column specs from raw files.
type Inferencer struct {
	catalog    *schema.Catalog
	logger     *slog.Logger
	sampleSize int
}

// New returns an Inferencer. A sampleSize of zero or less reads
// DefaultSampleSize rows.
func New(catalog *schema.Catalog, logger *slog.Logger, sampleSize int) *Inferencer {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Inferencer{
		catalog:    catalog,
		logger:     logger.With("component", "infer"),
		sampleSize: sampleSize,
	}
}

// Infer samples every file of sourceID and returns the merged column specs
// keyed by canonical name.
func (in *Inferencer) Infer(ctx context.Context, sourceID string, files []string) (map[string]schema.ColumnSpec, error) {
	src, err := in.catalog.MustLookup(sourceID)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]schema.ColumnSpec)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tbl, err := source.Read(path, source.Options{Encoding: src.Encoding, Limit: in.sampleSize})
		if err != nil {
			return nil, fmt.Errorf("infer %s: %w", sourceID, err)
		}

		for name, spec := range in.InferTable(src, tbl) {
			prev, seen := merged[name]
			if seen && prev.SemanticType != spec.SemanticType {
				in.logger.Warn("conflicting column types across files, keeping last",
					"source", sourceID,
					"column", name,
					"previous", prev.SemanticType,
					"current", spec.SemanticType,
					"file", filepath.Base(path),
				)
			}
			merged[name] = spec
		}
	}

	finalize(src, merged)
	return merged, nil
}

// InferTable maps and types the columns of one file. Headers found in the
// source's explicit dictionary are claimed first, so a dictionary mapping
// always beats a pattern or snake_case mapping to the same canonical name.
// Any later header mapping to an already claimed name is dropped.
func (in *Inferencer) InferTable(src *schema.Source, tbl *source.Table) map[string]schema.ColumnSpec {
	out := make(map[string]schema.ColumnSpec, len(tbl.Headers))
	claimedBy := make(map[string]string, len(tbl.Headers))

	add := func(idx int) {
		header := tbl.Headers[idx]
		name := src.CanonicalName(header)
		if name == "" {
			return
		}
		if kept, ok := claimedBy[name]; ok {
			in.logger.Warn("duplicate canonical column, dropping",
				"source", src.ID,
				"file", filepath.Base(tbl.Path),
				"column", name,
				"kept", kept,
				"dropped", header,
			)
			return
		}
		claimedBy[name] = header

		values := make([]string, len(tbl.Rows))
		for i, row := range tbl.Rows {
			values[i] = row[idx]
		}
		out[name] = schema.ColumnSpec{
			Original:      header,
			CanonicalName: name,
			SemanticType:  GuessType(name, header, values),
		}
	}

	for i, h := range tbl.Headers {
		if _, ok := src.Headers[h]; ok {
			add(i)
		}
	}
	for i, h := range tbl.Headers {
		if _, ok := src.Headers[h]; !ok {
			add(i)
		}
	}
	return out
}

// finalize applies the post-merge name rules and assigns storage types.
func finalize(src *schema.Source, cols map[string]schema.ColumnSpec) {
	for name, spec := range cols {
		if t, ok := enforce(name); ok {
			spec.SemanticType = t
		} else if src.IsText(name) {
			spec.SemanticType = schema.TypeText
		}
		spec.StorageType = spec.SemanticType.StorageType()
		cols[name] = spec
	}
}
