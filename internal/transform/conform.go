package transform

import "github.com/JonMunkholm/payrecon/internal/schema"

// Conform reorders res to the canonical column list of spec, inserting a
// typed all-null column for every canonical name res lacks. Metadata
// columns follow in their existing order. Conform is idempotent.
func Conform(res *Result, spec schema.SourceSchema) {
	byName := make(map[string]Column, len(res.Columns))
	for _, c := range res.Columns {
		byName[c.Name] = c
	}

	cols := make([]Column, 0, len(spec.Columns)+3)
	for _, cs := range spec.OrderedColumns() {
		if c, ok := byName[cs.CanonicalName]; ok {
			cols = append(cols, c)
			delete(byName, cs.CanonicalName)
			continue
		}
		cols = append(cols, Column{
			Name:    cs.CanonicalName,
			Type:    cs.SemanticType,
			Storage: storageOf(cs),
			Values:  make([]any, res.Rows),
			Filled:  true,
		})
	}

	for _, c := range res.Columns {
		if _, ok := byName[c.Name]; ok {
			cols = append(cols, c)
		}
	}
	res.Columns = cols
}
