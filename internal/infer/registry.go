package infer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/payrecon/internal/schema"
	"github.com/JonMunkholm/payrecon/internal/source"
)

// SourceList is the input of a registry build: the raw files of each
// source. It is read from a YAML or JSON document shaped as
//
//	sources:
//	  portal:
//	    files: [exports/portal/*.csv]
type SourceList struct {
	Sources map[string]SourceFiles `yaml:"sources" json:"sources"`
}

// SourceFiles lists file paths, glob patterns or directories.
type SourceFiles struct {
	Files []string `yaml:"files" json:"files"`
}

// LoadSourceList reads a source list file. Relative entries are resolved
// against the file's directory.
func LoadSourceList(path string) (*SourceList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source list: %w", err)
	}

	var list SourceList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse source list %s: %w", path, err)
	}
	if len(list.Sources) == 0 {
		return nil, fmt.Errorf("source list %s: no sources", path)
	}

	base := filepath.Dir(path)
	for id, sf := range list.Sources {
		for i, f := range sf.Files {
			if !filepath.IsAbs(f) {
				sf.Files[i] = filepath.Join(base, f)
			}
		}
		list.Sources[id] = sf
	}
	return &list, nil
}

// ResolveFiles expands globs and directories into a sorted list of
// absolute paths of supported files. A pattern matching nothing is an
// error.
func ResolveFiles(entries []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
		return nil
	}

	for _, entry := range entries {
		matches, err := filepath.Glob(entry)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", entry, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", entry)
		}

		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				if err := add(m); err != nil {
					return nil, err
				}
				continue
			}

			dirEntries, err := os.ReadDir(m)
			if err != nil {
				return nil, err
			}
			for _, de := range dirEntries {
				if de.IsDir() || strings.HasPrefix(de.Name(), ".") || !source.IsSupported(de.Name()) {
					continue
				}
				if err := add(filepath.Join(m, de.Name())); err != nil {
					return nil, err
				}
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

// BuildRegistry infers every source in list and returns a validated
// registry.
func (in *Inferencer) BuildRegistry(ctx context.Context, list *SourceList) (schema.Registry, error) {
	ids := make([]string, 0, len(list.Sources))
	for id := range list.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reg := make(schema.Registry, len(ids))
	for _, id := range ids {
		src, err := in.catalog.MustLookup(id)
		if err != nil {
			return nil, err
		}

		files, err := ResolveFiles(list.Sources[id].Files)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", id, err)
		}

		cols, err := in.Infer(ctx, id, files)
		if err != nil {
			return nil, err
		}

		reg[id] = schema.SourceSchema{
			TargetTable: src.Table(),
			Files:       files,
			Columns:     cols,
		}
		in.logger.Info("inferred source schema", "source", id, "files", len(files), "columns", len(cols))
	}

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
