package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source ids.
const (
	SourcePortal     = "portal"
	SourceMetabase   = "metabase"
	SourceCheckoutV1 = "checkout_v1"
	SourceCheckoutV2 = "checkout_v2"
	SourcePayfort    = "payfort"
	SourceTamara     = "tamara"
	SourceBank       = "bank"
)

// SourceOrder is the canonical processing order of the built-in sources.
var SourceOrder = []string{
	SourcePortal, SourceMetabase, SourceCheckoutV1, SourceCheckoutV2,
	SourcePayfort, SourceTamara, SourceBank,
}

// GatewaySources are the settlement gateways unioned by the analysis view.
var GatewaySources = []string{SourceCheckoutV1, SourceCheckoutV2, SourcePayfort, SourceTamara}

// Encodings understood by the source readers for non-UTF-8 input.
const (
	EncodingLatin1  = "latin1"
	EncodingArabic  = "windows-1256"
	defaultEncoding = EncodingLatin1
)

// Source is the static knowledge the pipeline has about one export feed.
type Source struct {
	ID          string
	TargetTable string

	// Headers maps a raw header, exactly as exported, to its canonical name.
	Headers map[string]string

	// TextColumns are canonical names stored as TEXT and run through the
	// text cleaner.
	TextColumns []string

	// DateLayouts are tried, in order, before the generic layouts.
	DateLayouts []string

	DecimalComma   bool // "1.234,56"
	ThousandsComma bool // "1,234.56"

	// Encoding is the fallback charset for input that is not valid UTF-8.
	Encoding string

	// DuplicateKeys identify rows that likely describe the same event.
	DuplicateKeys []string

	// ViewColumns are the canonical columns the reconciliation view reads.
	ViewColumns []string
}

// Table returns the target table, defaulting to the source id.
func (s *Source) Table() string {
	if s.TargetTable != "" {
		return s.TargetTable
	}
	return s.ID
}

// IsText reports whether canonical name col is a text column of s.
func (s *Source) IsText(col string) bool {
	return contains(s.TextColumns, col)
}

// IsViewColumn reports whether the reconciliation view reads col from s.
func (s *Source) IsViewColumn(col string) bool {
	return contains(s.ViewColumns, col)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Catalog holds the known sources. It is safe for concurrent reads once
// built; overrides take the write lock.
type Catalog struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{sources: make(map[string]*Source)}
}

// Register adds a source. A second source with the same id is an error.
func (c *Catalog) Register(src *Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sources[src.ID]; exists {
		return fmt.Errorf("source already registered: %s", src.ID)
	}
	if src.Encoding == "" {
		src.Encoding = defaultEncoding
	}
	if src.Headers == nil {
		src.Headers = make(map[string]string)
	}
	c.sources[src.ID] = src
	return nil
}

// Lookup returns a source by id.
func (c *Catalog) Lookup(id string) (*Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	src, ok := c.sources[id]
	return src, ok
}

// MustLookup returns a source by id or ErrUnknownSource.
func (c *Catalog) MustLookup(id string) (*Source, error) {
	src, ok := c.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return src, nil
}

// IDs returns built-in sources in SourceOrder, then any extra sources
// alphabetically.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.sources))
	for _, id := range SourceOrder {
		if _, ok := c.sources[id]; ok {
			ids = append(ids, id)
		}
	}

	var extra []string
	for id := range c.sources {
		if !contains(SourceOrder, id) {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)

	return append(ids, extra...)
}

// Override adjusts a catalog source from a configuration file.
type Override struct {
	TargetTable string            `yaml:"target_table"`
	Headers     map[string]string `yaml:"headers"`
	TextColumns []string          `yaml:"text_columns"`
	DateLayouts []string          `yaml:"date_layouts"`
	Encoding    string            `yaml:"encoding"`
}

// ApplyOverrides merges a YAML file of source id → Override into the
// catalog. A missing file is not an error.
func (c *Catalog) ApplyOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read catalog overrides: %w", err)
	}

	var overrides map[string]Override
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse catalog overrides %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, o := range overrides {
		src, ok := c.sources[id]
		if !ok {
			return fmt.Errorf("%w: %s (catalog override)", ErrUnknownSource, id)
		}
		if o.TargetTable != "" {
			src.TargetTable = o.TargetTable
		}
		for header, canonical := range o.Headers {
			src.Headers[header] = canonical
		}
		for _, col := range o.TextColumns {
			if !contains(src.TextColumns, col) {
				src.TextColumns = append(src.TextColumns, col)
			}
		}
		if len(o.DateLayouts) > 0 {
			src.DateLayouts = append(append([]string{}, o.DateLayouts...), src.DateLayouts...)
		}
		if o.Encoding != "" {
			src.Encoding = o.Encoding
		}
	}
	return nil
}

// DefaultCatalog returns a fresh catalog holding the seven built-in sources.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, src := range builtinSources() {
		if err := c.Register(src); err != nil {
			panic(err)
		}
	}
	return c
}
