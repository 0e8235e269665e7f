package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"metricgate/internal/domain"
)

// catalogFile is the on-disk shape of a YAML catalog definition. A file-based
// catalog carries full type information (semantic types, ratio components,
// known value sets), unlike the best-effort engine listing.
type catalogFile struct {
	Metrics    []domain.CatalogEntry `yaml:"metrics"`
	Dimensions []domain.CatalogEntry `yaml:"dimensions"`
}

// LoadFile reads a YAML catalog definition and builds a catalog snapshot.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	entries := make([]domain.CatalogEntry, 0, len(f.Metrics)+len(f.Dimensions))
	for _, m := range f.Metrics {
		m.Kind = domain.KindMetric
		entries = append(entries, m)
	}
	for _, d := range f.Dimensions {
		d.Kind = domain.KindDimension
		entries = append(entries, d)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog file %s defines no metrics or dimensions", path)
	}

	return New(entries)
}
