// Package catalog holds the allow-listed set of queryable metrics and
// dimensions. The snapshot is built once at startup and read-only afterward,
// so concurrent requests read it without synchronization.
package catalog

import (
	"sort"

	"metricgate/internal/domain"
)

// Catalog is an immutable snapshot of valid metric and dimension names and
// their semantic types.
type Catalog struct {
	metrics    map[string]domain.CatalogEntry
	dimensions map[string]domain.CatalogEntry
}

// New builds a catalog from entries. Entries with an empty name or unknown
// kind are rejected; duplicate names within a kind keep the first entry.
func New(entries []domain.CatalogEntry) (*Catalog, error) {
	c := &Catalog{
		metrics:    make(map[string]domain.CatalogEntry),
		dimensions: make(map[string]domain.CatalogEntry),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, domain.ErrValidation("catalog entry with empty name")
		}
		switch e.Kind {
		case domain.KindMetric:
			if e.MetricType == "" {
				e.MetricType = domain.MetricSimple
			}
			if _, ok := c.metrics[e.Name]; !ok {
				c.metrics[e.Name] = e
			}
		case domain.KindDimension:
			if e.SemanticType == "" {
				e.SemanticType = domain.TypeCategorical
			}
			if _, ok := c.dimensions[e.Name]; !ok {
				c.dimensions[e.Name] = e
			}
		default:
			return nil, domain.ErrValidation("catalog entry %q has unknown kind %q", e.Name, e.Kind)
		}
	}
	return c, nil
}

// Metric returns the metric entry for name.
func (c *Catalog) Metric(name string) (domain.CatalogEntry, bool) {
	e, ok := c.metrics[name]
	return e, ok
}

// Dimension returns the dimension entry for name.
func (c *Catalog) Dimension(name string) (domain.CatalogEntry, bool) {
	e, ok := c.dimensions[name]
	return e, ok
}

// MetricNames returns all metric names in sorted order.
func (c *Catalog) MetricNames() []string {
	return sortedKeys(c.metrics)
}

// DimensionNames returns all dimension names in sorted order.
func (c *Catalog) DimensionNames() []string {
	return sortedKeys(c.dimensions)
}

// Entries returns every catalog entry, metrics first, each group sorted.
func (c *Catalog) Entries() []domain.CatalogEntry {
	out := make([]domain.CatalogEntry, 0, len(c.metrics)+len(c.dimensions))
	for _, name := range c.MetricNames() {
		out = append(out, c.metrics[name])
	}
	for _, name := range c.DimensionNames() {
		out = append(out, c.dimensions[name])
	}
	return out
}

// Size returns the total number of catalog entries.
func (c *Catalog) Size() int {
	return len(c.metrics) + len(c.dimensions)
}

func sortedKeys(m map[string]domain.CatalogEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
