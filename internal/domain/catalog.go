package domain

// EntryKind tells metrics apart from dimensions in the catalog.
type EntryKind string

const (
	KindMetric    EntryKind = "metric"
	KindDimension EntryKind = "dimension"
)

// SemanticType describes how a dimension's values behave. Metrics are always
// numeric and carry no semantic type.
type SemanticType string

const (
	TypeCategorical SemanticType = "categorical"
	TypeTime        SemanticType = "time"
	TypeNumeric     SemanticType = "numeric"
)

// MetricType distinguishes plain additive metrics from derived ratios, which
// must be re-derived from their components when rows are re-aggregated.
type MetricType string

const (
	MetricSimple MetricType = "simple"
	MetricRatio  MetricType = "ratio"
)

// CatalogEntry is one allow-listed metric or dimension, loaded once at
// startup and read-only afterward.
type CatalogEntry struct {
	Name         string       `yaml:"name" json:"name"`
	Kind         EntryKind    `yaml:"kind" json:"kind"`
	SemanticType SemanticType `yaml:"semantic_type,omitempty" json:"semantic_type,omitempty"`
	MetricType   MetricType   `yaml:"metric_type,omitempty" json:"metric_type,omitempty"`
	// Numerator and Denominator name the result columns a ratio metric is
	// derived from. Empty for simple metrics.
	Numerator   string `yaml:"numerator,omitempty" json:"numerator,omitempty"`
	Denominator string `yaml:"denominator,omitempty" json:"denominator,omitempty"`
	// KnownValues holds the canonical casing of a categorical dimension's
	// value set, when known. Used to normalize filter values.
	KnownValues []string `yaml:"known_values,omitempty" json:"known_values,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}
