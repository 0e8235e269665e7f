// Package guardrails enforces the allow-list contract between untrusted
// model output and the semantic query engine: plan validation and
// normalization, safe filter compilation, and intent detection.
package guardrails

import (
	"fmt"
	"sort"
	"strings"

	"metricgate/internal/catalog"
	"metricgate/internal/domain"
)

// Limits bounds the row limit of a validated plan.
type Limits struct {
	Default int
	Min     int
	Max     int
}

// DefaultLimits matches the engine's guardrails: 200 rows by default,
// never more than 1000.
var DefaultLimits = Limits{Default: 200, Min: 1, Max: 1000}

// operators valid per dimension semantic type. Categorical dimensions have
// no defined ordering, so range operators are rejected.
var opsByType = map[domain.SemanticType]map[string]bool{
	domain.TypeCategorical: {
		domain.OpEq: true, domain.OpNeq: true, domain.OpIn: true,
	},
	domain.TypeTime: {
		domain.OpEq: true, domain.OpNeq: true, domain.OpIn: true,
		domain.OpLt: true, domain.OpLte: true, domain.OpGt: true, domain.OpGte: true,
	},
	domain.TypeNumeric: {
		domain.OpEq: true, domain.OpNeq: true, domain.OpIn: true,
		domain.OpLt: true, domain.OpLte: true, domain.OpGt: true, domain.OpGte: true,
	},
}

// ValidatePlan checks a raw model plan against the catalog and returns a
// normalized QueryPlan. All problems are collected into one ValidationError
// rather than failing on the first, so the caller can report every offending
// field at once.
func ValidatePlan(raw domain.RawPlan, cat *catalog.Catalog, limits Limits) (domain.QueryPlan, error) {
	var problems []string

	if len(raw.Metrics) == 0 {
		problems = append(problems, "at least one metric is required")
	}

	metrics := dedupe(raw.Metrics)
	for _, m := range metrics {
		if _, ok := cat.Metric(m); !ok {
			if _, isDim := cat.Dimension(m); isDim {
				problems = append(problems, fmt.Sprintf("%q is a dimension, not a metric", m))
			} else {
				problems = append(problems, fmt.Sprintf("metric not allowed: %s", m))
			}
		}
	}

	dimensions := dedupe(raw.Dimensions)
	for _, d := range dimensions {
		if _, ok := cat.Dimension(d); !ok {
			if _, isMetric := cat.Metric(d); isMetric {
				problems = append(problems, fmt.Sprintf("%q is a metric, not a dimension", d))
			} else {
				problems = append(problems, fmt.Sprintf("dimension not allowed: %s", d))
			}
		}
	}

	limit := limits.Default
	if raw.Limit != nil {
		limit = *raw.Limit
		if limit < limits.Min || limit > limits.Max {
			problems = append(problems, fmt.Sprintf("limit %d outside [%d,%d]", limit, limits.Min, limits.Max))
		}
	}

	var grain domain.Granularity
	if raw.TimeGranularity != "" {
		g, ok := ParseGranularity(raw.TimeGranularity)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown time granularity %q", raw.TimeGranularity))
		}
		grain = g
	}

	filters := make([]domain.FilterClause, 0, len(raw.Filters))
	for i, f := range raw.Filters {
		entry, ok := cat.Dimension(f.Dimension)
		if !ok {
			problems = append(problems, fmt.Sprintf("filter %d: dimension not allowed: %s", i, f.Dimension))
			continue
		}
		op := strings.ToUpper(strings.TrimSpace(f.Operator))
		if op == "IN" {
			f.Operator = domain.OpIn
		} else {
			f.Operator = strings.TrimSpace(f.Operator)
		}
		if !opsByType[entry.SemanticType][f.Operator] {
			problems = append(problems, fmt.Sprintf(
				"filter %d: operator %q not valid for %s dimension %s", i, f.Operator, entry.SemanticType, f.Dimension))
			continue
		}
		if f.Operator == domain.OpIn && !f.Value.IsList {
			problems = append(problems, fmt.Sprintf("filter %d: IN requires a list value", i))
			continue
		}
		if f.Operator != domain.OpIn && f.Value.IsList {
			problems = append(problems, fmt.Sprintf("filter %d: operator %q requires a scalar value", i, f.Operator))
			continue
		}
		filters = append(filters, normalizeFilter(f, entry))
	}

	if len(problems) > 0 {
		return domain.QueryPlan{}, &domain.ValidationError{Problems: problems}
	}

	// The engine requires filter dimensions to appear in the group-by list.
	dimensions = appendMissingFilterDims(dimensions, filters)

	return domain.QueryPlan{
		Metrics:         metrics,
		Dimensions:      dimensions,
		Filters:         filters,
		TimeGranularity: grain,
		StartTime:       raw.StartTime,
		EndTime:         raw.EndTime,
		Limit:           limit,
	}, nil
}

// normalizeFilter rewrites categorical values to the catalog's canonical
// casing when the dimension's value set is known. Unknown values pass
// through unchanged.
func normalizeFilter(f domain.FilterClause, entry domain.CatalogEntry) domain.FilterClause {
	if entry.SemanticType != domain.TypeCategorical || len(entry.KnownValues) == 0 {
		return f
	}
	if f.Value.IsList {
		normalized := make([]string, len(f.Value.List))
		for i, v := range f.Value.List {
			normalized[i] = canonicalValue(v, entry.KnownValues)
		}
		f.Value.List = normalized
		return f
	}
	f.Value.Scalar = canonicalValue(f.Value.Scalar, entry.KnownValues)
	return f
}

func canonicalValue(v string, known []string) string {
	for _, k := range known {
		if strings.EqualFold(v, k) {
			return k
		}
	}
	return v
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func appendMissingFilterDims(dimensions []string, filters []domain.FilterClause) []string {
	have := make(map[string]bool, len(dimensions))
	for _, d := range dimensions {
		have[d] = true
	}
	var missing []string
	for _, f := range filters {
		if !have[f.Dimension] {
			have[f.Dimension] = true
			missing = append(missing, f.Dimension)
		}
	}
	sort.Strings(missing)
	return append(dimensions, missing...)
}

// ParseGranularity maps a free-form granularity string to a known grain.
func ParseGranularity(s string) (domain.Granularity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day", "daily":
		return domain.GrainDay, true
	case "week", "weekly":
		return domain.GrainWeek, true
	case "month", "monthly":
		return domain.GrainMonth, true
	case "year", "yearly", "annual":
		return domain.GrainYear, true
	}
	return "", false
}
