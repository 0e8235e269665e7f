package guardrails

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"metricgate/internal/catalog"
	"metricgate/internal/domain"
)

// Predicate is a compiled filter expression. Every value inside it has
// passed through type-specific quoting, so downstream stages never escape
// anything themselves.
type Predicate struct {
	Clauses []string
}

// String joins the clauses into the conjunction handed to the engine.
func (p Predicate) String() string {
	return strings.Join(p.Clauses, " AND ")
}

// Empty reports whether the predicate carries no clauses.
func (p Predicate) Empty() bool {
	return len(p.Clauses) == 0
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// CompileFilters turns validated filter clauses into a safe predicate.
// IN compiles to an explicit value list; unsupported operator/type or
// value combinations fail with a ValidationError, never silently drop.
func CompileFilters(filters []domain.FilterClause, cat *catalog.Catalog) (Predicate, error) {
	var p Predicate
	for i, f := range filters {
		entry, ok := cat.Dimension(f.Dimension)
		if !ok {
			return Predicate{}, domain.ErrValidation("filter %d: dimension not allowed: %s", i, f.Dimension)
		}
		if !opsByType[entry.SemanticType][f.Operator] {
			return Predicate{}, domain.ErrValidation(
				"filter %d: operator %q not valid for %s dimension %s", i, f.Operator, entry.SemanticType, f.Dimension)
		}

		if f.Operator == domain.OpIn {
			if !f.Value.IsList || len(f.Value.List) == 0 {
				return Predicate{}, domain.ErrValidation("filter %d: IN requires a non-empty list", i)
			}
			quoted := make([]string, len(f.Value.List))
			for j, v := range f.Value.List {
				q, err := quoteValue(v, entry.SemanticType)
				if err != nil {
					return Predicate{}, domain.ErrValidation("filter %d value %d: %v", i, j, err)
				}
				quoted[j] = q
			}
			p.Clauses = append(p.Clauses, fmt.Sprintf("%s IN (%s)", f.Dimension, strings.Join(quoted, ", ")))
			continue
		}

		if f.Value.IsList {
			return Predicate{}, domain.ErrValidation("filter %d: operator %q requires a scalar value", i, f.Operator)
		}
		q, err := quoteValue(f.Value.Scalar, entry.SemanticType)
		if err != nil {
			return Predicate{}, domain.ErrValidation("filter %d: %v", i, err)
		}
		p.Clauses = append(p.Clauses, fmt.Sprintf("%s %s %s", f.Dimension, f.Operator, q))
	}
	return p, nil
}

// quoteValue produces a typed, escaped literal. String values get
// single-quoted with embedded quotes doubled; time values must be ISO dates;
// numeric values are re-rendered through strconv so nothing user-controlled
// reaches the output verbatim.
func quoteValue(v string, t domain.SemanticType) (string, error) {
	switch t {
	case domain.TypeNumeric:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return "", fmt.Errorf("numeric value %q is not a number", v)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case domain.TypeTime:
		v = strings.TrimSpace(v)
		if !dateRe.MatchString(v) {
			return "", fmt.Errorf("time value %q is not an ISO date (YYYY-MM-DD)", v)
		}
		return "'" + v + "'", nil
	default:
		return QuoteString(v)
	}
}

// QuoteString single-quotes a categorical value, doubling embedded quotes.
// Control characters and statement separators are rejected outright rather
// than escaped.
func QuoteString(v string) (string, error) {
	if strings.ContainsAny(v, ";\n\r\t\x00") {
		return "", fmt.Errorf("unsafe filter value %q", v)
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
}

// UnquoteString reverses QuoteString. It exists so audits and tests can
// round-trip compiled literals back to the original typed value.
func UnquoteString(q string) (string, error) {
	if len(q) < 2 || q[0] != '\'' || q[len(q)-1] != '\'' {
		return "", fmt.Errorf("not a quoted literal: %s", q)
	}
	inner := q[1 : len(q)-1]
	// Any remaining lone quote means the literal was not produced by
	// QuoteString.
	var out strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\'' {
			if i+1 >= len(inner) || inner[i+1] != '\'' {
				return "", fmt.Errorf("malformed quoted literal: %s", q)
			}
			out.WriteByte('\'')
			i++
			continue
		}
		out.WriteByte(inner[i])
	}
	return out.String(), nil
}
