// Package postprocess applies the client-side half of rewritten plans:
// time-grain rollups and top-N ranking over engine rows, plus the
// explanation object that records what was actually executed.
package postprocess

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"metricgate/internal/catalog"
	"metricgate/internal/domain"
	"metricgate/internal/engine"
)

// Apply runs the post-execution stages a plan was flagged for and returns
// the final result plus the number of rows dropped by top-N truncation.
// Plans without directives pass through untouched.
func Apply(res *engine.Result, plan domain.QueryPlan, cat *catalog.Catalog) (*engine.Result, int, error) {
	out := res
	if plan.Rollup != nil {
		rolled, err := rollup(out, plan, cat)
		if err != nil {
			return nil, 0, fmt.Errorf("time rollup: %w", err)
		}
		out = rolled
	}

	dropped := 0
	if plan.TopN != nil {
		ranked, d, err := rankTopN(out, plan, cat)
		if err != nil {
			return nil, 0, fmt.Errorf("top-n ranking: %w", err)
		}
		out = ranked
		dropped = d
	}

	return out, dropped, nil
}

// BuildExplanation assembles the audit record for the post-rewrite plan.
func BuildExplanation(plan domain.QueryPlan, predicate string, dropped int) domain.Explanation {
	return domain.Explanation{
		MetricsUsed:       append([]string(nil), plan.Metrics...),
		DimensionsUsed:    append([]string(nil), plan.Dimensions...),
		FiltersApplied:    append([]domain.FilterClause(nil), plan.Filters...),
		TimeGrain:         plan.TimeGranularity,
		CompiledPredicate: predicate,
		RowsDropped:       dropped,
	}
}

// group accumulates measures for one output row.
type group struct {
	key    string
	values []string // non-measure column values, bucketed
	sums   map[string]float64
}

// rollup re-buckets rows by the coarser period derived from the native time
// column, summing plain metrics and re-deriving ratio metrics from their
// summed components. Pre-computed ratios are never averaged.
func rollup(res *engine.Result, plan domain.QueryPlan, cat *catalog.Catalog) (*engine.Result, error) {
	dir := plan.Rollup
	timeIdx := columnIndex(res.Columns, dir.TimeColumn)
	if timeIdx < 0 {
		return nil, fmt.Errorf("time column %q not in result", dir.TimeColumn)
	}

	measures := measureColumns(res.Columns, plan, cat)

	ordered, byKey, err := regroup(res, measures, func(colIdx int, v string) (string, error) {
		if colIdx != timeIdx {
			return v, nil
		}
		return bucketTime(v, dir.Grain)
	})
	if err != nil {
		return nil, err
	}

	rows, err := renderGroups(res.Columns, ordered, byKey, measures, cat)
	if err != nil {
		return nil, err
	}

	return &engine.Result{
		Columns:    res.Columns,
		Rows:       rows,
		Returncode: res.Returncode,
		RawOutput:  res.RawOutput,
		Duration:   res.Duration,
	}, nil
}

// rankTopN collapses rows onto the target dimension (aggregating every other
// grouping column away), sorts by the requested metric, and truncates to N.
// Ties keep the engine's output order: the sort is stable and groups are
// created in first-seen order.
func rankTopN(res *engine.Result, plan domain.QueryPlan, cat *catalog.Catalog) (*engine.Result, int, error) {
	dir := plan.TopN
	dimIdx := columnIndex(res.Columns, dir.Dimension)
	if dimIdx < 0 {
		return nil, 0, fmt.Errorf("dimension %q not in result", dir.Dimension)
	}

	measures := measureColumns(res.Columns, plan, cat)
	if !measures[dir.Metric] {
		return nil, 0, fmt.Errorf("metric %q not in result", dir.Metric)
	}

	// Collapse onto the dimension: every non-measure column except the
	// target dimension is dropped from the key so filter dimensions are
	// aggregated away.
	outCols := []string{dir.Dimension}
	for _, c := range res.Columns {
		if measures[c] {
			outCols = append(outCols, c)
		}
	}

	collapsed := &engine.Result{Columns: outCols}
	for _, row := range res.Rows {
		outRow := make([]string, 0, len(outCols))
		outRow = append(outRow, row[dimIdx])
		for i, c := range res.Columns {
			if measures[c] {
				outRow = append(outRow, row[i])
			}
		}
		collapsed.Rows = append(collapsed.Rows, outRow)
	}

	ordered, byKey, err := regroup(collapsed, measures, func(_ int, v string) (string, error) { return v, nil })
	if err != nil {
		return nil, 0, err
	}

	rows, err := renderGroups(collapsed.Columns, ordered, byKey, measures, cat)
	if err != nil {
		return nil, 0, err
	}

	metricIdx := columnIndex(collapsed.Columns, dir.Metric)
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := strconv.ParseFloat(rows[i][metricIdx], 64)
		b, _ := strconv.ParseFloat(rows[j][metricIdx], 64)
		if dir.Ascending {
			return a < b
		}
		return a > b
	})

	dropped := 0
	if len(rows) > dir.N {
		dropped = len(rows) - dir.N
		rows = rows[:dir.N]
	}

	return &engine.Result{
		Columns:    collapsed.Columns,
		Rows:       rows,
		Returncode: res.Returncode,
		RawOutput:  res.RawOutput,
		Duration:   res.Duration,
	}, dropped, nil
}

// regroup buckets rows by their non-measure columns (transformed by mapKey)
// and accumulates measure sums. Group order is first-seen.
func regroup(res *engine.Result, measures map[string]bool, mapKey func(colIdx int, v string) (string, error)) ([]string, map[string]*group, error) {
	var ordered []string
	byKey := make(map[string]*group)

	for _, row := range res.Rows {
		keyParts := make([]string, 0, len(res.Columns))
		values := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			if measures[col] {
				continue
			}
			v, err := mapKey(i, row[i])
			if err != nil {
				return nil, nil, err
			}
			keyParts = append(keyParts, v)
			values[i] = v
		}
		key := joinKey(keyParts)

		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, values: values, sums: make(map[string]float64)}
			byKey[key] = g
			ordered = append(ordered, key)
		}
		for i, col := range res.Columns {
			if !measures[col] {
				continue
			}
			n, err := strconv.ParseFloat(row[i], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("measure %s value %q is not numeric", col, row[i])
			}
			g.sums[col] += n
		}
	}

	return ordered, byKey, nil
}

// renderGroups materializes accumulated groups back into rows, re-deriving
// ratio metrics from summed numerator/denominator columns when both are
// present in the result.
func renderGroups(columns []string, ordered []string, byKey map[string]*group, measures map[string]bool, cat *catalog.Catalog) ([][]string, error) {
	rows := make([][]string, 0, len(ordered))
	for _, key := range ordered {
		g := byKey[key]
		row := make([]string, len(columns))
		for i, col := range columns {
			if !measures[col] {
				row[i] = g.values[i]
				continue
			}
			v := g.sums[col]
			if entry, ok := cat.Metric(col); ok && entry.MetricType == domain.MetricRatio {
				num, okN := g.sums[entry.Numerator]
				den, okD := g.sums[entry.Denominator]
				if okN && okD {
					if den == 0 {
						v = 0
					} else {
						v = num / den
					}
				}
			}
			row[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// measureColumns marks every result column that should be summed: the plan's
// metrics plus any ratio components they depend on.
func measureColumns(columns []string, plan domain.QueryPlan, cat *catalog.Catalog) map[string]bool {
	measures := make(map[string]bool)
	for _, m := range plan.Metrics {
		measures[m] = true
		if entry, ok := cat.Metric(m); ok && entry.MetricType == domain.MetricRatio {
			if entry.Numerator != "" {
				measures[entry.Numerator] = true
			}
			if entry.Denominator != "" {
				measures[entry.Denominator] = true
			}
		}
	}
	present := make(map[string]bool)
	for _, c := range columns {
		if measures[c] {
			present[c] = true
		}
	}
	return present
}

var timeLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

// bucketTime truncates a day-grain time value to the requested coarser
// period. Weeks bucket to the ISO week's Monday.
func bucketTime(v string, grain domain.Granularity) (string, error) {
	var t time.Time
	var err error
	for _, layout := range timeLayouts {
		t, err = time.Parse(layout, v)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("time value %q: %w", v, err)
	}

	switch grain {
	case domain.GrainDay:
		return t.Format("2006-01-02"), nil
	case domain.GrainWeek:
		// Monday of the ISO week.
		offset := (int(t.Weekday()) + 6) % 7
		return t.AddDate(0, 0, -offset).Format("2006-01-02"), nil
	case domain.GrainMonth:
		return t.Format("2006-01"), nil
	case domain.GrainYear:
		return t.Format("2006"), nil
	}
	return "", fmt.Errorf("unknown grain %q", grain)
}

func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

func joinKey(parts []string) string {
	key := ""
	for _, p := range parts {
		key += p + "\x1f"
	}
	return key
}
