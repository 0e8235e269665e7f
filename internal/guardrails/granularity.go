package guardrails

import (
	"regexp"
	"strings"

	"metricgate/internal/catalog"
	"metricgate/internal/domain"
)

// grainTokens maps question phrasing to a rollup grain. Bare "month"/"year"
// are deliberately absent: "last month" is a time range, not a grain.
var grainTokens = []struct {
	token string
	grain domain.Granularity
}{
	{"daily", domain.GrainDay},
	{"per day", domain.GrainDay},
	{"by day", domain.GrainDay},
	{"each day", domain.GrainDay},
	{"weekly", domain.GrainWeek},
	{"per week", domain.GrainWeek},
	{"by week", domain.GrainWeek},
	{"each week", domain.GrainWeek},
	{"monthly", domain.GrainMonth},
	{"per month", domain.GrainMonth},
	{"by month", domain.GrainMonth},
	{"each month", domain.GrainMonth},
	{"month over month", domain.GrainMonth},
	{"yearly", domain.GrainYear},
	{"annually", domain.GrainYear},
	{"per year", domain.GrainYear},
	{"by year", domain.GrainYear},
	{"each year", domain.GrainYear},
	{"year over year", domain.GrainYear},
}

// "last N <unit>s" implies the answer should be bucketed per unit.
var lastNRe = regexp.MustCompile(`last\s+\d+\s+(day|week|month|year)s?`)

// DetectTimeGranularity scans the question for granularity tokens and, when a
// grain coarser than the engine's native day grain is requested, marks the
// plan for post-execution rollup. The engine is never asked to aggregate at
// the coarser grain itself — the underlying data only supports day-level
// grouping. Pure function: the input plan is not mutated.
func DetectTimeGranularity(plan domain.QueryPlan, question string, cat *catalog.Catalog) (domain.QueryPlan, bool) {
	grain, found := grainFromQuestion(question)
	if !found {
		if plan.TimeGranularity == "" {
			return plan, false
		}
		// The model set a granularity even though the question has no
		// recognizable token; honor it the same way.
		grain = plan.TimeGranularity
	}

	plan.TimeGranularity = grain
	if grain == domain.GrainDay {
		// Native grain, nothing to roll up.
		return plan, true
	}

	timeCol := firstTimeDimension(plan.Dimensions, cat)
	if timeCol == "" {
		// No time column in the group-by: the grain is bookkeeping only.
		return plan, true
	}

	plan.Rollup = &domain.RollupDirective{Grain: grain, TimeColumn: timeCol}
	return plan, true
}

func grainFromQuestion(question string) (domain.Granularity, bool) {
	q := strings.ToLower(question)
	for _, t := range grainTokens {
		if strings.Contains(q, t.token) {
			return t.grain, true
		}
	}
	if m := lastNRe.FindStringSubmatch(q); m != nil {
		g, ok := ParseGranularity(m[1])
		return g, ok
	}
	return "", false
}

func firstTimeDimension(dimensions []string, cat *catalog.Catalog) string {
	for _, d := range dimensions {
		if entry, ok := cat.Dimension(d); ok && entry.SemanticType == domain.TypeTime {
			return d
		}
	}
	return ""
}
