package guardrails

import (
	"regexp"
	"strconv"
	"strings"

	"metricgate/internal/catalog"
	"metricgate/internal/domain"
)

// Extremal question shapes: "which ward has the most complaints",
// "what channel had the least sales", "top 5 wards by complaints".
var (
	extremalRe = regexp.MustCompile(
		`(?i)\b(?:which|what)\s+([a-z0-9_ ]+?)\s+(?:has|have|had|gets|got|receives|received)\s+the\s+(most|least|highest|lowest|fewest)\s+([a-z0-9_ ]+)`)
	topNRe = regexp.MustCompile(
		`(?i)\btop\s+(\d+)\s+([a-z0-9_ ]+?)\s+by\s+([a-z0-9_ ]+)`)
)

var ascendingWords = map[string]bool{"least": true, "lowest": true, "fewest": true}

// DetectTopN recognizes extremal ("which X has the most Y") questions and
// rewrites the plan to group by the named dimension, flagging it for
// client-side ranking. The engine is queried for all grouped rows: grouped
// aggregates subject to filters must be computed per group by the engine
// before the extremum is selected, so ranking and truncation happen after
// retrieval, never via an engine-side ORDER BY/LIMIT. Pure function.
func DetectTopN(plan domain.QueryPlan, question string, cat *catalog.Catalog) (domain.QueryPlan, bool) {
	dimPhrase, metricPhrase, n, ascending, matched := matchExtremal(question)
	if !matched {
		return plan, false
	}

	dimension := resolveDimension(dimPhrase, cat)
	if dimension == "" {
		return plan, false
	}
	metric := resolveMetric(metricPhrase, plan.Metrics, cat)
	if metric == "" {
		return plan, false
	}

	// Group by the target dimension. Filter dimensions stay in the group-by
	// (the engine requires them); the post-processor aggregates them away.
	dims := []string{dimension}
	for _, f := range plan.Filters {
		if f.Dimension != dimension {
			dims = appendUnique(dims, f.Dimension)
		}
	}
	plan.Dimensions = dims

	if !containsString(plan.Metrics, metric) {
		plan.Metrics = append(plan.Metrics, metric)
	}

	plan.TopN = &domain.TopNDirective{
		Metric:    metric,
		Dimension: dimension,
		N:         n,
		Ascending: ascending,
	}
	return plan, true
}

func matchExtremal(question string) (dimPhrase, metricPhrase string, n int, ascending, matched bool) {
	if m := extremalRe.FindStringSubmatch(question); m != nil {
		return m[1], m[3], 1, ascendingWords[strings.ToLower(m[2])], true
	}
	if m := topNRe.FindStringSubmatch(question); m != nil {
		count, err := strconv.Atoi(m[1])
		if err != nil || count < 1 {
			return "", "", 0, false, false
		}
		return m[2], m[3], count, false, true
	}
	return "", "", 0, false, false
}

// resolveDimension maps a question phrase like "ward" to a catalog dimension
// like "pgr__ward_id" by token containment. The shortest matching name wins
// so "ward" prefers "ward" over "ward_group".
func resolveDimension(phrase string, cat *catalog.Catalog) string {
	best := ""
	for _, token := range phraseTokens(phrase) {
		for _, name := range cat.DimensionNames() {
			if !nameMatchesToken(name, token) {
				continue
			}
			if best == "" || len(name) < len(best) {
				best = name
			}
		}
		if best != "" {
			return best
		}
	}
	return ""
}

// resolveMetric prefers metrics already selected by the plan, then falls
// back to the full catalog.
func resolveMetric(phrase string, planMetrics []string, cat *catalog.Catalog) string {
	tokens := phraseTokens(phrase)
	for _, token := range tokens {
		for _, m := range planMetrics {
			if nameMatchesToken(m, token) {
				return m
			}
		}
	}
	for _, token := range tokens {
		best := ""
		for _, name := range cat.MetricNames() {
			if !nameMatchesToken(name, token) {
				continue
			}
			if best == "" || len(name) < len(best) {
				best = name
			}
		}
		if best != "" {
			return best
		}
	}
	if len(planMetrics) == 1 {
		// Unambiguous: the plan already names exactly one metric.
		return planMetrics[0]
	}
	return ""
}

// phraseTokens splits a phrase into candidate tokens, longest first, with
// trivial words and plural endings stripped.
func phraseTokens(phrase string) []string {
	stop := map[string]bool{"the": true, "a": true, "an": true, "of": true, "that": true, "are": true, "is": true, "not": true}
	var tokens []string
	for _, w := range strings.Fields(strings.ToLower(strings.TrimSpace(phrase))) {
		w = strings.Trim(w, ",.?!")
		if w == "" || stop[w] {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

func nameMatchesToken(name, token string) bool {
	name = strings.ToLower(name)
	singular := strings.TrimSuffix(token, "s")
	return strings.Contains(name, token) || (singular != "" && strings.Contains(name, singular))
}

func appendUnique(list []string, v string) []string {
	if containsString(list, v) {
		return list
	}
	return append(list, v)
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
