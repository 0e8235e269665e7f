package catalog

import (
	"regexp"
	"strings"

	"metricgate/internal/domain"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Header noise that listing output mixes in with names. Lines starting with
// any of these are skipped.
var skipPrefixes = []string{
	"available", "name", "metric", "dimension", "looking",
	"found", "format", "list", "we've",
}

// timeSuffixes mark dimensions whose values are dates. The engine listing
// carries no type information, so types are inferred from naming convention.
var timeSuffixes = []string{"_date", "_day", "_ds", "_time", "_at"}

// ParseListing parses the semantic engine's `list metrics` and
// `list dimensions` output into catalog entries. The output format varies
// across engine versions (bullet lists, plain names, trailing commentary),
// so parsing is best-effort: anything that doesn't look like an identifier
// is dropped.
func ParseListing(metricsRaw, dimensionsRaw string) []domain.CatalogEntry {
	var entries []domain.CatalogEntry

	for _, name := range parseNames(metricsRaw) {
		entries = append(entries, domain.CatalogEntry{
			Name:       name,
			Kind:       domain.KindMetric,
			MetricType: domain.MetricSimple,
		})
	}

	for _, name := range parseNames(dimensionsRaw) {
		entries = append(entries, domain.CatalogEntry{
			Name:         name,
			Kind:         domain.KindDimension,
			SemanticType: inferDimensionType(name),
		})
	}

	return entries
}

func parseNames(raw string) []string {
	seen := make(map[string]bool)
	var names []string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || hasSkipPrefix(line) {
			continue
		}

		// Bullet lines: "• name: description" or "• name, name2 and 3 more"
		if idx := strings.LastIndex(line, "•"); idx >= 0 {
			line = strings.TrimSpace(line[idx+len("•"):])
		}

		name := line
		name = strings.SplitN(name, ":", 2)[0]
		name = strings.SplitN(name, ",", 2)[0]
		name = strings.SplitN(name, " and", 2)[0]
		fields := strings.Fields(name)
		if len(fields) == 0 {
			continue
		}
		name = fields[0]

		if len(name) < 2 || !identRe.MatchString(name) || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	return names
}

func hasSkipPrefix(line string) bool {
	lower := strings.ToLower(line)
	for _, p := range skipPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func inferDimensionType(name string) domain.SemanticType {
	for _, suffix := range timeSuffixes {
		if strings.HasSuffix(name, suffix) {
			return domain.TypeTime
		}
	}
	return domain.TypeCategorical
}
