package domain

import "encoding/json"

// Filter operators accepted in a plan. Range operators are only valid on
// time and numeric dimensions.
const (
	OpEq  = "="
	OpNeq = "!="
	OpLt  = "<"
	OpLte = "<="
	OpGt  = ">"
	OpGte = ">="
	OpIn  = "IN"
)

// Granularity is a time-rollup grain requested by the question. The engine
// always groups at its native day grain; coarser grains are applied after
// execution.
type Granularity string

const (
	GrainDay   Granularity = "day"
	GrainWeek  Granularity = "week"
	GrainMonth Granularity = "month"
	GrainYear  Granularity = "year"
)

// FilterClause is one structured filter from a plan. Value is a string for
// scalar operators and a []string (via JSON array) for IN.
type FilterClause struct {
	Dimension string      `json:"dimension"`
	Operator  string      `json:"op"`
	Value     FilterValue `json:"value"`
}

// FilterValue holds either a scalar or a list value. Exactly one side is set.
type FilterValue struct {
	Scalar string
	List   []string
	IsList bool
}

// UnmarshalJSON accepts both a JSON string and a JSON array of strings.
// Anything else is rejected — model output is never trusted.
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Scalar = s
		v.IsList = false
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	v.List = list
	v.IsList = true
	return nil
}

// MarshalJSON renders the value back in the shape it arrived in.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	if v.IsList {
		return json.Marshal(v.List)
	}
	return json.Marshal(v.Scalar)
}

// RawPlan is the untrusted candidate plan produced by the language model.
// Every field is optional until validated.
type RawPlan struct {
	Metrics         []string       `json:"metrics"`
	Dimensions      []string       `json:"dimensions"`
	Filters         []FilterClause `json:"filters"`
	TimeGranularity string         `json:"time_granularity,omitempty"`
	StartTime       string         `json:"start_time,omitempty"`
	EndTime         string         `json:"end_time,omitempty"`
	Limit           *int           `json:"limit,omitempty"`
}

// RollupDirective marks a validated plan for post-execution time rollup.
type RollupDirective struct {
	Grain Granularity `json:"grain"`
	// TimeColumn is the native time dimension whose values are re-bucketed.
	TimeColumn string `json:"time_column"`
}

// TopNDirective marks a validated plan for client-side extremum selection.
type TopNDirective struct {
	Metric    string `json:"metric"`
	Dimension string `json:"dimension"`
	N         int    `json:"n"`
	Ascending bool   `json:"ascending"`
}

// QueryPlan is a validated, normalized plan ready for compilation and
// execution. Every name is guaranteed to exist in the catalog with the
// right kind.
type QueryPlan struct {
	Metrics         []string         `json:"metrics"`
	Dimensions      []string         `json:"dimensions"`
	Filters         []FilterClause   `json:"filters,omitempty"`
	TimeGranularity Granularity      `json:"time_granularity,omitempty"`
	StartTime       string           `json:"start_time,omitempty"`
	EndTime         string           `json:"end_time,omitempty"`
	Limit           int              `json:"limit"`
	Rollup          *RollupDirective `json:"rollup,omitempty"`
	TopN            *TopNDirective   `json:"top_n,omitempty"`
}

// Explanation records what was actually executed versus what was asked, for
// audit. It always reflects the post-rewrite plan.
type Explanation struct {
	MetricsUsed       []string       `json:"metrics_used"`
	DimensionsUsed    []string       `json:"dimensions_used"`
	FiltersApplied    []FilterClause `json:"filters_applied"`
	TimeGrain         Granularity    `json:"time_grain,omitempty"`
	CompiledPredicate string         `json:"compiled_predicate,omitempty"`
	RowsDropped       int            `json:"rows_dropped,omitempty"`
}
