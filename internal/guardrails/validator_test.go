package guardrails

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricgate/internal/catalog"
	"metricgate/internal/domain"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]domain.CatalogEntry{
		{Name: "complaints", Kind: domain.KindMetric},
		{Name: "resolved_count", Kind: domain.KindMetric},
		{Name: "resolution_rate", Kind: domain.KindMetric, MetricType: domain.MetricRatio,
			Numerator: "resolved_count", Denominator: "complaints"},
		{Name: "ward", Kind: domain.KindDimension, SemanticType: domain.TypeCategorical},
		{Name: "status", Kind: domain.KindDimension, SemanticType: domain.TypeCategorical,
			KnownValues: []string{"OPEN", "IN_PROGRESS", "CLOSED"}},
		{Name: "channel", Kind: domain.KindDimension, SemanticType: domain.TypeCategorical},
		{Name: "created_date", Kind: domain.KindDimension, SemanticType: domain.TypeTime},
		{Name: "score", Kind: domain.KindDimension, SemanticType: domain.TypeNumeric},
	})
	require.NoError(t, err)
	return cat
}

func scalar(v string) domain.FilterValue {
	return domain.FilterValue{Scalar: v}
}

func list(vs ...string) domain.FilterValue {
	return domain.FilterValue{List: vs, IsList: true}
}

func TestValidatePlan_Valid(t *testing.T) {
	cat := testCatalog(t)

	plan, err := ValidatePlan(domain.RawPlan{
		Metrics:    []string{"complaints"},
		Dimensions: []string{"ward"},
		Filters: []domain.FilterClause{
			{Dimension: "status", Operator: "=", Value: scalar("OPEN")},
		},
	}, cat, DefaultLimits)
	require.NoError(t, err)

	assert.Equal(t, []string{"complaints"}, plan.Metrics)
	assert.Equal(t, 200, plan.Limit)
	// The engine requires filter dimensions in the group-by list.
	assert.Equal(t, []string{"ward", "status"}, plan.Dimensions)
}

func TestValidatePlan_CollectsAllProblems(t *testing.T) {
	cat := testCatalog(t)
	badLimit := 5000

	_, err := ValidatePlan(domain.RawPlan{
		Metrics:    []string{"nope", "ward"},
		Dimensions: []string{"complaints", "unknown_dim"},
		Limit:      &badLimit,
		Filters: []domain.FilterClause{
			{Dimension: "bogus", Operator: "=", Value: scalar("x")},
		},
	}, cat, DefaultLimits)
	require.Error(t, err)

	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Problems, 6)
	assert.Contains(t, vErr.Problems, "metric not allowed: nope")
	assert.Contains(t, vErr.Problems, "filter 0: dimension not allowed: bogus")
	assert.Contains(t, vErr.Problems, `"ward" is a dimension, not a metric`)
	assert.Contains(t, vErr.Problems, `"complaints" is a metric, not a dimension`)
	assert.Contains(t, vErr.Problems, "dimension not allowed: unknown_dim")
	assert.Contains(t, vErr.Problems, "limit 5000 outside [1,1000]")
}

func TestValidatePlan_EmptyMetrics(t *testing.T) {
	cat := testCatalog(t)

	_, err := ValidatePlan(domain.RawPlan{}, cat, DefaultLimits)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Problems, "at least one metric is required")
}

func TestValidatePlan_Limits(t *testing.T) {
	cat := testCatalog(t)

	t.Run("missing_limit_uses_default", func(t *testing.T) {
		plan, err := ValidatePlan(domain.RawPlan{Metrics: []string{"complaints"}}, cat, DefaultLimits)
		require.NoError(t, err)
		assert.Equal(t, 200, plan.Limit)
	})

	t.Run("explicit_limit_kept", func(t *testing.T) {
		limit := 10
		plan, err := ValidatePlan(domain.RawPlan{Metrics: []string{"complaints"}, Limit: &limit}, cat, DefaultLimits)
		require.NoError(t, err)
		assert.Equal(t, 10, plan.Limit)
	})

	t.Run("zero_limit_rejected", func(t *testing.T) {
		limit := 0
		_, err := ValidatePlan(domain.RawPlan{Metrics: []string{"complaints"}, Limit: &limit}, cat, DefaultLimits)
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Problems, "limit 0 outside [1,1000]")
	})
}

func TestValidatePlan_OperatorTypeRules(t *testing.T) {
	cat := testCatalog(t)

	tests := []struct {
		name    string
		filter  domain.FilterClause
		wantErr string
	}{
		{
			name:   "equality_on_categorical",
			filter: domain.FilterClause{Dimension: "ward", Operator: "=", Value: scalar("A")},
		},
		{
			name:   "in_on_categorical",
			filter: domain.FilterClause{Dimension: "ward", Operator: "IN", Value: list("A", "B")},
		},
		{
			name:    "range_on_categorical_rejected",
			filter:  domain.FilterClause{Dimension: "ward", Operator: ">", Value: scalar("A")},
			wantErr: `operator ">" not valid for categorical dimension ward`,
		},
		{
			name:   "range_on_time",
			filter: domain.FilterClause{Dimension: "created_date", Operator: ">=", Value: scalar("2024-01-01")},
		},
		{
			name:   "range_on_numeric",
			filter: domain.FilterClause{Dimension: "score", Operator: "<", Value: scalar("5")},
		},
		{
			name:    "in_with_scalar_rejected",
			filter:  domain.FilterClause{Dimension: "ward", Operator: "IN", Value: scalar("A")},
			wantErr: "IN requires a list value",
		},
		{
			name:    "scalar_op_with_list_rejected",
			filter:  domain.FilterClause{Dimension: "ward", Operator: "=", Value: list("A", "B")},
			wantErr: `operator "=" requires a scalar value`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidatePlan(domain.RawPlan{
				Metrics: []string{"complaints"},
				Filters: []domain.FilterClause{tt.filter},
			}, cat, DefaultLimits)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			require.Len(t, vErr.Problems, 1)
			assert.Contains(t, vErr.Problems[0], tt.wantErr)
		})
	}
}

func TestValidatePlan_NormalizesKnownValues(t *testing.T) {
	cat := testCatalog(t)

	plan, err := ValidatePlan(domain.RawPlan{
		Metrics: []string{"complaints"},
		Filters: []domain.FilterClause{
			{Dimension: "status", Operator: "!=", Value: scalar("Closed")},
			{Dimension: "status", Operator: "IN", Value: list("open", "in_progress")},
		},
	}, cat, DefaultLimits)
	require.NoError(t, err)

	assert.Equal(t, "CLOSED", plan.Filters[0].Value.Scalar)
	assert.Equal(t, []string{"OPEN", "IN_PROGRESS"}, plan.Filters[1].Value.List)
}

func TestValidatePlan_UnknownValuePassesThrough(t *testing.T) {
	cat := testCatalog(t)

	plan, err := ValidatePlan(domain.RawPlan{
		Metrics: []string{"complaints"},
		Filters: []domain.FilterClause{
			{Dimension: "status", Operator: "=", Value: scalar("escalated")},
		},
	}, cat, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, "escalated", plan.Filters[0].Value.Scalar)
}

func TestValidatePlan_Granularity(t *testing.T) {
	cat := testCatalog(t)

	t.Run("known_grain", func(t *testing.T) {
		plan, err := ValidatePlan(domain.RawPlan{
			Metrics:         []string{"complaints"},
			TimeGranularity: "Monthly",
		}, cat, DefaultLimits)
		require.NoError(t, err)
		assert.Equal(t, domain.GrainMonth, plan.TimeGranularity)
	})

	t.Run("unknown_grain_rejected", func(t *testing.T) {
		_, err := ValidatePlan(domain.RawPlan{
			Metrics:         []string{"complaints"},
			TimeGranularity: "fortnight",
		}, cat, DefaultLimits)
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Problems, `unknown time granularity "fortnight"`)
	})
}

func TestValidatePlan_DedupesNames(t *testing.T) {
	cat := testCatalog(t)

	plan, err := ValidatePlan(domain.RawPlan{
		Metrics:    []string{"complaints", "complaints", " complaints "},
		Dimensions: []string{"ward", "ward"},
	}, cat, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, []string{"complaints"}, plan.Metrics)
	assert.Equal(t, []string{"ward"}, plan.Dimensions)
}

func TestValidatePlan_FilterDimsAppendedSorted(t *testing.T) {
	cat := testCatalog(t)

	plan, err := ValidatePlan(domain.RawPlan{
		Metrics: []string{"complaints"},
		Filters: []domain.FilterClause{
			{Dimension: "ward", Operator: "=", Value: scalar("A")},
			{Dimension: "channel", Operator: "=", Value: scalar("web")},
		},
	}, cat, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, []string{"channel", "ward"}, plan.Dimensions)
}

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Granularity
		ok   bool
	}{
		{"day", domain.GrainDay, true},
		{"Daily", domain.GrainDay, true},
		{"week", domain.GrainWeek, true},
		{"monthly", domain.GrainMonth, true},
		{"annual", domain.GrainYear, true},
		{" year ", domain.GrainYear, true},
		{"fortnight", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		g, ok := ParseGranularity(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, g, tt.in)
	}
}
